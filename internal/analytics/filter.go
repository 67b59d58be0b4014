package analytics

import (
	"fmt"
	"strings"
	"time"
)

var knownEvents = map[string]struct{}{
	EventFetched:     {},
	EventNoAd:        {},
	EventError:       {},
	EventRateLimited: {},
	EventDropped:     {},
	EventShown:       {},
}

// EventFilter narrows an events query. Zero values match everything.
type EventFilter struct {
	Types []string
	Since time.Time
}

// ParseEventTypes splits a comma separated list of event types and rejects
// unknown ones.
func ParseEventTypes(list string) ([]string, error) {
	var types []string
	for _, part := range strings.Split(list, ",") {
		t := strings.TrimSpace(part)
		if t == "" {
			continue
		}
		if _, ok := knownEvents[t]; !ok {
			return nil, fmt.Errorf("unknown event type %q", t)
		}
		types = append(types, t)
	}
	return types, nil
}

// where returns the SQL conditions for the filter, to be ANDed after the
// session match, together with their arguments.
func (f EventFilter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if len(f.Types) > 0 {
		conds = append(conds, "event_type IN (?"+strings.Repeat(",?", len(f.Types)-1)+")")
		for _, t := range f.Types {
			args = append(args, t)
		}
	}
	if !f.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, f.Since)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(conds, " AND "), args
}
