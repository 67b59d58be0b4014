package models

import (
	"errors"
	"time"
)

// Message is a single conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Timestamp is UTC seconds since the Unix epoch with sub-second precision.
	Timestamp float64 `json:"timestamp"`
}

// NewMessage builds a message stamped with now.
func NewMessage(role Role, content string, now time.Time) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: float64(now.UTC().UnixNano()) / float64(time.Second),
	}
}

// Time converts the message timestamp back to a time.Time in UTC.
func (m Message) Time() time.Time {
	sec := int64(m.Timestamp)
	nsec := int64((m.Timestamp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}

// Validate requires a known role. Empty content is allowed.
func (m Message) Validate() error {
	if !m.Role.Valid() {
		return errors.New("role: unknown role " + quote(string(m.Role)))
	}
	return nil
}
