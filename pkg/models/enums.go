package models

import (
	"fmt"
	"strings"
)

// Gender is the self-reported gender of the chatbot user.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// Valid reports whether g is one of the genders accepted by the match API.
func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}

// ParseGender converts s into a Gender. Matching is case-insensitive.
func ParseGender(s string) (Gender, error) {
	g := Gender(strings.ToLower(strings.TrimSpace(s)))
	if !g.Valid() {
		return "", fmt.Errorf("unknown gender %q", s)
	}
	return g, nil
}

// Role identifies who authored a conversation message.
type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAI
}

// ParseRole converts s into a Role. Matching is case-insensitive.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Interest is a coarse interest category used for ad targeting.
type Interest string

const (
	InterestFlirting   Interest = "flirting"
	InterestGaming     Interest = "gaming"
	InterestSports     Interest = "sports"
	InterestMusic      Interest = "music"
	InterestTravel     Interest = "travel"
	InterestTechnology Interest = "technology"
	InterestArt        Interest = "art"
	InterestCooking    Interest = "cooking"
	// InterestAll opts the user into every category.
	InterestAll Interest = "all"
)

var knownInterests = map[Interest]struct{}{
	InterestFlirting:   {},
	InterestGaming:     {},
	InterestSports:     {},
	InterestMusic:      {},
	InterestTravel:     {},
	InterestTechnology: {},
	InterestArt:        {},
	InterestCooking:    {},
	InterestAll:        {},
}

// Valid reports whether i is a known interest category.
func (i Interest) Valid() bool {
	_, ok := knownInterests[i]
	return ok
}

// ParseInterest converts s into an Interest. Matching is case-insensitive.
func ParseInterest(s string) (Interest, error) {
	i := Interest(strings.ToLower(strings.TrimSpace(s)))
	if !i.Valid() {
		return "", fmt.Errorf("unknown interest %q", s)
	}
	return i, nil
}

// ParseInterests converts a list of strings, failing on the first unknown value.
func ParseInterests(values []string) ([]Interest, error) {
	out := make([]Interest, 0, len(values))
	for _, v := range values {
		i, err := ParseInterest(v)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, nil
}
