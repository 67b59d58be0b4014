package models

import "encoding/json"

// UserInfo describes the person talking to the chatbot. It is sent with every
// match request both inside session_info and as the top-level user_data.
type UserInfo struct {
	UserID    string     `json:"user_id"`
	Age       int        `json:"age"`
	Gender    Gender     `json:"gender"`
	Location  string     `json:"location"` // ISO 3166-1 alpha-2, e.g. "US"
	Language  string     `json:"language"` // ISO 639-1, e.g. "en"
	Interests []Interest `json:"interests"`
}

// Validate checks every UserInfo constraint and returns ValidationErrors when
// at least one field is invalid.
func (u UserInfo) Validate() error {
	var errs ValidationErrors
	if u.UserID == "" {
		errs.add("user_id", "must not be empty")
	}
	if u.Age < 0 {
		errs.add("age", "must not be negative")
	}
	if !u.Gender.Valid() {
		errs.add("gender", "unknown gender "+quote(string(u.Gender)))
	}
	if !IsCountryCode(u.Location) {
		errs.add("location", quote(u.Location)+" is not a valid country code")
	}
	if !IsLanguageCode(u.Language) {
		errs.add("language", quote(u.Language)+" is not a valid language code")
	}
	for _, i := range u.Interests {
		if !i.Valid() {
			errs.add("interests", "unknown interest "+quote(string(i)))
		}
	}
	return errs.orNil()
}

// Platform identifies the chatbot product integrating the SDK.
type Platform struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Validate requires both name and version.
func (p Platform) Validate() error {
	var errs ValidationErrors
	if p.Name == "" {
		errs.add("name", "must not be empty")
	}
	if p.Version == "" {
		errs.add("version", "must not be empty")
	}
	return errs.orNil()
}

// SessionInfo carries the conversation-level metadata sent with each request.
type SessionInfo struct {
	SessionID     string `json:"session_id"`
	CharacterName string `json:"character_name"`
	// CharacterMetadata is free-form data about the assistant persona.
	// A nil map is sent as {"description": ""}.
	CharacterMetadata map[string]any `json:"character_metadata"`
	UserInfo          UserInfo       `json:"user_info"`
	Platform          Platform       `json:"platform"`
}

// DefaultCharacterMetadata returns the metadata used when none is supplied.
func DefaultCharacterMetadata() map[string]any {
	return map[string]any{"description": ""}
}

// Validate checks the session and its nested records.
func (s SessionInfo) Validate() error {
	var errs ValidationErrors
	if s.SessionID == "" {
		errs.add("session_id", "must not be empty")
	}
	if s.CharacterName == "" {
		errs.add("character_name", "must not be empty")
	}
	errs.merge("user_info", s.UserInfo.Validate())
	errs.merge("platform", s.Platform.Validate())
	return errs.orNil()
}

// MarshalJSON fills in the default character metadata.
func (s SessionInfo) MarshalJSON() ([]byte, error) {
	type alias SessionInfo
	a := alias(s)
	if a.CharacterMetadata == nil {
		a.CharacterMetadata = DefaultCharacterMetadata()
	}
	if a.UserInfo.Interests == nil {
		a.UserInfo.Interests = []Interest{}
	}
	return json.Marshal(a)
}

func quote(s string) string {
	return "\"" + s + "\""
}
