package models

import (
	"encoding/json"
	"strconv"
)

// Ad is an advertisement returned by the match endpoint. PlacementTemplate is a
// suggested phrasing the assistant can use to introduce the product.
type Ad struct {
	Idx               int    `json:"idx"`
	AdTitle           string `json:"ad_title"`
	AdDescription     string `json:"ad_description"`
	PlacementTemplate string `json:"placement_template"`
	Link              string `json:"link"`
}

// UnmarshalJSON rejects ads missing any of their fields.
func (a *Ad) UnmarshalJSON(data []byte) error {
	var raw struct {
		Idx               *int    `json:"idx"`
		AdTitle           *string `json:"ad_title"`
		AdDescription     *string `json:"ad_description"`
		PlacementTemplate *string `json:"placement_template"`
		Link              *string `json:"link"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var errs ValidationErrors
	if raw.Idx == nil {
		errs.add("idx", "missing")
	}
	if raw.AdTitle == nil {
		errs.add("ad_title", "missing")
	}
	if raw.AdDescription == nil {
		errs.add("ad_description", "missing")
	}
	if raw.PlacementTemplate == nil {
		errs.add("placement_template", "missing")
	}
	if raw.Link == nil {
		errs.add("link", "missing")
	}
	if len(errs) > 0 {
		return errs
	}

	*a = Ad{
		Idx:               *raw.Idx,
		AdTitle:           *raw.AdTitle,
		AdDescription:     *raw.AdDescription,
		PlacementTemplate: *raw.PlacementTemplate,
		Link:              *raw.Link,
	}
	return nil
}

// Fields returns the ad keyed by wire name, for template substitution.
func (a Ad) Fields() map[string]string {
	return map[string]string{
		"idx":                strconv.Itoa(a.Idx),
		"ad_title":           a.AdTitle,
		"ad_description":     a.AdDescription,
		"placement_template": a.PlacementTemplate,
		"link":               a.Link,
	}
}

// AdResponse is the body returned by the match endpoint.
type AdResponse struct {
	Ads []Ad `json:"ads"`
}

// First returns the first ad, or nil when the response carried none.
func (r AdResponse) First() *Ad {
	if len(r.Ads) == 0 {
		return nil
	}
	ad := r.Ads[0]
	return &ad
}
