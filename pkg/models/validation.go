package models

import (
	"strings"

	"golang.org/x/text/language"
)

// FieldError describes a single invalid field. Field uses the JSON path of the
// offending value, e.g. "user_info.location".
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Reason
}

// ValidationErrors collects every invalid field found in a record.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(v))
	for i, fe := range v {
		parts[i] = fe.Error()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// add appends an error for field with the given reason.
func (v *ValidationErrors) add(field, reason string) {
	*v = append(*v, FieldError{Field: field, Reason: reason})
}

// merge appends errs with each field name prefixed.
func (v *ValidationErrors) merge(prefix string, err error) {
	if err == nil {
		return
	}
	if errs, ok := err.(ValidationErrors); ok {
		for _, fe := range errs {
			v.add(prefix+"."+fe.Field, fe.Reason)
		}
		return
	}
	v.add(prefix, err.Error())
}

// orNil returns nil when no errors were collected so callers can return the
// result directly as an error.
func (v ValidationErrors) orNil() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

// IsCountryCode reports whether code is a currently assigned ISO 3166-1
// alpha-2 country code such as "US". Reserved and withdrawn codes like "UK"
// or "YU" are rejected.
func IsCountryCode(code string) bool {
	if len(code) != 2 || strings.ToUpper(code) != code {
		return false
	}
	_, ok := iso3166Alpha2[code]
	return ok
}

// IsLanguageCode reports whether code is a lower-case ISO 639-1 language code
// such as "en". Deprecated codes that canonicalize to another value are rejected.
func IsLanguageCode(code string) bool {
	if len(code) != 2 || strings.ToLower(code) != code {
		return false
	}
	tag, err := language.Parse(code)
	if err != nil {
		return false
	}
	base, _ := tag.Base()
	return base.String() == code
}

var iso3166Alpha2 = func() map[string]struct{} {
	codes := strings.Fields(`
		AD AE AF AG AI AL AM AO AQ AR AS AT AU AW AX AZ
		BA BB BD BE BF BG BH BI BJ BL BM BN BO BQ BR BS BT BV BW BY BZ
		CA CC CD CF CG CH CI CK CL CM CN CO CR CU CV CW CX CY CZ
		DE DJ DK DM DO DZ
		EC EE EG EH ER ES ET
		FI FJ FK FM FO FR
		GA GB GD GE GF GG GH GI GL GM GN GP GQ GR GS GT GU GW GY
		HK HM HN HR HT HU
		ID IE IL IM IN IO IQ IR IS IT
		JE JM JO JP
		KE KG KH KI KM KN KP KR KW KY KZ
		LA LB LC LI LK LR LS LT LU LV LY
		MA MC MD ME MF MG MH MK ML MM MN MO MP MQ MR MS MT MU MV MW MX MY MZ
		NA NC NE NF NG NI NL NO NP NR NU NZ
		OM
		PA PE PF PG PH PK PL PM PN PR PS PT PW PY
		QA
		RE RO RS RU RW
		SA SB SC SD SE SG SH SI SJ SK SL SM SN SO SR SS ST SV SX SY SZ
		TC TD TF TG TH TJ TK TL TM TN TO TR TT TV TW TZ
		UA UG UM US UY UZ
		VA VC VE VG VI VN VU
		WF WS
		YE YT
		ZA ZM ZW`)
	m := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		m[c] = struct{}{}
	}
	return m
}()
