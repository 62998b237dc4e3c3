package config

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// BusinessRules mirrors business-rules.json: the numeric knobs that aren't
// menu structure (amount limits, PIN policy) and so don't belong in a Node.
// The gateway parses the file at startup only to reject a malformed one;
// the action modules and input validators do not read these values and
// apply their own built-in limits instead.
type BusinessRules struct {
	AirtimeMinAmount float64 `json:"airtimeMinAmount"`
	AirtimeMaxAmount float64 `json:"airtimeMaxAmount"`
	AirtimeDailyCap  float64 `json:"airtimeDailyCap"`
	PINMinLength     int     `json:"pinMinLength"`
	PINMaxLength     int     `json:"pinMaxLength"`
}

// DefaultBusinessRules returns the §4.6-documented defaults, used when no
// business-rules.json is present.
func DefaultBusinessRules() BusinessRules {
	return BusinessRules{
		AirtimeMinAmount: 10,
		AirtimeMaxAmount: 5000,
		AirtimeDailyCap:  10000,
		PINMinLength:     4,
		PINMaxLength:     6,
	}
}

// LoadBusinessRules parses business-rules.json, falling back to defaults
// for a missing file and for any field the file omits.
func LoadBusinessRules(path string) (BusinessRules, error) {
	rules := DefaultBusinessRules()
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return rules, nil
	}
	if err != nil {
		return rules, errors.Wrapf(err, "read business rules file %s", path)
	}
	if err := json.Unmarshal(b, &rules); err != nil {
		return rules, errors.Wrapf(err, "parse business rules file %s", path)
	}
	return rules, nil
}
