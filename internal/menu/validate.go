package menu

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Validator mirrors the source's per-prompt input validator shape: a
// single-method check that either accepts the raw input or explains why
// not in a message safe to show the subscriber.
type Validator interface {
	Validate(input string) error
}

// ValidatorFunc adapts a plain function to the Validator interface.
type ValidatorFunc func(input string) error

func (f ValidatorFunc) Validate(input string) error { return f(input) }

// CustomValidators is the registry of handler-delegated ("custom") input
// validations, keyed by the name an InputConfig.Custom field references.
// It is frozen after startup wiring, like the operation registry.
type CustomValidators struct {
	byName map[string]Validator
}

func NewCustomValidators() *CustomValidators {
	return &CustomValidators{byName: map[string]Validator{}}
}

func (c *CustomValidators) Register(name string, v Validator) {
	c.byName[name] = v
}

func (c *CustomValidators) lookup(name string) (Validator, error) {
	v, ok := c.byName[name]
	if !ok {
		return nil, errors.Errorf("no custom validator registered as %q", name)
	}
	return v, nil
}

// ValidateMSISDN accepts 10-digit local-form numbers starting 07 or 01
// (Safaricom/Airtel/Telkom, per §4.7's accepted-forms rule), or the
// equivalent 12-digit 254-prefixed country-code form.
func ValidateMSISDN(input string) error {
	digits := input
	if strings.HasPrefix(digits, "254") && len(digits) == 12 {
		digits = "0" + digits[3:]
	}
	invalid := errors.New("Please enter a valid phone number.")
	if len(digits) != 10 {
		return invalid
	}
	if _, err := strconv.Atoi(digits); err != nil {
		return invalid
	}
	if !strings.HasPrefix(digits, "07") && !strings.HasPrefix(digits, "01") {
		return invalid
	}
	return nil
}

// ValidateAmount checks input parses as a number within [min, max].
func ValidateAmount(input string, min, max float64) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(input), 64)
	if err != nil {
		return errors.New("Please enter a valid amount.")
	}
	if v < min || v > max {
		return errors.Errorf("Please enter an amount between %.0f and %.0f.", min, max)
	}
	return nil
}

// ValidateDate checks input is DDMMYYYY, not in the future, and not more
// than 10 years old.
func ValidateDate(input string, now time.Time) error {
	t, err := time.Parse("02012006", input)
	if err != nil {
		return errors.New("Please enter a valid date as DDMMYYYY.")
	}
	if t.After(now) {
		return errors.New("Date cannot be in the future.")
	}
	if t.Before(now.AddDate(-10, 0, 0)) {
		return errors.New("Date is too far in the past.")
	}
	return nil
}

// ValidatePIN requires 4-6 ASCII digits.
func ValidatePIN(input string) error {
	if len(input) < 4 || len(input) > 6 {
		return errors.New("PIN must be 4 to 6 digits.")
	}
	for _, r := range input {
		if r < '0' || r > '9' {
			return errors.New("PIN must be digits only.")
		}
	}
	return nil
}

// ValidateOption requires input to be one of allowed.
func ValidateOption(input string, allowed []string) error {
	for _, a := range allowed {
		if input == a {
			return nil
		}
	}
	return errors.New("Invalid selection. Please try again.")
}

// ValidatePINOrOption accepts the literal "1" or a shape-valid PIN, used by
// the home node's combined forgot-PIN/login prompt.
func ValidatePINOrOption(input string) error {
	if input == "1" {
		return nil
	}
	return ValidatePIN(input)
}

func (e *Engine) validateInput(cfg *InputConfig, input string) error {
	switch cfg.Validation {
	case "msisdn":
		return ValidateMSISDN(input)
	case "amount":
		return ValidateAmount(input, cfg.Min, cfg.Max)
	case "date":
		return ValidateDate(input, time.Now())
	case "pin":
		return ValidatePIN(input)
	case "option":
		return ValidateOption(input, cfg.Allowed)
	case "pin_or_option":
		return ValidatePINOrOption(input)
	case "custom":
		v, err := e.customValidators.lookup(cfg.Custom)
		if err != nil {
			return err
		}
		return v.Validate(input)
	default:
		return nil
	}
}

// ApplyTransform mutates input per one of the declared transform kinds.
func ApplyTransform(kind, input string) string {
	switch kind {
	case "msisdn_to_254":
		if strings.HasPrefix(input, "0") && len(input) == 10 {
			return "254" + input[1:]
		}
		return input
	case "msisdn_to_0":
		if strings.HasPrefix(input, "254") && len(input) == 12 {
			return "0" + input[3:]
		}
		return input
	case "uppercase":
		return strings.ToUpper(input)
	case "lowercase":
		return strings.ToLower(input)
	default:
		return input
	}
}
