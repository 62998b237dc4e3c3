// Package modules implements the pluggable action modules (C6): PIN,
// balance, statement and airtime, each a small state machine layered on
// top of session slots and the upstream client.
package modules

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/vservices/ussd-gateway/internal/menu"
	"github.com/vservices/ussd-gateway/internal/registry"
)

// PIN implements the home node's combined forgot-PIN/login prompt.
type PIN struct {
	log zerolog.Logger
}

func NewPIN(log zerolog.Logger) *PIN {
	return &PIN{log: log.With().Str("module", "pin").Logger()}
}

// ProcessPinOrForgot is `pin.processPinOrForgot` from §4.6: input is either
// the literal "1" (forgot PIN) or a PIN to log in with.
func (m *PIN) ProcessPinOrForgot(rc registry.Context, input *string) (registry.Result, error) {
	if input == nil {
		return registry.Result{}, nil
	}
	value := strings.TrimSpace(*input)

	if value == "1" {
		return registry.Result{GotoNode: "forgot_pin_info"}, nil
	}

	if err := menu.ValidatePIN(value); err != nil {
		return registry.Result{Message: err.Error(), GotoNode: "home"}, nil
	}

	if err := rc.Access.Store(rc.Ctx, "pin_attempt", value); err != nil {
		m.log.Error().Err(err).Msg("store pin_attempt failed")
	}

	env, err := rc.Upstream.Login(rc.Ctx, rc.Session, value)
	if err != nil {
		return registry.Result{Message: "Service temporarily unavailable. Please try again.", GotoNode: "home"}, nil
	}

	if env.Success {
		accounts := splitTrimmed(env.Fields["ACCOUNTS"])
		patch := map[string]interface{}{
			"authStatus":  "authenticated",
			"currentMenu": "main_menu",
			"customerData": map[string]interface{}{
				"accounts": accounts,
			},
		}
		if _, err := rc.Access.Update(rc.Ctx, patch); err != nil {
			m.log.Error().Err(err).Msg("persist login result failed")
		}
		return registry.Result{GotoNode: "main_menu"}, nil
	}

	switch env.Status {
	case "101":
		return registry.Result{Message: "Your PIN has expired. Please set a new PIN to continue.", GotoNode: "change_pin_forced"}, nil
	case "102":
		return registry.Result{Message: "Your account has been blocked. Please visit your nearest branch.", End: true}, nil
	case "091":
		return registry.Result{Message: "Invalid Login Password", GotoNode: "home"}, nil
	default:
		msg := env.Error
		if msg == "" {
			msg = "Invalid PIN. Please try again."
		}
		return registry.Result{Message: msg, GotoNode: "home"}, nil
	}
}

// splitTrimmed splits a comma-separated list, trims each entry, and drops
// empty ones, per §4.6's ACCOUNTS parsing rule.
func splitTrimmed(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
