package modules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vservices/ussd-gateway/internal/menu"
	"github.com/vservices/ussd-gateway/internal/registry"
)

// Balance implements the two-step `balance.processBalanceRequest` /
// `…processBalancePin` flow from §4.6.
type Balance struct {
	log zerolog.Logger
}

func NewBalance(log zerolog.Logger) *Balance {
	return &Balance{log: log.With().Str("module", "balance").Logger()}
}

// ProcessBalanceRequest lists the customer's accounts on render, and on
// input validates a 1-based index, stores the selection, and advances to
// the PIN step.
func (m *Balance) ProcessBalanceRequest(rc registry.Context, input *string) (registry.Result, error) {
	accounts := accountsOf(rc)

	if input == nil {
		if len(accounts) == 0 {
			return registry.Result{Message: "You have no accounts linked to this service.", GotoNode: "main_menu"}, nil
		}
		var sb strings.Builder
		sb.WriteString("Select an account:")
		for i, acc := range accounts {
			sb.WriteString(fmt.Sprintf("\n%d. %s", i+1, acc))
		}
		return registry.Result{Message: sb.String()}, nil
	}

	idx, err := strconv.Atoi(strings.TrimSpace(*input))
	if err != nil || idx < 1 || idx > len(accounts) {
		return registry.Result{Message: "Invalid selection. Please try again.", GotoNode: "balance_account_select"}, nil
	}

	if err := rc.Access.Store(rc.Ctx, "balance_selected_account", accounts[idx-1]); err != nil {
		m.log.Error().Err(err).Msg("store balance_selected_account failed")
	}
	return registry.Result{GotoNode: "balance_pin"}, nil
}

// ProcessBalancePin verifies the PIN, queries the balance, and formats the
// pipe-separated MESSAGE fields into a human summary.
func (m *Balance) ProcessBalancePin(rc registry.Context, input *string) (registry.Result, error) {
	if input == nil {
		return registry.Result{}, nil
	}
	pin := strings.TrimSpace(*input)
	if err := menu.ValidatePIN(pin); err != nil {
		return registry.Result{Message: err.Error(), GotoNode: "balance_pin"}, nil
	}

	var account string
	if _, err := rc.Access.Grab(rc.Ctx, "balance_selected_account", &account); err != nil {
		m.log.Error().Err(err).Msg("grab balance_selected_account failed")
	}

	loginEnv, err := rc.Upstream.Login(rc.Ctx, rc.Session, pin)
	if err != nil || !loginEnv.Success {
		m.clearSlots(rc)
		return registry.Result{Message: "Invalid PIN. Please try again.", GotoNode: "main_menu"}, nil
	}

	balanceEnv, err := rc.Upstream.Balance(rc.Ctx, rc.Session, account)
	if err != nil || !balanceEnv.Success {
		m.clearSlots(rc)
		return registry.Result{Message: "Service temporarily unavailable. Please try again.", GotoNode: "main_menu"}, nil
	}

	summary := formatPipePairs(balanceEnv.Message)
	m.clearSlots(rc)
	return registry.Result{Message: summary, GotoNode: "main_menu"}, nil
}

func (m *Balance) clearSlots(rc registry.Context) {
	if err := rc.Access.Blank(rc.Ctx, "balance_selected_account", "pin_attempt"); err != nil {
		m.log.Error().Err(err).Msg("clear balance slots failed")
	}
}

func accountsOf(rc registry.Context) []string {
	if rc.Session == nil || rc.Session.CustomerData == nil {
		return nil
	}
	return rc.Session.CustomerData.Accounts
}

// formatPipePairs turns "LABEL|VALUE|LABEL|VALUE|..." into
// "LABEL: VALUE\nLABEL: VALUE" lines, per §4.6's balance summary rule.
func formatPipePairs(raw string) string {
	parts := strings.Split(raw, "|")
	var sb strings.Builder
	for i := 0; i+1 < len(parts); i += 2 {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(parts[i])
		sb.WriteString(": ")
		sb.WriteString(parts[i+1])
	}
	return sb.String()
}
