package modules

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vservices/ussd-gateway/internal/registry"
)

// Transaction is one parsed mini-statement line.
type Transaction struct {
	Date        string
	Description string
	Type        string
	Amount      string
	Balance     string
}

// Statement implements `statement.processStatementRequest` from §4.6.
type Statement struct {
	log zerolog.Logger
}

func NewStatement(log zerolog.Logger) *Statement {
	return &Statement{log: log.With().Str("module", "statement").Logger()}
}

// ProcessStatementRequest reads the statement_account slot, calls the
// mini-statement API, and formats up to five transactions parsed from the
// response's positional fields (offset 10, step 5), ending the session.
func (m *Statement) ProcessStatementRequest(rc registry.Context, input *string) (registry.Result, error) {
	if input != nil && *input != "1" {
		return registry.Result{GotoNode: "main_menu"}, nil
	}

	var account string
	if _, err := rc.Access.Grab(rc.Ctx, "statement_account", &account); err != nil {
		m.log.Error().Err(err).Msg("grab statement_account failed")
	}

	env, err := rc.Upstream.MiniStatement(rc.Ctx, rc.Session, account)
	if err != nil || !env.Success {
		return registry.Result{Message: "Service temporarily unavailable. Please try again.", End: true}, nil
	}

	txns := ParseStatementFields(env.Fields)
	if len(txns) == 0 {
		return registry.Result{Message: "No recent transactions found.", End: true}, nil
	}

	var sb strings.Builder
	sb.WriteString("Mini statement:")
	for _, t := range txns {
		sb.WriteString(fmt.Sprintf("\n%s %s %s %s (bal %s)", t.Date, t.Type, t.Description, t.Amount, t.Balance))
	}
	return registry.Result{Message: sb.String(), End: true}, nil
}

// ParseStatementFields reads up to five transactions out of a flat
// positional field set, starting at field index 10 and stepping by 5, per
// §4.6: FIELD10..14 is transaction 1 (date, description, type, amount,
// balance), FIELD15..19 is transaction 2, and so on. Fields is the
// envelope's decoded KEY:VALUE map, keyed "FIELD{n}".
func ParseStatementFields(fields map[string]string) []Transaction {
	var out []Transaction
	for offset := 10; offset < 10+5*5; offset += 5 {
		date := fields[fmt.Sprintf("FIELD%d", offset)]
		if date == "" {
			break
		}
		out = append(out, Transaction{
			Date:        date,
			Description: fields[fmt.Sprintf("FIELD%d", offset+1)],
			Type:        fields[fmt.Sprintf("FIELD%d", offset+2)],
			Amount:      fields[fmt.Sprintf("FIELD%d", offset+3)],
			Balance:     fields[fmt.Sprintf("FIELD%d", offset+4)],
		})
	}
	return out
}
