package modules

import (
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vservices/ussd-gateway/internal/menu"
	"github.com/vservices/ussd-gateway/internal/registry"
)

// DailyTotals is the module hook the spec leaves the source of truth to the
// implementation for: it reports how much airtime a (msisdn, day) has
// already purchased, for the 10,000 aggregate cap.
type DailyTotals interface {
	SpentToday(rc registry.Context, msisdn string, day time.Time) (float64, error)
	RecordPurchase(rc registry.Context, msisdn string, day time.Time, amount float64) error
}

const (
	minAirtimeAmount   = 10.0
	maxAirtimeAmount   = 5000.0
	dailyAirtimeCap    = 10000.0
)

// Airtime implements `airtime.processAirtimeConfirmation` from §4.6.
type Airtime struct {
	log   zerolog.Logger
	daily DailyTotals
}

func NewAirtime(log zerolog.Logger, daily DailyTotals) *Airtime {
	return &Airtime{log: log.With().Str("module", "airtime").Logger(), daily: daily}
}

// ProcessAirtimeConfirmation is the confirmation step: "1" proceeds, any
// other input cancels back to the mobile banking menu.
func (m *Airtime) ProcessAirtimeConfirmation(rc registry.Context, input *string) (registry.Result, error) {
	if input == nil {
		return registry.Result{}, nil
	}
	if strings.TrimSpace(*input) != "1" {
		return registry.Result{GotoNode: "main_menu"}, nil
	}

	var network, merchantID, amountStr, mode, recipient, trxPin string
	rc.Access.Grab(rc.Ctx, "network", &network)
	rc.Access.Grab(rc.Ctx, "merchantId", &merchantID)
	rc.Access.Grab(rc.Ctx, "airtime_amount", &amountStr)
	rc.Access.Grab(rc.Ctx, "airtime_mode", &mode)
	rc.Access.Grab(rc.Ctx, "airtime_recipient", &recipient)
	rc.Access.Grab(rc.Ctx, "transaction_pin", &trxPin)

	beneficiary := rc.Session.MSISDN
	if mode == "other" {
		beneficiary = recipient
	}
	if err := menu.ValidateMSISDN(beneficiary); err != nil {
		return registry.Result{Message: err.Error(), GotoNode: "main_menu"}, nil
	}

	amount, err := strconv.ParseFloat(strings.TrimSpace(amountStr), 64)
	if err != nil || amount < minAirtimeAmount || amount > maxAirtimeAmount {
		return registry.Result{Message: "Amount must be between 10 and 5000.", GotoNode: "main_menu"}, nil
	}

	if m.daily != nil {
		spent, err := m.daily.SpentToday(rc, rc.Session.MSISDN, time.Now())
		if err == nil && spent+amount > dailyAirtimeCap {
			return registry.Result{Message: "Daily airtime purchase limit reached.", GotoNode: "main_menu"}, nil
		}
	}

	if trxPin == "" {
		if err := rc.Access.Store(rc.Ctx, "airtime_redirect", "airtime_confirm"); err != nil {
			m.log.Error().Err(err).Msg("store airtime_redirect failed")
		}
		return registry.Result{GotoNode: "pin"}, nil
	}

	var bankAccountID string
	if rc.Session.CustomerData != nil && len(rc.Session.CustomerData.Accounts) > 0 {
		bankAccountID = rc.Session.CustomerData.Accounts[0]
	}
	env, err := rc.Upstream.AirtimePurchase(rc.Ctx, rc.Session, merchantID, bankAccountID, beneficiary, strconv.FormatFloat(amount, 'f', 2, 64), trxPin)
	if err != nil || !env.Success {
		msg := "Airtime purchase failed. Please try again."
		if env.Error != "" {
			msg = env.Error
		}
		return registry.Result{Message: msg, GotoNode: "main_menu"}, nil
	}

	if m.daily != nil {
		if err := m.daily.RecordPurchase(rc, rc.Session.MSISDN, time.Now(), amount); err != nil {
			m.log.Error().Err(err).Msg("record airtime purchase failed")
		}
	}

	ref := env.Fields["REFERENCE"]
	return registry.Result{Message: "Airtime purchase successful. Reference: " + ref, End: true}, nil
}
