package modules_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vservices/ussd-gateway/internal/modules"
	"github.com/vservices/ussd-gateway/internal/registry"
	"github.com/vservices/ussd-gateway/internal/session"
	"github.com/vservices/ussd-gateway/internal/upstream"
)

func TestProcessBalanceRequestRendersAccountList(t *testing.T) {
	m := modules.NewBalance(zerolog.Nop())
	sess := &session.Session{CustomerData: &session.CustomerData{Accounts: []string{"0102030405-Main", "0102030406-Savings"}}}
	res, err := m.ProcessBalanceRequest(registry.Context{Session: sess}, nil)
	require.NoError(t, err)
	assert.Contains(t, res.Message, "1. 0102030405-Main")
	assert.Contains(t, res.Message, "2. 0102030406-Savings")
}

func TestProcessBalanceRequestSelectionStoresAndAdvances(t *testing.T) {
	access := newTestAccess(t)
	m := modules.NewBalance(zerolog.Nop())
	sess := &session.Session{CustomerData: &session.CustomerData{Accounts: []string{"0102030405-Main", "0102030406-Savings"}}}
	input := "1"
	res, err := m.ProcessBalanceRequest(registry.Context{Ctx: context.Background(), Session: sess, Access: access}, &input)
	require.NoError(t, err)
	assert.Equal(t, "balance_pin", res.GotoNode)

	var selected string
	ok, err := access.Grab(context.Background(), "balance_selected_account", &selected)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0102030405-Main", selected)
}

func TestProcessBalanceRequestOutOfRangeRetries(t *testing.T) {
	access := newTestAccess(t)
	m := modules.NewBalance(zerolog.Nop())
	sess := &session.Session{CustomerData: &session.CustomerData{Accounts: []string{"ACC1"}}}
	input := "9"
	res, err := m.ProcessBalanceRequest(registry.Context{Ctx: context.Background(), Session: sess, Access: access}, &input)
	require.NoError(t, err)
	assert.Equal(t, "balance_account_select", res.GotoNode)
}

func TestProcessBalancePinHappyPathFormatsSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("STATUS:000:DATA:BALANCE|KES 1,234.00|AVAILABLE|KES 1,200.00:"))
	}))
	defer srv.Close()

	access := newTestAccess(t)
	require.NoError(t, access.Store(context.Background(), "balance_selected_account", "0102030405-Main"))

	client := upstream.New(srv.URL, upstream.Config{}, 2*time.Second, time.Second, zerolog.Nop())
	sess := &session.Session{MSISDN: "254700111222"}

	m := modules.NewBalance(zerolog.Nop())
	input := "1234"
	rc := registry.Context{Ctx: context.Background(), Session: sess, Access: access, Upstream: client}
	res, err := m.ProcessBalancePin(rc, &input)
	require.NoError(t, err)
	assert.Contains(t, res.Message, "BALANCE: KES 1,234.00")
	assert.Contains(t, res.Message, "AVAILABLE: KES 1,200.00")
	assert.Equal(t, "main_menu", res.GotoNode)
}

func TestProcessBalancePinInvalidShapeReprompts(t *testing.T) {
	m := modules.NewBalance(zerolog.Nop())
	input := "12"
	res, err := m.ProcessBalancePin(registry.Context{}, &input)
	require.NoError(t, err)
	assert.Equal(t, "balance_pin", res.GotoNode)
}
