package modules_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vservices/ussd-gateway/internal/kv"
	"github.com/vservices/ussd-gateway/internal/modules"
	"github.com/vservices/ussd-gateway/internal/registry"
	"github.com/vservices/ussd-gateway/internal/session"
	"github.com/vservices/ussd-gateway/internal/upstream"
)

func newTestAccess(t *testing.T) *session.Access {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	store, err := kv.NewRedisStore(context.Background(), kv.Config{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	sessStore := session.New(store, "ussd:session", 300*time.Second, time.UTC)
	_, err = sessStore.Create(context.Background(), "254700111222", "S1", "527")
	require.NoError(t, err)
	return sessStore.Bind("254700111222", "S1", "527")
}

func TestProcessPinOrForgotRenderIsNoOp(t *testing.T) {
	m := modules.NewPIN(zerolog.Nop())
	res, err := m.ProcessPinOrForgot(registry.Context{}, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Message)
}

func TestProcessPinOrForgotLiteralOneGoesToForgotPinInfo(t *testing.T) {
	m := modules.NewPIN(zerolog.Nop())
	input := "1"
	res, err := m.ProcessPinOrForgot(registry.Context{}, &input)
	require.NoError(t, err)
	assert.Equal(t, "forgot_pin_info", res.GotoNode)
}

func TestProcessPinOrForgotInvalidShapeReprompts(t *testing.T) {
	m := modules.NewPIN(zerolog.Nop())
	input := "12"
	res, err := m.ProcessPinOrForgot(registry.Context{}, &input)
	require.NoError(t, err)
	assert.Equal(t, "home", res.GotoNode)
	assert.NotEmpty(t, res.Message)
}

func TestProcessPinOrForgotSuccessfulLoginAuthenticates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("STATUS:000:ACCOUNTS:0102030405-Main,0102030406-Savings:"))
	}))
	defer srv.Close()

	access := newTestAccess(t)
	client := upstream.New(srv.URL, upstream.Config{}, 2*time.Second, time.Second, zerolog.Nop())
	sess := &session.Session{MSISDN: "254700111222", SessionID: "S1", Shortcode: "527"}

	m := modules.NewPIN(zerolog.Nop())
	input := "1234"
	rc := registry.Context{Ctx: context.Background(), Session: sess, Access: access, Upstream: client}
	res, err := m.ProcessPinOrForgot(rc, &input)
	require.NoError(t, err)
	assert.Equal(t, "main_menu", res.GotoNode)

	var attempt string
	ok, err := access.Grab(context.Background(), "pin_attempt", &attempt)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1234", attempt)
}

func TestProcessPinOrForgotBlockedAccountEndsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("STATUS:102:"))
	}))
	defer srv.Close()

	access := newTestAccess(t)
	client := upstream.New(srv.URL, upstream.Config{}, 2*time.Second, time.Second, zerolog.Nop())
	sess := &session.Session{MSISDN: "254700111222", SessionID: "S1", Shortcode: "527"}

	m := modules.NewPIN(zerolog.Nop())
	input := "1234"
	rc := registry.Context{Ctx: context.Background(), Session: sess, Access: access, Upstream: client}
	res, err := m.ProcessPinOrForgot(rc, &input)
	require.NoError(t, err)
	assert.True(t, res.End)
	assert.Contains(t, res.Message, "blocked")
}

func TestProcessPinOrForgotExpiredPinBranchesToChangePinForced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("STATUS:101:"))
	}))
	defer srv.Close()

	access := newTestAccess(t)
	client := upstream.New(srv.URL, upstream.Config{}, 2*time.Second, time.Second, zerolog.Nop())
	sess := &session.Session{MSISDN: "254700111222", SessionID: "S1", Shortcode: "527"}

	m := modules.NewPIN(zerolog.Nop())
	input := "1234"
	rc := registry.Context{Ctx: context.Background(), Session: sess, Access: access, Upstream: client}
	res, err := m.ProcessPinOrForgot(rc, &input)
	require.NoError(t, err)
	assert.Equal(t, "change_pin_forced", res.GotoNode)
	assert.False(t, res.End)
}
