package upstream_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vservices/ussd-gateway/internal/kv"
	"github.com/vservices/ussd-gateway/internal/session"
	"github.com/vservices/ussd-gateway/internal/upstream"
)

func testSession() *session.Session {
	return &session.Session{MSISDN: "254700111222", SessionID: "S1", Shortcode: "527"}
}

func newTestAccess(t *testing.T) *session.Access {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	store, err := kv.NewRedisStore(context.Background(), kv.Config{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
		mr.Close()
	})
	sessions := session.New(store, "ussd:session", 300*time.Second, time.UTC)
	_, err = sessions.Create(context.Background(), "254700111222", "S1", "527")
	require.NoError(t, err)
	return sessions.Bind("254700111222", "S1", "527")
}

func TestClientCallSendsGetWithQueryEncodedBody(t *testing.T) {
	var capturedQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		capturedQuery = r.URL.Query().Get("b")
		w.Write([]byte("STATUS:000:DATA:1500.00:"))
	}))
	defer srv.Close()

	client := upstream.New(srv.URL, upstream.Config{BankID: "9"}, 2*time.Second, time.Second, zerolog.Nop())
	env, err := client.Balance(context.Background(), testSession(), "ACC1")
	require.NoError(t, err)
	assert.True(t, env.Success)
	assert.Equal(t, "1500.00", env.Data)
	assert.Contains(t, capturedQuery, "BANKACCOUNTID:ACC1:")
	assert.Contains(t, capturedQuery, "FORMID:B-:")
}

func TestClientCallServerErrorMarksRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := upstream.New(srv.URL, upstream.Config{}, 2*time.Second, time.Second, zerolog.Nop())
	env, err := client.Login(context.Background(), testSession(), "1234")
	require.Error(t, err)
	assert.True(t, env.Retry)
}

func TestClientLoginSendsPinUnmaskedOnWire(t *testing.T) {
	var capturedQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedQuery = r.URL.Query().Get("b")
		w.Write([]byte("STATUS:000:"))
	}))
	defer srv.Close()

	client := upstream.New(srv.URL, upstream.Config{}, 2*time.Second, time.Second, zerolog.Nop())
	_, err := client.Login(context.Background(), testSession(), "4321")
	require.NoError(t, err)
	decoded, err := url.QueryUnescape(capturedQuery)
	require.NoError(t, err)
	assert.Contains(t, decoded, "LOGINMPIN:4321:")
}

func TestClientGetCustomerCachesWithinFiveMinutes(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte("STATUS:000:CUSTOMERID:CUST1:"))
	}))
	defer srv.Close()

	client := upstream.New(srv.URL, upstream.Config{}, 2*time.Second, time.Second, zerolog.Nop())
	access := newTestAccess(t)
	sess := testSession()

	first, err := client.GetCustomer(context.Background(), sess, access, false)
	require.NoError(t, err)
	second, err := client.GetCustomer(context.Background(), sess, access, false)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestClientGetCustomerForceRefreshBypassesCache(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte("STATUS:000:CUSTOMERID:CUST1:"))
	}))
	defer srv.Close()

	client := upstream.New(srv.URL, upstream.Config{}, 2*time.Second, time.Second, zerolog.Nop())
	access := newTestAccess(t)
	sess := testSession()

	_, err := client.GetCustomer(context.Background(), sess, access, false)
	require.NoError(t, err)
	_, err = client.GetCustomer(context.Background(), sess, access, true)
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestClientHealthyEndpointUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := upstream.New(srv.URL, upstream.Config{}, 2*time.Second, time.Second, zerolog.Nop())
	assert.True(t, client.Healthy(context.Background()))
}

func TestClientHealthyEndpointDown(t *testing.T) {
	client := upstream.New("http://127.0.0.1:1", upstream.Config{}, 500*time.Millisecond, 500*time.Millisecond, zerolog.Nop())
	assert.False(t, client.Healthy(context.Background()))
}
