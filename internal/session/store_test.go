package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vservices/ussd-gateway/internal/kv"
	"github.com/vservices/ussd-gateway/internal/session"
)

func newTestStore(t *testing.T) (*miniredis.Miniredis, *session.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	redisStore, err := kv.NewRedisStore(context.Background(), kv.Config{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() {
		redisStore.Close()
		mr.Close()
	})
	loc, _ := time.LoadLocation("Africa/Nairobi")
	return mr, session.New(redisStore, "ussd:session", 300*time.Second, loc)
}

func TestCreateThenGet(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "254700111222", "S1", "527")
	require.NoError(t, err)
	assert.Equal(t, "home", created.CurrentMenu)
	assert.Equal(t, session.AuthPending, created.AuthStatus)

	got, ok, err := store.Get(ctx, "254700111222", "S1", "527")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, created.CreatedAtMillis, got.CreatedAtMillis)
	assert.Equal(t, "home", got.CurrentMenu)
}

func TestCreatedAtMillisNeverRewritten(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "254700111222", "S1", "527")
	require.NoError(t, err)

	_, err = store.Update(ctx, "254700111222", "S1", "527", map[string]interface{}{"currentMenu": "main_menu"})
	require.NoError(t, err)

	got, ok, err := store.Get(ctx, "254700111222", "S1", "527")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, created.CreatedAtMillis, got.CreatedAtMillis)
	assert.Equal(t, "main_menu", got.CurrentMenu)
}

func TestUpdateDeepMergesObjectsAndReplacesArrays(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "254700111222", "S1", "527")
	require.NoError(t, err)

	_, err = store.Update(ctx, "254700111222", "S1", "527", map[string]interface{}{
		"customerData": map[string]interface{}{"customerId": "CUST1", "firstName": "Jane"},
		"menuHistory":  []interface{}{"home", "main_menu"},
	})
	require.NoError(t, err)

	_, err = store.Update(ctx, "254700111222", "S1", "527", map[string]interface{}{
		"customerData": map[string]interface{}{"lastName": "Doe"},
	})
	require.NoError(t, err)

	got, ok, err := store.Get(ctx, "254700111222", "S1", "527")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, got.CustomerData)
	assert.Equal(t, "CUST1", got.CustomerData.CustomerID)
	assert.Equal(t, "Jane", got.CustomerData.FirstName)
	assert.Equal(t, "Doe", got.CustomerData.LastName)
	assert.Equal(t, []string{"home", "main_menu"}, got.MenuHistory)
}

func TestSlotsStoreGrabPossessBlank(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()
	_, err := store.Create(ctx, "254700111222", "S1", "527")
	require.NoError(t, err)

	require.NoError(t, store.Store(ctx, "254700111222", "S1", "527", "pin_attempt", "1234"))

	exists, err := store.Possess(ctx, "254700111222", "S1", "527", "pin_attempt")
	require.NoError(t, err)
	assert.True(t, exists)

	var got string
	ok, err := store.Grab(ctx, "254700111222", "S1", "527", "pin_attempt", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1234", got)

	require.NoError(t, store.Blank(ctx, "254700111222", "S1", "527", "pin_attempt"))
	exists, err = store.Possess(ctx, "254700111222", "S1", "527", "pin_attempt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestClearRemovesSessionAndStartAnchor(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()
	_, err := store.Create(ctx, "254700111222", "S1", "527")
	require.NoError(t, err)

	require.NoError(t, store.Clear(ctx, "254700111222", "S1", "527"))

	_, ok, err := store.Get(ctx, "254700111222", "S1", "527")
	require.NoError(t, err)
	assert.False(t, ok)

	elapsed, err := store.ElapsedSeconds(ctx, "254700111222", "S1", "527")
	require.NoError(t, err)
	assert.Zero(t, elapsed)
}

func TestElapsedSecondsJustAfterCreate(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()
	_, err := store.Create(ctx, "254700111222", "S1", "527")
	require.NoError(t, err)

	elapsed, err := store.ElapsedSeconds(ctx, "254700111222", "S1", "527")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, 0.0)
	assert.Less(t, elapsed, 1.0)
}

func TestIncrementTransactionCount(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()
	_, err := store.Create(ctx, "254700111222", "S1", "527")
	require.NoError(t, err)

	got, err := store.IncrementTransactionCount(ctx, "254700111222", "S1", "527")
	require.NoError(t, err)
	assert.Equal(t, 1, got.TransactionCount)

	got, err = store.IncrementTransactionCount(ctx, "254700111222", "S1", "527")
	require.NoError(t, err)
	assert.Equal(t, 2, got.TransactionCount)
}
