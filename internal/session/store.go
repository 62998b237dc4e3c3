package session

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/vservices/ussd-gateway/internal/kv"
)

// ErrNotFound is returned by operations that require an existing session
// (Update, IncrementTransactionCount) when the composite key has expired
// or was never created.
var ErrNotFound = errors.New("session: not found")

// Store is the C2 session store: composite keys, create/get/update/clear,
// named slot get/put/delete, elapsed-time tracking.
type Store struct {
	kv     kv.Store
	prefix string
	ttl    time.Duration
	loc    *time.Location
}

// New builds a Store over the given KV adapter. loc is the timezone all
// session timestamps are recorded in (default Africa/Nairobi per config).
func New(store kv.Store, prefix string, ttl time.Duration, loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{kv: store, prefix: prefix, ttl: ttl, loc: loc}
}

func (s *Store) key(msisdn, sessionID, shortcode string) string {
	return Key(s.prefix, msisdn, sessionID, shortcode)
}

// Create builds the default session record and writes it with TTL, plus a
// sibling ":start" key holding the creation time for elapsed-time tracking.
// An existing record at the same key is overwritten (the aggregator will
// have minted a new session id for a new call).
func (s *Store) Create(ctx context.Context, msisdn, sessionID, shortcode string) (*Session, error) {
	now := time.Now().In(s.loc)
	sess := &Session{
		MSISDN:          msisdn,
		SessionID:       sessionID,
		Shortcode:       NormalizeShortcode(shortcode),
		CurrentMenu:     "home",
		MenuHistory:     []string{"home"},
		AuthStatus:      AuthPending,
		SessionStart:    now,
		LastActivity:    now,
		CreatedAtMillis: now.UnixMilli(),
	}
	key := s.key(msisdn, sessionID, shortcode)
	if err := s.write(ctx, key, sess); err != nil {
		return nil, err
	}
	anchor := []byte(strconv.FormatInt(sess.CreatedAtMillis, 10))
	if err := s.kv.Set(ctx, startKey(key), anchor, s.ttl); err != nil {
		return nil, errors.Wrapf(err, "write start anchor for %s", key)
	}
	return sess, nil
}

func (s *Store) write(ctx context.Context, key string, sess *Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrapf(err, "encode session(%s)", key)
	}
	if err := s.kv.Set(ctx, key, b, s.ttl); err != nil {
		return err
	}
	return nil
}

// Get returns the parsed session, or ok=false if absent. On a hit the TTL
// is refreshed by rewriting the value; the ":start" anchor is untouched.
func (s *Store) Get(ctx context.Context, msisdn, sessionID, shortcode string) (*Session, bool, error) {
	key := s.key(msisdn, sessionID, shortcode)
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, false, errors.Wrapf(err, "decode session(%s)", key)
	}
	if err := s.write(ctx, key, &sess); err != nil {
		return nil, false, err
	}
	return &sess, true, nil
}

// Update reads the current session, deep-merges patch into it (object
// fields merge key by key, array fields in the patch replace wholesale),
// stamps lastActivity, and writes back with a refreshed TTL.
func (s *Store) Update(ctx context.Context, msisdn, sessionID, shortcode string, patch map[string]interface{}) (*Session, error) {
	key := s.key(msisdn, sessionID, shortcode)
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	var current map[string]interface{}
	if err := json.Unmarshal(raw, &current); err != nil {
		return nil, errors.Wrapf(err, "decode session(%s)", key)
	}
	merged := deepMerge(current, patch)
	merged["lastActivity"] = time.Now().In(s.loc)

	mergedBytes, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.Wrapf(err, "encode merged session(%s)", key)
	}
	var sess Session
	if err := json.Unmarshal(mergedBytes, &sess); err != nil {
		return nil, errors.Wrapf(err, "decode merged session(%s)", key)
	}
	if err := s.kv.Set(ctx, key, mergedBytes, s.ttl); err != nil {
		return nil, err
	}
	return &sess, nil
}

// deepMerge merges patch into dst. A patch value that is itself an object
// merges field by field; any other value (including arrays) replaces the
// destination field outright.
func deepMerge(dst, patch map[string]interface{}) map[string]interface{} {
	if dst == nil {
		dst = map[string]interface{}{}
	}
	for k, v := range patch {
		if pv, ok := v.(map[string]interface{}); ok {
			if dv, ok := dst[k].(map[string]interface{}); ok {
				dst[k] = deepMerge(dv, pv)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}

// ToPatch round-trips v through JSON to produce a map[string]interface{}
// suitable for Update/deep-merge, so callers can pass typed values
// (CustomerData, a struct literal) instead of hand-building maps.
func ToPatch(v interface{}) (map[string]interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Store writes a named slot value, serialized as JSON, under the session's
// key prefix with the same TTL as the session.
func (s *Store) Store(ctx context.Context, msisdn, sessionID, shortcode, name string, value interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encode slot(%s)", name)
	}
	key := slotKey(s.key(msisdn, sessionID, shortcode), name)
	return s.kv.Set(ctx, key, b, s.ttl)
}

// Grab reads a named slot into out, returning ok=false if it is absent.
func (s *Store) Grab(ctx context.Context, msisdn, sessionID, shortcode, name string, out interface{}) (bool, error) {
	key := slotKey(s.key(msisdn, sessionID, shortcode), name)
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, errors.Wrapf(err, "decode slot(%s)", name)
	}
	return true, nil
}

// Possess reports whether a named slot currently exists.
func (s *Store) Possess(ctx context.Context, msisdn, sessionID, shortcode, name string) (bool, error) {
	key := slotKey(s.key(msisdn, sessionID, shortcode), name)
	_, ok, err := s.kv.Get(ctx, key)
	return ok, err
}

// Blank deletes one or more named slots.
func (s *Store) Blank(ctx context.Context, msisdn, sessionID, shortcode string, names ...string) error {
	base := s.key(msisdn, sessionID, shortcode)
	for _, name := range names {
		if err := s.kv.Del(ctx, slotKey(base, name)); err != nil {
			return err
		}
	}
	return nil
}

// Clear deletes the session key and its ":start" anchor. Slots are left to
// expire by TTL.
func (s *Store) Clear(ctx context.Context, msisdn, sessionID, shortcode string) error {
	key := s.key(msisdn, sessionID, shortcode)
	if err := s.kv.Del(ctx, key); err != nil {
		return err
	}
	return s.kv.Del(ctx, startKey(key))
}

// ElapsedSeconds returns (now - start anchor)/1000, or 0 if no anchor
// exists. Time comparisons always use wall time, never session-recorded
// strings.
func (s *Store) ElapsedSeconds(ctx context.Context, msisdn, sessionID, shortcode string) (float64, error) {
	key := startKey(s.key(msisdn, sessionID, shortcode))
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	startMillis, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "decode start anchor(%s)", key)
	}
	return float64(time.Now().UnixMilli()-startMillis) / 1000.0, nil
}

// IncrementTransactionCount bumps the session's transaction counter and
// records the transaction time.
func (s *Store) IncrementTransactionCount(ctx context.Context, msisdn, sessionID, shortcode string) (*Session, error) {
	sess, ok, err := s.Get(ctx, msisdn, sessionID, shortcode)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	now := time.Now().In(s.loc)
	return s.Update(ctx, msisdn, sessionID, shortcode, map[string]interface{}{
		"transactionCount": sess.TransactionCount + 1,
		"lastTransaction":  now,
	})
}

// Healthy probes the underlying KV store.
func (s *Store) Healthy(ctx context.Context) bool {
	return s.kv.Healthy(ctx)
}
