package session

import "context"

// Access is the typed, triple-bound view of the session store handed to
// action modules and the menu engine: store/grab/blank/updateSession for
// the current (msisdn, sessionId, shortcode), with no key-building of its
// own visible to callers.
type Access struct {
	store                        *Store
	msisdn, sessionID, shortcode string
}

// Bind returns an Access scoped to one (msisdn, sessionId, shortcode) triple.
func (s *Store) Bind(msisdn, sessionID, shortcode string) *Access {
	return &Access{store: s, msisdn: msisdn, sessionID: sessionID, shortcode: shortcode}
}

func (a *Access) Store(ctx context.Context, name string, value interface{}) error {
	return a.store.Store(ctx, a.msisdn, a.sessionID, a.shortcode, name, value)
}

func (a *Access) Grab(ctx context.Context, name string, out interface{}) (bool, error) {
	return a.store.Grab(ctx, a.msisdn, a.sessionID, a.shortcode, name, out)
}

func (a *Access) Possess(ctx context.Context, name string) (bool, error) {
	return a.store.Possess(ctx, a.msisdn, a.sessionID, a.shortcode, name)
}

func (a *Access) Blank(ctx context.Context, names ...string) error {
	return a.store.Blank(ctx, a.msisdn, a.sessionID, a.shortcode, names...)
}

func (a *Access) Update(ctx context.Context, patch map[string]interface{}) (*Session, error) {
	return a.store.Update(ctx, a.msisdn, a.sessionID, a.shortcode, patch)
}
