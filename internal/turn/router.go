package turn

import (
	"net/http"

	"github.com/pkg/errors"
)

// ShortcodeRouter dispatches an inbound turn to one of several Handlers by
// shortcode, the way the source's USSD code Router dispatched by dialled
// code. Gateways that serve more than one shortcode (e.g. a shared
// deployment fronting several products) register one Handler per code;
// a single-shortcode deployment registers one entry under "" and never
// needs the router at all.
type ShortcodeRouter struct {
	byShortcode map[string]*Handler
	fallback    *Handler
}

// NewShortcodeRouter returns an empty router. WithShortcode/WithFallback
// populate it before wiring it into the HTTP mux.
func NewShortcodeRouter() *ShortcodeRouter {
	return &ShortcodeRouter{byShortcode: map[string]*Handler{}}
}

// WithShortcode registers h to serve turns for the given shortcode.
func (r *ShortcodeRouter) WithShortcode(shortcode string, h *Handler) *ShortcodeRouter {
	r.byShortcode[shortcode] = h
	return r
}

// WithFallback sets the Handler used when no shortcode-specific entry
// matches (and for requests that omit shortcode entirely).
func (r *ShortcodeRouter) WithFallback(h *Handler) *ShortcodeRouter {
	r.fallback = h
	return r
}

// ErrNoRoute is returned by Route when no handler matches and no fallback
// is configured.
var ErrNoRoute = errors.New("turn: no handler registered for shortcode")

// Route selects the Handler for shortcode.
func (r *ShortcodeRouter) Route(shortcode string) (*Handler, error) {
	if h, ok := r.byShortcode[shortcode]; ok {
		return h, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, errors.Wrapf(ErrNoRoute, "%s", shortcode)
}

// ServeHTTP picks a route from the URL query string alone, leaving the
// request body untouched so the selected Handler can still decode a form
// or JSON body itself.
func (r *ShortcodeRouter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	shortcode := req.URL.Query().Get("shortcode")
	h, err := r.Route(shortcode)
	if err != nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("end Invalid parameters"))
		return
	}
	h.ServeHTTP(w, req)
}
