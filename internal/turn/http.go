package turn

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ServeHTTP implements POST /api/ussd: decode the request (form or JSON),
// run Handle, and emit "{action} {message}" as text/plain per §6. The one
// case allowed to surface as non-200 is ErrInvalidRequest.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "end Invalid parameters")
		return
	}

	frame, err := h.Handle(r.Context(), req)
	if errors.Is(err, ErrInvalidRequest) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "end Invalid parameters")
		return
	}
	if err != nil {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "end Service temporarily unavailable. Please try again.")
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "%s %s", frame.Action, frame.Message)
}

func parseRequest(r *http.Request) (Request, error) {
	contentType := r.Header.Get("Content-Type")
	var req Request
	if contentType == "application/json" {
		var body struct {
			MSISDN    string `json:"msisdn"`
			SessionID string `json:"sessionid"`
			Shortcode string `json:"shortcode"`
			Response  string `json:"response"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return Request{}, ErrInvalidRequest
		}
		req = Request{MSISDN: body.MSISDN, SessionID: body.SessionID, Shortcode: body.Shortcode, Input: body.Response}
	} else {
		if err := r.ParseForm(); err != nil {
			return Request{}, ErrInvalidRequest
		}
		req = Request{
			MSISDN:    r.FormValue("msisdn"),
			SessionID: r.FormValue("sessionid"),
			Shortcode: r.FormValue("shortcode"),
			Input:     r.FormValue("response"),
		}
	}
	return req, nil
}

// HealthStatus is the /healthz response body shape §6 specifies.
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// HealthHandler reports redis and session-store health, returning 503 if
// either is down.
func HealthHandler(redisHealthy func() bool, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		redisUp := redisHealthy()
		status := HealthStatus{
			Status:    "ok",
			Timestamp: time.Now(),
			Services: map[string]string{
				"redis":   boolStatus(redisUp),
				"session": boolStatus(redisUp),
			},
		}
		code := http.StatusOK
		if !redisUp {
			status.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Error().Err(err).Msg("encode health response failed")
		}
	}
}

func boolStatus(up bool) string {
	if up {
		return "up"
	}
	return "down"
}
