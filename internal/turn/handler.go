// Package turn implements the turn handler (C8): the state machine that
// turns one inbound USSD request into a con/end frame, orchestrating the
// session store, the menu engine, and the upstream customer lookup.
package turn

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vservices/ussd-gateway/internal/menu"
	"github.com/vservices/ussd-gateway/internal/registry"
	"github.com/vservices/ussd-gateway/internal/session"
	"github.com/vservices/ussd-gateway/internal/upstream"
)

// Request is one inbound turn, already decoded from form or JSON body.
type Request struct {
	MSISDN    string
	SessionID string
	Shortcode string
	Input     string
}

var (
	msisdnShape    = regexp.MustCompile(`^\d{10,15}$`)
	shortcodeShape = regexp.MustCompile(`^\d{3,6}$`)
)

// Validate enforces §6's inbound field shapes. Only this failure class may
// surface as a non-200 HTTP response.
func (r Request) Validate() error {
	if r.MSISDN == "" || !msisdnShape.MatchString(r.MSISDN) {
		return ErrInvalidRequest
	}
	if len(r.SessionID) < 3 || len(r.SessionID) > 50 {
		return ErrInvalidRequest
	}
	if r.Shortcode != "" && !shortcodeShape.MatchString(r.Shortcode) {
		return ErrInvalidRequest
	}
	if len(r.Input) > 500 {
		return ErrInvalidRequest
	}
	return nil
}

// Handler wires the session store, menu engine and upstream client into
// the §4.8 turn state machine.
type Handler struct {
	sessions *session.Store
	engine   *menu.Engine
	upstream *upstream.Client
	ttl      float64
	log      zerolog.Logger
}

// New builds a Handler. ttlSeconds must match the store's own TTL so the
// expiry check in step 2 of §4.8 agrees with when Redis would have
// actually evicted the key.
func New(sessions *session.Store, engine *menu.Engine, upstreamClient *upstream.Client, ttlSeconds float64, log zerolog.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		engine:   engine,
		upstream: upstreamClient,
		ttl:      ttlSeconds,
		log:      log.With().Str("component", "turn").Logger(),
	}
}

// Handle runs one turn to completion and returns the frame to emit.
func (h *Handler) Handle(ctx context.Context, req Request) (menu.Frame, error) {
	if err := req.Validate(); err != nil {
		return menu.Frame{}, err
	}

	sess, ok, err := h.sessions.Get(ctx, req.MSISDN, req.SessionID, req.Shortcode)
	if err != nil {
		return menu.Frame{}, err
	}
	if !ok {
		sess, err = h.sessions.Create(ctx, req.MSISDN, req.SessionID, req.Shortcode)
		if err != nil {
			return menu.Frame{}, err
		}
	} else {
		elapsed, err := h.sessions.ElapsedSeconds(ctx, req.MSISDN, req.SessionID, req.Shortcode)
		if err != nil {
			return menu.Frame{}, err
		}
		if elapsed > h.ttl {
			if err := h.sessions.Clear(ctx, req.MSISDN, req.SessionID, req.Shortcode); err != nil {
				return menu.Frame{}, err
			}
			sess, err = h.sessions.Create(ctx, req.MSISDN, req.SessionID, req.Shortcode)
			if err != nil {
				return menu.Frame{}, err
			}
		}
	}

	access := h.sessions.Bind(req.MSISDN, req.SessionID, req.Shortcode)

	if sess.CurrentMenu == "home" && sess.CustomerData == nil {
		sess = h.resolveCustomer(ctx, sess, access)
	}

	rc := registry.Context{Ctx: ctx, Session: sess, Access: access, Upstream: h.upstream}
	tc := menu.TurnContext{Customer: sess.CustomerData, Session: sess}
	state := menu.NewTurnState()

	var frame menu.Frame
	input := strings.TrimSpace(req.Input)
	if input == "" {
		frame = h.engine.Render(ctx, tc, state, rc, sess.CurrentMenu)
	} else {
		result := h.engine.Process(ctx, tc, rc, sess.CurrentMenu, input)
		frame = h.frameFromResult(ctx, tc, state, rc, result)
	}

	if frame.NextMenu != "" && frame.NextMenu != sess.CurrentMenu {
		patch := map[string]interface{}{
			"currentMenu": frame.NextMenu,
			"menuHistory": append(append([]string{}, sess.MenuHistory...), frame.NextMenu),
		}
		if _, err := access.Update(ctx, patch); err != nil {
			h.log.Error().Err(err).Msg("persist menu transition failed")
		}
	}

	if frame.Action == "end" {
		if err := h.sessions.Clear(ctx, req.MSISDN, req.SessionID, req.Shortcode); err != nil {
			h.log.Error().Err(err).Msg("clear session on end failed")
		}
	}

	return frame, nil
}

func (h *Handler) frameFromResult(ctx context.Context, tc menu.TurnContext, state *menu.TurnState, rc registry.Context, result menu.Result) menu.Frame {
	if result.ErrorMessage != "" {
		retry := result.RetryMenu
		if retry == "" {
			retry = rc.Session.CurrentMenu
		}
		return menu.Frame{Action: "con", Message: result.ErrorMessage, NextMenu: retry}
	}
	if result.Message == "" && result.NextMenu != "" {
		rendered := h.engine.Render(ctx, tc, state, rc, result.NextMenu)
		if rendered.NextMenu == "" {
			rendered.NextMenu = result.NextMenu
		}
		return rendered
	}
	action := result.Action
	if action == "" {
		action = "con"
	}
	return menu.Frame{Action: action, Message: result.Message, NextMenu: result.NextMenu}
}

// resolveCustomer performs the first-turn GETCUSTOMER lookup, falling back
// to a GUEST profile on upstream failure so the home menu can still render.
func (h *Handler) resolveCustomer(ctx context.Context, sess *session.Session, access *session.Access) *session.Session {
	env, err := h.upstream.GetCustomer(ctx, sess, access, false)
	var data session.CustomerData
	if err != nil || !env.Success {
		if err != nil {
			h.log.Warn().Err(err).Str("msisdn", upstream.MaskMSISDN(sess.MSISDN)).Msg("getCustomer failed, falling back to guest")
		}
		data = session.CustomerData{CustomerID: "GUEST"}
	} else {
		data = session.CustomerData{
			CustomerID: env.Fields["CUSTOMERID"],
			FirstName:  env.Fields["FIRSTNAME"],
			LastName:   env.Fields["LASTNAME"],
		}
		if data.CustomerID == "" {
			data.CustomerID = "GUEST"
		}
	}
	patch, err := session.ToPatch(map[string]interface{}{"customerData": data})
	if err != nil {
		h.log.Error().Err(err).Msg("encode customer patch failed")
		sess.CustomerData = &data
		return sess
	}
	updated, err := access.Update(ctx, patch)
	if err != nil {
		h.log.Error().Err(err).Msg("persist customer lookup failed")
		sess.CustomerData = &data
		return sess
	}
	return updated
}
