// Package menu implements the configuration-driven menu engine (C7): it
// turns a session's current menu name plus a subscriber's input into the
// next frame to show, consulting declarative Node definitions rather than
// compiled per-menu code.
package menu

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/vservices/ussd-gateway/internal/registry"
	"github.com/vservices/ussd-gateway/internal/session"
	"github.com/vservices/ussd-gateway/internal/upstream"
)

// Frame is the outward result of a render: an action ("con"/"end") plus the
// text shown to the subscriber, and the menu name the session should now
// record as current (empty if unchanged).
type Frame struct {
	Action   string
	Message  string
	NextMenu string
}

// Result is the outward shape of a process step, normalised per §4.7: a
// default action of "con", an optional forced next menu, and the
// error/retry fields the turn handler uses to decide whether to re-render.
type Result struct {
	Action       string
	Message      string
	NextMenu     string
	Error        string
	ErrorMessage string
	RetryMenu    string
}

// TurnContext bundles everything template substitution and condition
// evaluation may reference, mirroring §4.6's `context = {customer, session,
// data, transaction}`.
type TurnContext struct {
	Customer    *session.CustomerData  `json:"customer,omitempty"`
	Session     *session.Session       `json:"session,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Transaction map[string]interface{} `json:"transaction,omitempty"`
}

// TurnState is the per-turn, one-shot handler guard: created fresh by the
// turn handler for each request and discarded afterwards. It must never be
// stored on Engine, which is long-lived and shared across concurrent
// turns.
type TurnState struct {
	fired map[string]bool
}

// NewTurnState returns an empty guard.
func NewTurnState() *TurnState {
	return &TurnState{fired: map[string]bool{}}
}

func (s *TurnState) alreadyFired(node string) bool {
	return s.fired[node]
}

func (s *TurnState) markFired(node string) {
	s.fired[node] = true
}

// Engine holds the hot-reloadable node map and the collaborators (registry,
// upstream client, custom validators) that handler invocation and api_call
// actions need.
type Engine struct {
	nodes            atomic.Pointer[map[string]*Node]
	registry         *registry.Registry
	upstream         *upstream.Client
	customValidators *CustomValidators
	log              zerolog.Logger
}

// New builds an Engine with an initial, already-parsed node map.
func New(nodes map[string]*Node, reg *registry.Registry, upstreamClient *upstream.Client, validators *CustomValidators, log zerolog.Logger) *Engine {
	e := &Engine{
		registry:         reg,
		upstream:         upstreamClient,
		customValidators: validators,
		log:              log.With().Str("component", "menu").Logger(),
	}
	e.nodes.Store(&nodes)
	return e
}

// Swap atomically replaces the node map, e.g. after a hot-reload parse
// succeeds. In-flight turns that already captured a *Node keep rendering
// against the snapshot they read.
func (e *Engine) Swap(nodes map[string]*Node) {
	e.nodes.Store(&nodes)
}

func (e *Engine) lookup(name string) (*Node, bool) {
	m := *e.nodes.Load()
	n, ok := m[name]
	return n, ok
}

// Render resolves menuName into a Frame. rc is passed through to any
// handler the node declares, invoked with a nil input to signal a
// render-time (not input-time) call.
func (e *Engine) Render(ctx context.Context, tc TurnContext, state *TurnState, rc registry.Context, menuName string) Frame {
	if menuName == EndNode {
		return Frame{Action: "end", Message: "Thank you for using our service. Goodbye."}
	}

	node, ok := e.lookup(menuName)
	if !ok {
		e.log.Warn().Str("menu", menuName).Msg("render: menu not available")
		return Frame{Action: "con", Message: "Menu not available.", NextMenu: menuName}
	}

	if node.Handler != "" && !state.alreadyFired(node.Name) {
		state.markFired(node.Name)
		res, err := e.registry.Invoke(node.Handler, rc, nil)
		if err != nil {
			e.log.Error().Err(err).Str("handler", node.Handler).Msg("render handler failed")
		} else if res.Message != "" {
			action := "con"
			if res.End {
				action = "end"
			}
			return Frame{Action: action, Message: res.Message, NextMenu: res.GotoNode}
		}
	}

	return e.renderTemplate(node, tc)
}

func (e *Engine) renderTemplate(node *Node, tc TurnContext) Frame {
	ctxMap := toContextMap(tc)
	msg := substitute(node.Message, ctxMap)

	var sb strings.Builder
	sb.WriteString(msg)
	n := 0
	for _, opt := range node.Options {
		if opt.Condition != nil && !evalCondition(*opt.Condition, ctxMap) {
			continue
		}
		n++
		sb.WriteString(fmt.Sprintf("\n%d. %s", n, opt.Label))
	}
	if node.OnBack != "" || node.OnHome != "" || node.OnExit != "" || len(node.Navigation) > 0 {
		sb.WriteString("\n0. Back  00. Home  000. Exit")
	}

	return Frame{Action: "con", Message: strings.TrimRight(sb.String(), " \n\t"), NextMenu: ""}
}

// Process runs one input against menuName per §4.7 steps 1-5.
func (e *Engine) Process(ctx context.Context, tc TurnContext, rc registry.Context, menuName, input string) Result {
	node, ok := e.lookup(menuName)
	if !ok {
		e.log.Warn().Str("menu", menuName).Msg("process: menu not available")
		return Result{Action: "con", Message: "Menu not available.", RetryMenu: menuName}
	}

	if target, ok := e.navigationTarget(node, input); ok {
		return Result{Action: "con", NextMenu: target}
	}

	if node.Handler != "" {
		res, err := e.registry.Invoke(node.Handler, rc, &input)
		if err != nil {
			e.log.Error().Err(err).Str("handler", node.Handler).Msg("process handler failed")
			return Result{Action: "con", ErrorMessage: "Service temporarily unavailable. Please try again.", RetryMenu: menuName}
		}
		return fromHandlerResult(res)
	}

	if len(node.Options) > 0 {
		return e.processOptions(ctx, tc, rc, node, menuName, input)
	}

	if node.InputConfig != nil {
		return e.processInputConfig(ctx, tc, rc, node, menuName, input)
	}

	return Result{Error: "INVALID_INPUT", ErrorMessage: "Invalid selection. Please try again.", RetryMenu: menuName}
}

func (e *Engine) navigationTarget(node *Node, input string) (string, bool) {
	switch input {
	case reservedBack:
		if target, ok := node.Navigation["onBack"]; ok {
			return target, true
		}
		if node.OnBack != "" {
			return node.OnBack, true
		}
	case reservedHome:
		if target, ok := node.Navigation["onHome"]; ok {
			return target, true
		}
		if node.OnHome != "" {
			return node.OnHome, true
		}
	case reservedExit:
		if target, ok := node.Navigation["onExit"]; ok {
			return target, true
		}
		if node.OnExit != "" {
			return EndNode, true
		}
	}
	if target, ok := node.Navigation[input]; ok {
		return target, true
	}
	return "", false
}

func fromHandlerResult(res registry.Result) Result {
	action := "con"
	if res.End {
		action = "end"
	}
	return Result{Action: action, Message: res.Message, NextMenu: res.GotoNode}
}

func (e *Engine) processOptions(ctx context.Context, tc TurnContext, rc registry.Context, node *Node, menuName, input string) Result {
	idx, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || idx < 1 {
		return Result{Error: "INVALID_INPUT", ErrorMessage: "Invalid selection. Please try again.", RetryMenu: menuName}
	}

	ctxMap := toContextMap(tc)
	visible := make([]Option, 0, len(node.Options))
	for _, opt := range node.Options {
		if opt.Condition != nil && !evalCondition(*opt.Condition, ctxMap) {
			continue
		}
		visible = append(visible, opt)
	}
	if idx > len(visible) {
		return Result{Error: "INVALID_INPUT", ErrorMessage: "Invalid selection. Please try again.", RetryMenu: menuName}
	}
	opt := visible[idx-1]

	if opt.Condition != nil && !evalCondition(*opt.Condition, ctxMap) {
		return Result{ErrorMessage: "That option is not available right now.", RetryMenu: menuName}
	}

	for _, st := range opt.Store {
		value := st.StoreValue
		if st.Path != "" {
			if v, ok := resolveDottedPath(ctxMap, st.Path); ok {
				value = fmt.Sprintf("%v", v)
			}
		}
		if err := rc.Access.Store(ctx, st.Slot, value); err != nil {
			e.log.Error().Err(err).Str("slot", st.Slot).Msg("store directive failed")
		}
	}

	if opt.Action != nil {
		return e.runAction(ctx, rc, *opt.Action, menuName)
	}
	if opt.Handler != "" {
		res, err := e.registry.Invoke(opt.Handler, rc, &input)
		if err != nil {
			return Result{ErrorMessage: "Service temporarily unavailable. Please try again.", RetryMenu: menuName}
		}
		return fromHandlerResult(res)
	}
	return Result{Action: "con", NextMenu: opt.NextMenu}
}

func (e *Engine) processInputConfig(ctx context.Context, tc TurnContext, rc registry.Context, node *Node, menuName, input string) Result {
	cfg := node.InputConfig
	if err := e.validateInput(cfg, input); err != nil {
		return Result{ErrorMessage: err.Error(), RetryMenu: menuName}
	}
	value := input
	if cfg.Transform != "" {
		value = ApplyTransform(cfg.Transform, value)
	}
	if cfg.StoreKey != "" {
		if err := rc.Access.Store(ctx, cfg.StoreKey, value); err != nil {
			e.log.Error().Err(err).Str("slot", cfg.StoreKey).Msg("store input failed")
		}
	}
	if cfg.Handler != "" {
		res, err := e.registry.Invoke(cfg.Handler, rc, &value)
		if err != nil {
			return Result{ErrorMessage: "Service temporarily unavailable. Please try again.", RetryMenu: menuName}
		}
		return fromHandlerResult(res)
	}
	return Result{Action: "con", NextMenu: cfg.NextMenu}
}

func (e *Engine) runAction(ctx context.Context, rc registry.Context, action Action, menuName string) Result {
	if action.Type != "api_call" {
		return Result{ErrorMessage: "Unsupported action.", RetryMenu: menuName}
	}
	env, err := e.upstream.Call(ctx, action.Form, rc.Session, "", rc.Access, "", false)
	if err != nil || !env.Success {
		return Result{Error: "API_ERROR", ErrorMessage: "Service temporarily unavailable. Please try again.", RetryMenu: action.NextMenuOnError}
	}
	if action.StoreAs != "" {
		if err := rc.Access.Store(ctx, action.StoreAs, env.Data); err != nil {
			e.log.Error().Err(err).Str("slot", action.StoreAs).Msg("store action result failed")
		}
	}
	return Result{Action: "con", NextMenu: action.NextMenuOnSuccess}
}

// evalCondition implements the {field, operator, value} predicate language.
func evalCondition(c Condition, ctxMap map[string]interface{}) bool {
	fieldVal, exists := resolveDottedPath(ctxMap, c.Field)
	switch c.Operator {
	case "exists":
		return exists
	case "not_exists":
		return !exists
	case "equals":
		return exists && fmt.Sprintf("%v", fieldVal) == fmt.Sprintf("%v", c.Value)
	case "not_equals":
		return !exists || fmt.Sprintf("%v", fieldVal) != fmt.Sprintf("%v", c.Value)
	case "contains":
		return exists && strings.Contains(fmt.Sprintf("%v", fieldVal), fmt.Sprintf("%v", c.Value))
	case "in":
		if !exists {
			return false
		}
		list, ok := c.Value.([]interface{})
		if !ok {
			return false
		}
		for _, item := range list {
			if fmt.Sprintf("%v", item) == fmt.Sprintf("%v", fieldVal) {
				return true
			}
		}
		return false
	case "greater_than", "less_than":
		if !exists {
			return false
		}
		a, aOK := toFloat(fieldVal)
		b, bOK := toFloat(c.Value)
		if !aOK || !bOK {
			return false
		}
		if c.Operator == "greater_than" {
			return a > b
		}
		return a < b
	default:
		return false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// toContextMap round-trips tc through JSON so dotted-path resolution can
// walk it generically regardless of Go field names/casing.
func toContextMap(tc TurnContext) map[string]interface{} {
	b, err := json.Marshal(tc)
	if err != nil {
		return map[string]interface{}{}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]interface{}{}
	}
	return m
}

// resolveDottedPath walks a map[string]interface{} tree by a "a.b.c" path.
func resolveDottedPath(m map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var cur interface{} = m
	for _, p := range parts {
		asMap, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := asMap[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// substitute replaces every {dotted.path} placeholder in msg by its value
// resolved against ctxMap; an unresolved placeholder is left untouched so
// a misconfigured menu fails loud in a QA environment rather than silently
// dropping text.
func substitute(msg string, ctxMap map[string]interface{}) string {
	var out strings.Builder
	i := 0
	for i < len(msg) {
		start := strings.IndexByte(msg[i:], '{')
		if start < 0 {
			out.WriteString(msg[i:])
			break
		}
		start += i
		end := strings.IndexByte(msg[start:], '}')
		if end < 0 {
			out.WriteString(msg[i:])
			break
		}
		end += start
		out.WriteString(msg[i:start])
		path := msg[start+1 : end]
		if v, ok := resolveDottedPath(ctxMap, path); ok {
			out.WriteString(fmt.Sprintf("%v", v))
		} else {
			out.WriteString(msg[start : end+1])
		}
		i = end + 1
	}
	return out.String()
}
