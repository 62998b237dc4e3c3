// Package registry implements the reflection-based operation dispatch (C5)
// that lets the menu engine invoke an action module's handler by name
// without either side importing the other.
package registry

import (
	"context"
	"reflect"

	"github.com/pkg/errors"

	"github.com/vservices/ussd-gateway/internal/session"
	"github.com/vservices/ussd-gateway/internal/upstream"
)

// Result is what a handler returns: an optional message override for the
// current render, an optional forced navigation target, and a flag telling
// the turn handler to end the USSD session immediately.
type Result struct {
	Message  string
	GotoNode string
	End      bool
}

// Context is the single argument every handler receives besides input: a
// bundle of everything an action module might need, so handler signatures
// never grow new positional parameters as modules are added.
type Context struct {
	Ctx       context.Context
	Session   *session.Session
	Access    *session.Access
	Upstream  *upstream.Client
	AccountID string
}

// Handler is the uniform shape every registered operation must satisfy.
// input is nil when invoked at render time (the menu node is about to be
// displayed) and non-nil when invoked at process time (the subscriber just
// submitted input for this node); a handler that behaves identically in
// both cases may simply ignore the distinction.
type Handler func(rc Context, input *string) (Result, error)

// ErrNotFound is returned by Lookup/Invoke when no handler is registered
// under the given name.
var ErrNotFound = errors.New("registry: handler not found")

// Registry is a name -> Handler table, built once at startup via Register
// or Discover and read concurrently thereafter.
type Registry struct {
	handlers map[string]Handler
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register binds name to fn directly, overwriting any previous binding.
func (r *Registry) Register(name string, fn Handler) {
	r.handlers[name] = fn
}

// Alias binds an additional name to the handler already registered under
// existing, so a menu action can reference either name.
func (r *Registry) Alias(existing, alias string) error {
	fn, ok := r.handlers[existing]
	if !ok {
		return errors.Wrapf(ErrNotFound, "%s", existing)
	}
	r.handlers[alias] = fn
	return nil
}

// Discover reflects over module and registers one handler per exported
// method with the signature func(Context, *string) (Result, error), named
// prefix plus the method name. Methods of any other signature are skipped;
// a module with no matching method is an error. It mirrors the teacher's
// ms.Service pattern of deriving a dispatch table from a struct's method
// set instead of hand-listing every operation.
func (r *Registry) Discover(prefix string, module interface{}) error {
	handlerType := reflect.TypeOf((*Handler)(nil)).Elem()
	v := reflect.ValueOf(module)
	t := v.Type()
	registered := 0
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		fnValue := v.Method(i)
		if !fnValue.Type().ConvertibleTo(handlerType) {
			continue
		}
		fn := fnValue.Interface().(func(Context, *string) (Result, error))
		r.handlers[prefix+m.Name] = fn
		registered++
	}
	if registered == 0 {
		return errors.Errorf("discover(%s): module %T exposed no matching methods", prefix, module)
	}
	return nil
}

// Lookup returns the handler bound to name.
func (r *Registry) Lookup(name string) (Handler, error) {
	fn, ok := r.handlers[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%s", name)
	}
	return fn, nil
}

// Invoke looks up name and calls it with rc and input.
func (r *Registry) Invoke(name string, rc Context, input *string) (Result, error) {
	fn, err := r.Lookup(name)
	if err != nil {
		return Result{}, err
	}
	return fn(rc, input)
}
