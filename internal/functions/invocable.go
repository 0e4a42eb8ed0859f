// Package functions resolves step func references to invocable units of work.
package functions

import (
	"context"
	"slices"
)

// Invocable is a unit of work a step calls with its resolved arguments.
type Invocable interface {
	Name() string
	// Signature returns the accepted parameters, or nil when any argument name is accepted.
	Signature() *Signature
	Call(ctx context.Context, args map[string]any) (any, error)
}

// Param is one parameter of an invocable.
type Param struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
}

// Signature lists the parameters an invocable accepts.
type Signature struct {
	Params []Param `json:"params"`
}

// Accepts reports whether name is a declared parameter.
func (s *Signature) Accepts(name string) bool {
	return slices.ContainsFunc(s.Params, func(p Param) bool { return p.Name == name })
}

// Required returns the names of required parameters in declaration order.
func (s *Signature) Required() []string {
	var names []string
	for _, p := range s.Params {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

// Req declares a required parameter.
func Req(name string) Param { return Param{Name: name, Required: true} }

// Opt declares an optional parameter.
func Opt(name string) Param { return Param{Name: name} }

// Func is the Go shape of a registered step function.
type Func func(ctx context.Context, args map[string]any) (any, error)

type funcInvocable struct {
	name string
	sig  *Signature
	fn   Func
}

// NewFunc wraps fn as an Invocable with a fixed signature.
func NewFunc(name string, params []Param, fn Func) Invocable {
	return &funcInvocable{name: name, sig: &Signature{Params: params}, fn: fn}
}

func (f *funcInvocable) Name() string          { return f.name }
func (f *funcInvocable) Signature() *Signature { return f.sig }
func (f *funcInvocable) Call(ctx context.Context, args map[string]any) (any, error) {
	return f.fn(ctx, args)
}
