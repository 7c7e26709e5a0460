package unireq

import (
	"context"
)

// Next invokes the rest of the chain, terminal connector included.
type Next func(ctx context.Context, req *Request) (*Response, error)

// PolicyFunc is one middleware step. It may call next zero times
// (short-circuit), once, or several times (retry).
type PolicyFunc func(ctx context.Context, req *Request, next Next) (*Response, error)

// Policy pairs a PolicyFunc with the metadata describing it. The zero value
// passes requests through untouched.
type Policy struct {
	fn   PolicyFunc
	desc *Descriptor
}

// Func wraps fn as an untagged policy. It runs like any other policy but
// contributes no node to inspection output.
func Func(fn PolicyFunc) Policy {
	return Policy{fn: fn}
}

// Define wraps fn with metadata. Options are redacted here, so credentials
// never reach inspection output. The runtime behaviour of fn is unchanged.
func Define(fn PolicyFunc, d Descriptor) Policy {
	if d.Name == "" {
		d.Name = "anonymous"
	}
	if !d.Kind.Valid() {
		d.Kind = KindOther
	}
	d.Options = RedactOptions(d.Options)
	d.Children = append([]Policy(nil), d.Children...)
	if d.Branch != nil {
		b := *d.Branch
		b.Then = append([]Policy(nil), b.Then...)
		b.Else = append([]Policy(nil), b.Else...)
		d.Branch = &b
	}
	return Policy{fn: fn, desc: &d}
}

// Run executes the policy.
func (p Policy) Run(ctx context.Context, req *Request, next Next) (*Response, error) {
	if p.fn == nil {
		return next(ctx, req)
	}
	return p.fn(ctx, req, next)
}

// Tagged reports whether the policy carries metadata.
func (p Policy) Tagged() bool {
	return p.desc != nil
}

// Name returns the declared name, or "" for untagged policies.
func (p Policy) Name() string {
	if p.desc == nil {
		return ""
	}
	return p.desc.Name
}

// Kind returns the declared kind, or "" for untagged policies.
func (p Policy) Kind() Kind {
	if p.desc == nil {
		return ""
	}
	return p.desc.Kind
}

// Graph describes the policy using DefaultComposer's identifiers.
func (p Policy) Graph() []Meta {
	return DefaultComposer.Describe(p)
}
