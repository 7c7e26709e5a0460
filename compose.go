package unireq

import (
	"context"
	"maps"
)

// Composer folds policies into handlers and assigns graph identifiers.
type Composer struct {
	ids IDGenerator
}

// ComposerOption configures a Composer.
type ComposerOption func(*Composer)

// WithIDGenerator sets the identifier strategy. Tests pass SequentialIDs().
func WithIDGenerator(gen IDGenerator) ComposerOption {
	return func(c *Composer) {
		if gen != nil {
			c.ids = gen
		}
	}
}

// NewComposer returns a composer using random identifiers unless configured otherwise.
func NewComposer(opts ...ComposerOption) *Composer {
	c := &Composer{ids: RandomIDs()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultComposer backs the package-level Compose.
var DefaultComposer = NewComposer()

// Compose folds policies with DefaultComposer.
func Compose(policies ...Policy) *Handler {
	return DefaultComposer.Compose(policies...)
}

// Handler is the result of composition: one executable chain plus the graph
// describing it. Both are fixed at construction.
type Handler struct {
	run      PolicyFunc
	graph    []Meta
	policies []Policy
}

// Compose folds policies into a handler. policies[0] sees the request first
// and the response last. Nothing executes until the handler is served.
func (c *Composer) Compose(policies ...Policy) *Handler {
	ps := append([]Policy(nil), policies...)

	return &Handler{run: fold(ps), graph: c.Describe(ps...), policies: ps}
}

// fold nests ps so that ps[0] is outermost.
func fold(ps []Policy) PolicyFunc {
	run := PolicyFunc(func(ctx context.Context, req *Request, next Next) (*Response, error) {
		return next(ctx, req)
	})
	for i := len(ps) - 1; i >= 0; i-- {
		run = chain(ps[i], run)
	}
	return run
}

func chain(p Policy, inner PolicyFunc) PolicyFunc {
	return func(ctx context.Context, req *Request, terminal Next) (*Response, error) {
		return p.Run(ctx, req, func(ctx context.Context, r *Request) (*Response, error) {
			return inner(ctx, r, terminal)
		})
	}
}

// Describe returns graph nodes for the tagged policies among ps.
func (c *Composer) Describe(ps ...Policy) []Meta {
	out := make([]Meta, 0, len(ps))
	for _, p := range ps {
		if m, ok := c.describe(p); ok {
			out = append(out, m)
		}
	}
	return out
}

func (c *Composer) describe(p Policy) (Meta, bool) {
	if p.desc == nil {
		return Meta{}, false
	}
	d := p.desc
	m := Meta{
		ID:      c.ids.Next(d.Name),
		Name:    d.Name,
		Kind:    d.Kind,
		Options: maps.Clone(d.Options),
	}
	if len(d.Children) > 0 {
		m.Children = c.Describe(d.Children...)
	}
	if d.Branch != nil {
		m.Branch = &BranchMeta{
			Predicate: d.Branch.Predicate,
			Then:      c.Describe(d.Branch.Then...),
			Else:      c.Describe(d.Branch.Else...),
		}
	}
	return m, true
}

// Serve runs the chain with terminal as the innermost step.
func (h *Handler) Serve(ctx context.Context, req *Request, terminal Next) (*Response, error) {
	if req == nil {
		return nil, newError(ErrorTypeValidation, "nil request", nil, nil)
	}
	if terminal == nil {
		return nil, newError(ErrorTypeValidation, "no terminal connector", req, nil)
	}
	return h.run(ctx, req, terminal)
}

// Bind closes the chain over conn.
func (h *Handler) Bind(conn Connector) Next {
	return func(ctx context.Context, req *Request) (*Response, error) {
		if conn == nil {
			return h.Serve(ctx, req, nil)
		}
		return h.Serve(ctx, req, conn.Request)
	}
}

// Graph returns a copy of the composed graph in declaration order.
func (h *Handler) Graph() []Meta {
	if h == nil {
		return nil
	}
	return cloneGraph(h.graph)
}

// Len returns the number of composed policies, tagged or not.
func (h *Handler) Len() int {
	return len(h.policies)
}

// Policy re-tags the composed chain as a single policy whose children are the
// composed policies, so a handler can be nested inside another composition.
func (h *Handler) Policy(name string, kind Kind) Policy {
	return Define(h.run, Descriptor{
		Name:     name,
		Kind:     kind,
		Children: h.policies,
	})
}

func cloneGraph(g []Meta) []Meta {
	if g == nil {
		return nil
	}
	out := make([]Meta, len(g))
	for i, m := range g {
		out[i] = m
		out[i].Options = maps.Clone(m.Options)
		out[i].Children = cloneGraph(m.Children)
		if m.Branch != nil {
			out[i].Branch = &BranchMeta{
				Predicate: m.Branch.Predicate,
				Then:      cloneGraph(m.Branch.Then),
				Else:      cloneGraph(m.Branch.Else),
			}
		}
	}
	return out
}
