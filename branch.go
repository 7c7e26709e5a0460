package unireq

import (
	"context"
)

// When runs the then policies for requests matching pred and the otherwise
// policies for the rest. Either list may be empty. predicate names pred in
// inspection output.
func When(predicate string, pred func(*Request) bool, then, otherwise []Policy) Policy {
	thenRun := fold(then)
	elseRun := fold(otherwise)

	fn := func(ctx context.Context, req *Request, next Next) (*Response, error) {
		if pred != nil && pred(req) {
			return thenRun(ctx, req, next)
		}
		return elseRun(ctx, req, next)
	}

	return Define(fn, Descriptor{
		Name:   "when",
		Kind:   KindOther,
		Branch: &BranchSpec{Predicate: predicate, Then: then, Else: otherwise},
	})
}
