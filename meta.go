package unireq

import (
	"strings"
)

// Kind tags what a policy does. The set is closed.
type Kind string

const (
	KindAuth           Kind = "auth"
	KindParser         Kind = "parser"
	KindRetry          Kind = "retry"
	KindCache          Kind = "cache"
	KindTimeout        Kind = "timeout"
	KindRateLimit      Kind = "ratelimit"
	KindCircuitBreaker Kind = "circuit-breaker"
	KindDedupe         Kind = "dedupe"
	KindAudit          Kind = "audit"
	KindTiming         Kind = "timing"
	KindTracing        Kind = "tracing"
	KindLogging        Kind = "logging"
	KindMetrics        Kind = "metrics"
	KindOther          Kind = "other"
)

var kinds = map[Kind]struct{}{
	KindAuth: {}, KindParser: {}, KindRetry: {}, KindCache: {}, KindTimeout: {},
	KindRateLimit: {}, KindCircuitBreaker: {}, KindDedupe: {}, KindAudit: {},
	KindTiming: {}, KindTracing: {}, KindLogging: {}, KindMetrics: {}, KindOther: {},
}

// Valid reports whether k belongs to the closed kind set.
func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

// Descriptor is what a policy factory declares about the policy it returns.
type Descriptor struct {
	Name    string
	Kind    Kind
	Options map[string]any
	// Children are sub-policies the policy is built from. They are listed,
	// not flattened, so tooling can render the nesting.
	Children []Policy
	Branch   *BranchSpec
}

// BranchSpec describes a conditional policy.
type BranchSpec struct {
	Predicate string
	Then      []Policy
	Else      []Policy
}

// Meta is one node of a composed policy graph.
type Meta struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Kind     Kind           `json:"kind"`
	Options  map[string]any `json:"options,omitempty"`
	Children []Meta         `json:"children,omitempty"`
	Branch   *BranchMeta    `json:"branch,omitempty"`
}

// BranchMeta is the rendered form of a BranchSpec.
type BranchMeta struct {
	Predicate string `json:"predicate"`
	Then      []Meta `json:"thenBranch"`
	Else      []Meta `json:"elseBranch"`
}

// RedactedValue replaces option values whose key looks like a credential.
const RedactedValue = "[REDACTED]"

var secretKeyFragments = []string{
	"token", "secret", "password", "passwd", "apikey", "api_key", "api-key",
	"authorization", "credential", "private_key", "privatekey",
}

// isSecretKey reports whether an option key names a credential.
func isSecretKey(key string) bool {
	k := strings.ToLower(key)
	if k == "key" || k == "pass" {
		return true
	}
	for _, frag := range secretKeyFragments {
		if strings.Contains(k, frag) {
			return true
		}
	}
	return false
}

// RedactOptions returns a copy of opts with credential-looking keys masked.
// Nested maps are redacted recursively; extra names extend the built-in list.
func RedactOptions(opts map[string]any, extra ...string) map[string]any {
	if opts == nil {
		return nil
	}
	out := make(map[string]any, len(opts))
	for k, v := range opts {
		if isSecretKey(k) || matchesAny(k, extra) {
			out[k] = RedactedValue
			continue
		}
		switch nested := v.(type) {
		case map[string]any:
			out[k] = RedactOptions(nested, extra...)
		case map[string]string:
			m := make(map[string]any, len(nested))
			for nk, nv := range nested {
				m[nk] = nv
			}
			out[k] = RedactOptions(m, extra...)
		default:
			out[k] = v
		}
	}
	return out
}

func matchesAny(key string, names []string) bool {
	for _, n := range names {
		if strings.EqualFold(key, n) {
			return true
		}
	}
	return false
}
