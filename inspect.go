package unireq

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Inspectable is anything that can describe its policy graph: a Policy, a
// composed *Handler or a *Client.
type Inspectable interface {
	Graph() []Meta
}

// Format selects Inspect output.
type Format string

const (
	FormatJSON Format = "json"
	FormatTree Format = "tree"
)

// Empty-graph markers.
const (
	EmptyJSON = "[]"
	EmptyTree = "(empty policy chain)"
)

// InspectOptions controls Inspect.
type InspectOptions struct {
	Format Format
	// Redact lists extra option keys to mask on top of the built-in list.
	Redact []string
}

// Inspect renders target's graph as JSON or as an ASCII tree.
func Inspect(target Inspectable, opts InspectOptions) (string, error) {
	graph := graphOf(target)
	if len(opts.Redact) > 0 {
		graph = redactGraph(graph, opts.Redact)
	}

	switch opts.Format {
	case FormatJSON, "":
		if len(graph) == 0 {
			return EmptyJSON, nil
		}
		b, err := json.MarshalIndent(graph, "", "  ")
		if err != nil {
			return "", SerializationError(nil, "encode policy graph", err)
		}
		return string(b), nil
	case FormatTree:
		if len(graph) == 0 {
			return EmptyTree, nil
		}
		return renderTree(graph), nil
	default:
		return "", newError(ErrorTypeValidation, fmt.Sprintf("unknown inspect format %q", opts.Format), nil, nil)
	}
}

// AssertHas returns an error unless some node of target's graph, searched
// through children and both branch arms, has the given kind.
func AssertHas(target Inspectable, kind Kind) error {
	graph := graphOf(target)
	if len(Find(target, kind)) > 0 {
		return nil
	}
	seen := make([]string, 0)
	Walk(graph, func(m Meta, _ int) bool {
		seen = append(seen, fmt.Sprintf("%s(%s)", m.Name, m.Kind))
		return true
	})
	msg := fmt.Sprintf("expected a policy of kind %q in the chain", kind)
	if len(seen) == 0 {
		msg += "; chain is empty"
	} else {
		msg += "; found " + strings.Join(seen, ", ")
	}
	return newError(ErrorTypeValidation, msg, nil, nil)
}

// MustHave panics when AssertHas fails.
func MustHave(target Inspectable, kind Kind) {
	if err := AssertHas(target, kind); err != nil {
		panic(err)
	}
}

// Find returns every node of the given kind, depth first.
func Find(target Inspectable, kind Kind) []Meta {
	var out []Meta
	Walk(graphOf(target), func(m Meta, _ int) bool {
		if m.Kind == kind {
			out = append(out, m)
		}
		return true
	})
	return out
}

// Walk visits nodes depth first: a node, its children, then its then and else
// branches. Returning false from fn skips the node's descendants.
func Walk(graph []Meta, fn func(m Meta, depth int) bool) {
	walk(graph, 0, fn)
}

func walk(graph []Meta, depth int, fn func(Meta, int) bool) {
	for _, m := range graph {
		if !fn(m, depth) {
			continue
		}
		walk(m.Children, depth+1, fn)
		if m.Branch != nil {
			walk(m.Branch.Then, depth+1, fn)
			walk(m.Branch.Else, depth+1, fn)
		}
	}
}

func graphOf(target Inspectable) []Meta {
	if target == nil {
		return nil
	}
	if v := reflect.ValueOf(target); v.Kind() == reflect.Pointer && v.IsNil() {
		return nil
	}
	return target.Graph()
}

func redactGraph(graph []Meta, extra []string) []Meta {
	out := cloneGraph(graph)
	for i := range out {
		out[i].Options = RedactOptions(out[i].Options, extra...)
		out[i].Children = redactGraph(out[i].Children, extra)
		if b := out[i].Branch; b != nil {
			b.Then = redactGraph(b.Then, extra)
			b.Else = redactGraph(b.Else, extra)
		}
	}
	return out
}

type treeItem struct {
	label string
	kids  []treeItem
}

func toItems(graph []Meta) []treeItem {
	items := make([]treeItem, 0, len(graph))
	for _, m := range graph {
		item := treeItem{label: nodeLabel(m), kids: toItems(m.Children)}
		if b := m.Branch; b != nil {
			pred := treeItem{label: "? " + b.Predicate}
			if len(b.Then) > 0 {
				pred.kids = append(pred.kids, treeItem{label: "then:", kids: toItems(b.Then)})
			}
			if len(b.Else) > 0 {
				pred.kids = append(pred.kids, treeItem{label: "else:", kids: toItems(b.Else)})
			}
			item.kids = append(item.kids, pred)
		}
		items = append(items, item)
	}
	return items
}

func nodeLabel(m Meta) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%s) [%s]", m.Name, m.Kind, m.ID)
	if len(m.Options) > 0 {
		keys := make([]string, 0, len(m.Options))
		for k := range m.Options {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, m.Options[k]))
		}
		sb.WriteString(" {" + strings.Join(parts, ", ") + "}")
	}
	return sb.String()
}

func renderTree(graph []Meta) string {
	var sb strings.Builder
	writeItems(&sb, toItems(graph), "")
	return strings.TrimRight(sb.String(), "\n")
}

func writeItems(sb *strings.Builder, items []treeItem, prefix string) {
	for i, item := range items {
		last := i == len(items)-1
		connector, childPrefix := "├─ ", prefix+"│  "
		if last {
			connector, childPrefix = "└─ ", prefix+"   "
		}
		sb.WriteString(prefix + connector + item.label + "\n")
		writeItems(sb, item.kids, childPrefix)
	}
}
