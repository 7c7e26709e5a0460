package unireq

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator assigns graph node identifiers at composition time.
type IDGenerator interface {
	Next(name string) string
}

// IDGeneratorFunc adapts a function to IDGenerator.
type IDGeneratorFunc func(name string) string

// Next implements IDGenerator.
func (f IDGeneratorFunc) Next(name string) string { return f(name) }

// RandomIDs yields name#<8 hex chars>, unique across instances without
// coordination. It is the production default.
func RandomIDs() IDGenerator {
	return IDGeneratorFunc(func(name string) string {
		id := uuid.New()
		return name + "#" + strings.ReplaceAll(id.String(), "-", "")[:8]
	})
}

// SequentialGenerator yields name#1, name#2, ... from one counter shared by
// all names. Tests use it for stable output.
type SequentialGenerator struct {
	n atomic.Int64
}

// SequentialIDs returns a fresh counter starting at 1.
func SequentialIDs() *SequentialGenerator {
	return &SequentialGenerator{}
}

// Next implements IDGenerator.
func (g *SequentialGenerator) Next(name string) string {
	return name + "#" + strconv.FormatInt(g.n.Add(1), 10)
}

// Reset restarts the counter.
func (g *SequentialGenerator) Reset() {
	g.n.Store(0)
}
