package unireq

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isAdmin(req *Request) bool {
	return strings.Contains(req.URL, "/admin/")
}

func TestWhenSelectsBranch(t *testing.T) {
	p := When("admin path", isAdmin, []Policy{Bearer("admin")}, []Policy{APIKey("X-Key", "public")})
	conn := &recordingConnector{}
	do := Compose(p).Bind(conn)

	_, err := do(context.Background(), NewRequest("GET", "http://example.test/admin/users"))
	require.NoError(t, err)
	assert.Equal(t, "Bearer admin", conn.Last().Header.Get("Authorization"))
	assert.Empty(t, conn.Last().Header.Get("X-Key"))

	_, err = do(context.Background(), NewRequest("GET", "http://example.test/items"))
	require.NoError(t, err)
	assert.Empty(t, conn.Last().Header.Get("Authorization"))
	assert.Equal(t, "public", conn.Last().Header.Get("X-Key"))
}

func TestWhenEmptyBranchesPassThrough(t *testing.T) {
	conn := &recordingConnector{}
	do := Compose(When("never", nil, []Policy{Bearer("x")}, nil)).Bind(conn)
	resp, err := do(context.Background(), NewRequest("GET", "http://example.test/"))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text())
	assert.Empty(t, conn.Last().Header.Get("Authorization"))
}

func TestWhenGraph(t *testing.T) {
	p := When("admin path", isAdmin, []Policy{Bearer("s3cret"), tagged("extra", KindOther)}, []Policy{Func(nil)})
	h := testComposer().Compose(p)
	g := h.Graph()
	require.Len(t, g, 1)

	b := g[0].Branch
	require.NotNil(t, b)
	assert.Equal(t, "admin path", b.Predicate)
	require.Len(t, b.Then, 2)
	assert.Equal(t, "bearer", b.Then[0].Name)
	assert.Equal(t, RedactedValue, b.Then[0].Options["token"])
	assert.Empty(t, b.Else, "untagged policies stay out of the graph")

	assert.Len(t, Find(h, KindAuth), 1, "Find descends into branches")
	assert.NoError(t, AssertHas(h, KindAuth))

	tree, err := Inspect(h, InspectOptions{Format: FormatTree})
	require.NoError(t, err)
	assert.Contains(t, tree, "admin path")
	assert.NotContains(t, tree, "s3cret")
}
