package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/lexandro/tokenindex-mcp/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Indexer_VerifyConsistent(t *testing.T) {
	f := newFixture(t, Options{})
	writeFile(t, f.path("util.py"), utilPy)
	writeFile(t, f.path("notes.md"), "Remember the `retryLimit` setting.\n")
	runPass(t, f.indexer, PassOptions{})

	report, err := f.indexer.Verify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.True(t, report.Consistent())
}

func Test_Indexer_VerifyAndRepair(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	writeFile(t, f.path("a.go"), "package a\n\nvar alphaToken = 1\n")
	writeFile(t, f.path("b.go"), "package b\n\nvar betaToken = 2\n")
	runPass(t, f.indexer, PassOptions{})

	stray := filepath.Join(t.TempDir(), "stray.go")
	require.NoError(t, f.store.AddOrReplace(index.Document{Path: f.path("a.go"), Code: []string{"a", "tampered"}}))
	require.NoError(t, f.store.AddOrReplace(index.Document{Path: stray, Code: []string{"strayToken"}}))
	f.store.Remove(f.path("b.go"))
	require.NoError(t, f.store.Commit(ctx))

	report, err := f.indexer.Verify(ctx)
	require.NoError(t, err)
	assert.False(t, report.Consistent())
	assert.Equal(t, []string{f.path("b.go")}, report.MissingInIndex)
	assert.Equal(t, []string{stray}, report.MissingInState)
	require.Len(t, report.Divergent, 1)
	assert.Equal(t, f.path("a.go"), report.Divergent[0].Path)
	assert.Contains(t, report.Divergent[0].Diff, "-code alphaToken")
	assert.Contains(t, report.Divergent[0].Diff, "+code tampered")

	require.NoError(t, f.indexer.Repair(ctx, report))
	result := runPass(t, f.indexer, PassOptions{})
	assert.Equal(t, 2, result.Updated)

	report, err = f.indexer.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assert.Equal(t, []string{f.path("a.go")}, f.search(t, "alphaToken"))
	assert.Equal(t, []string{f.path("b.go")}, f.search(t, "betaToken"))
	assert.Empty(t, f.search(t, "strayToken"))
}

func Test_tokenLines(t *testing.T) {
	assert.Equal(t, []string{"code Foo\n", "text bar\n"}, tokenLines([]string{"Foo"}, []string{"bar"}))
	assert.Empty(t, tokenLines(nil, nil))
}
