package index

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewMemStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s *Store, docs ...Document) {
	t.Helper()
	for _, doc := range docs {
		require.NoError(t, s.AddOrReplace(doc))
	}
	require.NoError(t, s.Commit(context.Background()))
}

func Test_Store_SearchExactWholeTokens(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s,
		Document{Path: "/r/a.py", Language: "Python", Code: []string{"chain", "itertools"}},
		Document{Path: "/r/b.py", Language: "Python", Code: []string{"iter"}},
	)

	got, err := s.SearchExact(ctx, []string{"itertools"}, []Field{FieldCode}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"/r/a.py"}, got)

	got, err = s.SearchExact(ctx, []string{"iter"}, []Field{FieldCode}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"/r/b.py"}, got)

	got, err = s.SearchExact(ctx, []string{"tools"}, []Field{FieldCode}, true)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func Test_Store_CaseAndFields(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s, Document{Path: "/r/a.go", Code: []string{"ParseConfig"}, Text: []string{"parser"}})

	got, err := s.SearchExact(ctx, []string{"parseconfig"}, []Field{FieldCode}, true)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.SearchExact(ctx, []string{Fold("PARSECONFIG")}, []Field{FieldCodeFolded}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"/r/a.go"}, got)

	got, err = s.SearchExact(ctx, []string{"parser"}, []Field{FieldCode}, true)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.SearchExact(ctx, []string{"parser"}, []Field{FieldCode, FieldText}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"/r/a.go"}, got)
}

func Test_Store_AllAndAny(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s,
		Document{Path: "/r/c.go", Code: []string{"alpha", "beta"}},
		Document{Path: "/r/a.go", Code: []string{"alpha"}},
		Document{Path: "/r/b.go", Code: []string{"beta"}},
	)

	all, err := s.SearchExact(ctx, []string{"alpha", "beta"}, []Field{FieldCode}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"/r/c.go"}, all)

	anyOf, err := s.SearchExact(ctx, []string{"alpha", "beta"}, []Field{FieldCode}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"/r/a.go", "/r/b.go", "/r/c.go"}, anyOf)
}

func Test_Store_StagedWritesInvisibleUntilCommit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s, Document{Path: "/r/a.go", Code: []string{"old"}})

	require.NoError(t, s.AddOrReplace(Document{Path: "/r/a.go", Code: []string{"new"}}))
	s.Remove("/r/gone.go")
	assert.Equal(t, 2, s.Staged())

	got, err := s.SearchExact(ctx, []string{"new"}, []Field{FieldCode}, true)
	require.NoError(t, err)
	assert.Empty(t, got, "staged document must not be visible")

	require.NoError(t, s.Commit(ctx))
	got, err = s.SearchExact(ctx, []string{"new"}, []Field{FieldCode}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"/r/a.go"}, got)

	got, err = s.SearchExact(ctx, []string{"old"}, []Field{FieldCode}, true)
	require.NoError(t, err)
	assert.Empty(t, got, "replace must drop the old tokens")

	count, err := s.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func Test_Store_Discard(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.AddOrReplace(Document{Path: "/r/a.go", Code: []string{"x"}}))
	s.Discard()
	require.NoError(t, s.Commit(ctx))

	paths, err := s.Paths(ctx)
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func Test_Store_RemoveAndPaths(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s, Document{Path: "/r/b.go"}, Document{Path: "/r/a.go"}, Document{Path: "/r/c.go"})

	s.Remove("/r/b.go")
	require.NoError(t, s.Commit(ctx))

	paths, err := s.Paths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/r/a.go", "/r/c.go"}, paths)
}

func Test_Store_Get(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s,
		Document{Path: "/r/a.py", Language: "Python", Strategy: "structured", Code: []string{"zeta", "alpha"}, Text: []string{"word"}},
	)

	doc, ok, err := s.Get(ctx, "/r/a.py")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Python", doc.Language)
	assert.Equal(t, "structured", doc.Strategy)
	assert.Equal(t, []string{"alpha", "zeta"}, doc.Code)
	assert.Equal(t, []string{"word"}, doc.Text)

	_, ok, err = s.Get(ctx, "/r/missing.py")
	require.NoError(t, err)
	assert.False(t, ok)
}

func Test_OpenStore_PersistsAndRecovers(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "data", "index.bleve")

	s, err := OpenStore(path, logger)
	require.NoError(t, err)
	assert.True(t, s.Recreated(), "a new index starts empty")
	require.NoError(t, s.AddOrReplace(Document{Path: "/r/a.go", Code: []string{"kept"}}))
	require.NoError(t, s.Commit(ctx))
	require.NoError(t, s.Close())

	s, err = OpenStore(path, logger)
	require.NoError(t, err)
	assert.False(t, s.Recreated())
	got, err := s.SearchExact(ctx, []string{"kept"}, []Field{FieldCode}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"/r/a.go"}, got)
	require.NoError(t, s.Close())

	require.NoError(t, os.WriteFile(filepath.Join(path, "index_meta.json"), []byte("{broken"), 0644))
	s, err = OpenStore(path, logger)
	require.NoError(t, err)
	defer s.Close()
	assert.True(t, s.Recreated())
	count, err := s.DocCount()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func Test_Fold(t *testing.T) {
	assert.Equal(t, "caf\u00e9", Fold("CAFE\u0301"))
	assert.Equal(t, "parseconfig", Fold("ParseConfig"))
}
