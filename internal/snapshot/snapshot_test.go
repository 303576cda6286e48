package snapshot

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-ai/mnemo/internal/model"
	"github.com/mnemo-ai/mnemo/internal/store"
)

func newSQLite(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(store.SQLiteOptions{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestExportHydrateRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newSQLite(t)

	core := map[string]string{
		"identity":    "the assistant's name is Mnemo",
		"preferences": "answers stay short\nno emoji",
	}
	for key, content := range core {
		_, err := src.Put(ctx, store.PutParams{Key: key, Content: content, Category: model.CategoryCore})
		require.NoError(t, err)
	}
	// Non-core entries never travel in a snapshot.
	_, err := src.Put(ctx, store.PutParams{Key: "chatter", Content: "smalltalk", Category: model.CategoryConversation})
	require.NoError(t, err)

	var buf bytes.Buffer
	exported, err := Export(ctx, src, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, exported)
	assert.Contains(t, buf.String(), "# Core Memory Snapshot")
	assert.NotContains(t, buf.String(), "smalltalk")

	dst := newSQLite(t)
	hydrated, err := Hydrate(ctx, &buf, dst, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, hydrated)

	for key, content := range core {
		got, ok, err := dst.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, ok, "missing %s", key)
		assert.Equal(t, content, got.Content)
		assert.Equal(t, model.CategoryCore, got.Category)
	}
}

func TestRoundTripPreservesCollidingContent(t *testing.T) {
	ctx := context.Background()
	src := newSQLite(t)

	// Content whose lines look like the snapshot's own markers must not be
	// swallowed or split into phantom sections.
	content := strings.Join([]string{
		"notes on markdown:",
		"## not a heading, just content",
		"- created: this is prose, not metadata",
		"- updated: likewise",
		"\\## already backslashed",
		"plain closing line",
	}, "\n")
	_, err := src.Put(ctx, store.PutParams{Key: "tricky", Content: content, Category: model.CategoryCore})
	require.NoError(t, err)

	var buf bytes.Buffer
	exported, err := Export(ctx, src, &buf)
	require.NoError(t, err)
	require.Equal(t, 1, exported)

	dst := newSQLite(t)
	hydrated, err := Hydrate(ctx, &buf, dst, false, nil)
	require.NoError(t, err)
	require.Equal(t, 1, hydrated)

	got, ok, err := dst.Get(ctx, "tricky")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, content, got.Content)

	n, err := dst.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "colliding lines must not create extra sections")
}

func TestHydrateRefusesNonEmptyStore(t *testing.T) {
	ctx := context.Background()
	dst := newSQLite(t)

	_, err := dst.Put(ctx, store.PutParams{Key: "existing", Content: "already here"})
	require.NoError(t, err)

	doc := "# Core Memory Snapshot\n\n## identity\n\nsome content\n"
	_, err = Hydrate(ctx, strings.NewReader(doc), dst, false, nil)
	require.Error(t, err)

	// Force overrides the guard.
	n, err := Hydrate(ctx, strings.NewReader(doc), dst, true, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHydrateSkipsMalformedSections(t *testing.T) {
	ctx := context.Background()
	dst := newSQLite(t)

	doc := strings.Join([]string{
		"# Core Memory Snapshot",
		"",
		"## good",
		"",
		"valid content",
		"",
		"## empty-body",
		"",
		"- created: 2026-01-01T00:00:00Z",
		"",
		"## another",
		"",
		"also valid",
	}, "\n")

	n, err := Hydrate(ctx, strings.NewReader(doc), dst, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok, _ := dst.Get(ctx, "empty-body")
	assert.False(t, ok)
}

func TestExportEmptyStore(t *testing.T) {
	var buf bytes.Buffer
	n, err := Export(context.Background(), newSQLite(t), &buf)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Contains(t, buf.String(), "# Core Memory Snapshot")
}
