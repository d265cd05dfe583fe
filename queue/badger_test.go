package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkbud/terraform-index/core"
)

func newTestBadger(t *testing.T) *Badger[*core.RawRecord] {
	t.Helper()
	q := NewBadger[*core.RawRecord](BadgerConfig{Name: "test", InMemory: true})
	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(func() { q.Stop() })
	return q
}

func rawRecord(path string) *core.RawRecord {
	return &core.RawRecord{
		Content: map[string]any{"version": float64(4), "resources": []any{}},
		Metadata: core.SourceMetadata{
			SourceType: core.SourceFilesystem,
			Path:       path,
		},
	}
}

func TestBadger_PutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	q := newTestBadger(t)

	require.NoError(t, q.Put(ctx, rawRecord("/states/a.tfstate")))
	require.NoError(t, q.Put(ctx, rawRecord("/states/b.tfstate")))
	assert.Equal(t, 2, q.Size(ctx))

	first, err := q.Get(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "/states/a.tfstate", first.Metadata.Path)
	assert.Equal(t, map[string]any{"version": float64(4), "resources": []any{}}, first.Content)

	second, err := q.Get(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "/states/b.tfstate", second.Metadata.Path)

	// Items are deleted by the Get that returned them.
	assert.True(t, q.Empty(ctx))
}

func TestBadger_GetTimeout(t *testing.T) {
	ctx := context.Background()
	q := newTestBadger(t)

	_, err := q.Get(ctx, 100*time.Millisecond)
	assert.ErrorIs(t, err, core.ErrTimeout)
}

func TestBadger_GetObservesLatePut(t *testing.T) {
	ctx := context.Background()
	q := newTestBadger(t)

	got := make(chan *core.RawRecord, 1)
	go func() {
		rec, err := q.Get(ctx, 5*time.Second)
		if err == nil {
			got <- rec
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Put(ctx, rawRecord("/states/late.tfstate")))

	select {
	case rec := <-got:
		assert.Equal(t, "/states/late.tfstate", rec.Metadata.Path)
	case <-time.After(2 * time.Second):
		t.Fatal("polling get did not observe put")
	}
}

func TestBadger_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	q := NewBadger[*core.RawRecord](BadgerConfig{Path: dir, Name: "restart"})
	require.NoError(t, q.Start(ctx))
	require.NoError(t, q.Put(ctx, rawRecord("/states/survivor.tfstate")))
	require.NoError(t, q.Stop())

	reopened := NewBadger[*core.RawRecord](BadgerConfig{Path: dir, Name: "restart"})
	require.NoError(t, reopened.Start(ctx))
	t.Cleanup(func() { reopened.Stop() })

	rec, err := reopened.Get(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "/states/survivor.tfstate", rec.Metadata.Path)
}

func TestBadger_LifecycleIdempotent(t *testing.T) {
	ctx := context.Background()
	q := NewBadger[*core.RawRecord](BadgerConfig{Name: "idem", InMemory: true})

	require.NoError(t, q.Start(ctx))
	require.NoError(t, q.Start(ctx))
	require.NoError(t, q.Stop())
	require.NoError(t, q.Stop())

	// Operations after Stop fail cleanly rather than corrupting state.
	err := q.Put(ctx, rawRecord("/states/x.tfstate"))
	assert.ErrorIs(t, err, core.ErrStopped)
}
