package collector

import (
	"context"
	"fmt"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkbud/terraform-index/core"
)

// fakeCollector yields a fixed batch of records, or stalls forever when
// stalled is set.
type fakeCollector struct {
	name     string
	records  []*core.RawRecord
	stalled  bool
	startErr error
	stops    int
}

func (f *fakeCollector) Name() string { return f.name }

func (f *fakeCollector) Start(ctx context.Context) error { return f.startErr }

func (f *fakeCollector) Stop() error {
	f.stops++
	return nil
}

func (f *fakeCollector) Collect(ctx context.Context) iter.Seq[*core.RawRecord] {
	return func(yield func(*core.RawRecord) bool) {
		if f.stalled {
			<-ctx.Done()
			return
		}
		for _, rec := range f.records {
			if !yield(rec) {
				return
			}
		}
	}
}

func fakeRecords(n int) []*core.RawRecord {
	recs := make([]*core.RawRecord, n)
	for i := range recs {
		recs[i] = &core.RawRecord{
			Content: map[string]any{"version": 4},
			Metadata: core.SourceMetadata{
				SourceType: core.SourceFilesystem,
				Path:       fmt.Sprintf("/states/%d.tfstate", i),
			},
		}
	}
	return recs
}

func TestComposite_FanInLiveness(t *testing.T) {
	// One source stalls forever, one yields 5 items then completes. The
	// composite must deliver all 5 without blocking on the stalled source.
	stalled := &fakeCollector{name: "stalled", stalled: true}
	fast := &fakeCollector{name: "fast", records: fakeRecords(5)}

	c, err := NewComposite([]Collector{stalled, fast}, WithStopTimeout(time.Second))
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	got := make(chan *core.RawRecord, 16)
	seqDone := make(chan struct{})
	go func() {
		defer close(seqDone)
		for rec := range c.Collect(context.Background()) {
			got <- rec
		}
	}()

	for i := 0; i < 5; i++ {
		select {
		case <-got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for record %d", i)
		}
	}

	require.NoError(t, c.Stop())
	select {
	case <-seqDone:
	case <-time.After(2 * time.Second):
		t.Fatal("composite sequence did not terminate after Stop")
	}

	assert.Equal(t, 1, stalled.stops)
	assert.Equal(t, 1, fast.stops)
}

func TestComposite_CompletesWhenAllSourcesComplete(t *testing.T) {
	a := &fakeCollector{name: "a", records: fakeRecords(2)}
	b := &fakeCollector{name: "b", records: fakeRecords(3)}

	c, err := NewComposite([]Collector{a, b})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { c.Stop() })

	var n int
	for range c.Collect(context.Background()) {
		n++
	}
	assert.Equal(t, 5, n)
}

func TestComposite_StartContinuesPastFailures(t *testing.T) {
	bad := &fakeCollector{name: "bad", startErr: fmt.Errorf("%w: bucket missing", core.ErrConnection)}
	good := &fakeCollector{name: "good", records: fakeRecords(2)}

	c, err := NewComposite([]Collector{bad, good})
	require.NoError(t, err)

	// A failing source does not prevent siblings from starting.
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { c.Stop() })

	var n int
	for range c.Collect(context.Background()) {
		n++
	}
	assert.Equal(t, 2, n)
}

func TestComposite_StopIdempotent(t *testing.T) {
	c, err := NewComposite([]Collector{&fakeCollector{name: "a"}})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	assert.NoError(t, c.Stop())
	assert.NoError(t, c.Stop())
}
