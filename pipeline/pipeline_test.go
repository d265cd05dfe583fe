package pipeline

import (
	"context"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkbud/terraform-index/collector"
	"github.com/nkbud/terraform-index/core"
	"github.com/nkbud/terraform-index/queue"
	"github.com/nkbud/terraform-index/sink"
)

// fakeCollector yields its records, then idles until the consumer stops.
type fakeCollector struct {
	records []*core.RawRecord

	mu      sync.Mutex
	started bool
	stopped bool
}

func (f *fakeCollector) Name() string { return "fake" }

func (f *fakeCollector) Start(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeCollector) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeCollector) Collect(ctx context.Context) iter.Seq[*core.RawRecord] {
	return func(yield func(*core.RawRecord) bool) {
		for _, rec := range f.records {
			if !yield(rec) {
				return
			}
		}
		<-ctx.Done()
	}
}

// fakeSink records delivered documents in memory.
type fakeSink struct {
	mu      sync.Mutex
	started bool
	stopped bool
	docs    []*core.FlatRecord
}

var _ sink.Sink = (*fakeSink)(nil)

func (f *fakeSink) Start(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeSink) Stop(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeSink) IndexDocument(_ context.Context, doc *core.FlatRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, doc)
	return nil
}

func (f *fakeSink) Flush(_ context.Context) (sink.FlushStats, error) {
	return sink.FlushStats{}, nil
}

func (f *fakeSink) Search(_ context.Context, _ map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

func (f *fakeSink) Stats(_ context.Context) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return map[string]any{"documents": len(f.docs)}, nil
}

func (f *fakeSink) docCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

func rawRecord(path string, resources ...map[string]any) *core.RawRecord {
	rs := make([]any, len(resources))
	for i, r := range resources {
		rs[i] = r
	}
	return &core.RawRecord{
		Content: map[string]any{
			"version":           float64(4),
			"terraform_version": "1.5.0",
			"resources":         rs,
		},
		Metadata: core.SourceMetadata{SourceType: core.SourceFilesystem, Path: path},
	}
}

func resource(rtype, name string) map[string]any {
	return map[string]any{
		"type":      rtype,
		"name":      name,
		"mode":      "managed",
		"instances": []any{map[string]any{"attributes": map[string]any{"id": name}}},
	}
}

func TestCollectorWorker_PumpsRecords(t *testing.T) {
	ctx := context.Background()
	col := &fakeCollector{records: []*core.RawRecord{
		rawRecord("/a.tfstate", resource("aws_vpc", "main")),
		rawRecord("/b.tfstate", resource("aws_vpc", "alt")),
	}}
	out := queue.NewMemory[*core.RawRecord](0)
	require.NoError(t, out.Start(ctx))
	defer out.Stop()

	w := NewCollectorWorker(col, out, nil, nil)
	assert.Equal(t, StateIdle, w.State())

	require.NoError(t, w.Start(ctx))
	assert.Equal(t, StateRunning, w.State())

	require.Eventually(t, func() bool { return out.Size(ctx) == 2 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Stop())
	assert.Equal(t, StateStopped, w.State())

	col.mu.Lock()
	defer col.mu.Unlock()
	assert.True(t, col.started)
	assert.True(t, col.stopped)
}

func TestCollectorWorker_StartTwice(t *testing.T) {
	ctx := context.Background()
	out := queue.NewMemory[*core.RawRecord](0)
	require.NoError(t, out.Start(ctx))
	defer out.Stop()

	w := NewCollectorWorker(&fakeCollector{}, out, nil, nil)
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	assert.ErrorIs(t, w.Start(ctx), ErrAlreadyStarted)
}

func TestWorkers_StopWithoutStart(t *testing.T) {
	ctx := context.Background()
	raw := queue.NewMemory[*core.RawRecord](0)
	docs := queue.NewMemory[*core.FlatRecord](0)

	cw := NewCollectorWorker(&fakeCollector{}, raw, nil, nil)
	require.NoError(t, cw.Stop())
	assert.Equal(t, StateStopped, cw.State())

	pw := NewParserWorker(raw, docs, nil, nil, nil)
	require.NoError(t, pw.Stop())
	assert.Equal(t, StateStopped, pw.State())

	uw := NewUploaderWorker(docs, &fakeSink{}, nil, nil)
	require.NoError(t, uw.Stop(ctx))
	assert.Equal(t, StateStopped, uw.State())
}

func TestParserWorker_ParsesQueuedRecords(t *testing.T) {
	ctx := context.Background()
	raw := queue.NewMemory[*core.RawRecord](0)
	docs := queue.NewMemory[*core.FlatRecord](0)
	require.NoError(t, raw.Start(ctx))
	require.NoError(t, docs.Start(ctx))
	defer raw.Stop()
	defer docs.Stop()

	require.NoError(t, raw.Put(ctx, rawRecord("/states/prod.tfstate",
		resource("aws_instance", "web"),
		resource("aws_s3_bucket", "data"),
	)))

	w := NewParserWorker(raw, docs, nil, nil, nil)
	require.NoError(t, w.Start(ctx))

	require.Eventually(t, func() bool { return docs.Size(ctx) == 2 },
		2*time.Second, 10*time.Millisecond)
	require.NoError(t, w.Stop())

	first, err := docs.Get(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "/states/prod.tfstate/aws_instance.web.0", first.ID)
	assert.True(t, raw.Empty(ctx))
}

func TestUploaderWorker_DeliversToSink(t *testing.T) {
	ctx := context.Background()
	docs := queue.NewMemory[*core.FlatRecord](0)
	require.NoError(t, docs.Start(ctx))
	defer docs.Stop()

	fs := &fakeSink{}
	w := NewUploaderWorker(docs, fs, nil, nil)
	require.NoError(t, w.Start(ctx))
	assert.True(t, fs.started)

	require.NoError(t, docs.Put(ctx, &core.FlatRecord{ID: "doc-1"}))
	require.NoError(t, docs.Put(ctx, &core.FlatRecord{ID: "doc-2"}))

	require.Eventually(t, func() bool { return fs.docCount() == 2 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Stop(ctx))
	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.True(t, fs.stopped)
}

// bufferingSink holds documents until Flush, like a batched index client.
type bufferingSink struct {
	fakeSink
	buffered []*core.FlatRecord
}

func (b *bufferingSink) IndexDocument(_ context.Context, doc *core.FlatRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buffered = append(b.buffered, doc)
	return nil
}

func (b *bufferingSink) Flush(_ context.Context) (sink.FlushStats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.buffered)
	b.docs = append(b.docs, b.buffered...)
	b.buffered = nil
	return sink.FlushStats{Indexed: n}, nil
}

func (b *bufferingSink) Stop(ctx context.Context) error {
	b.Flush(ctx)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	return nil
}

func (b *bufferingSink) bufferedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffered)
}

func TestUploaderWorker_StopDrainsBufferedDocuments(t *testing.T) {
	ctx := context.Background()
	docs := queue.NewMemory[*core.FlatRecord](0)
	require.NoError(t, docs.Start(ctx))
	defer docs.Stop()

	bs := &bufferingSink{}
	w := NewUploaderWorker(docs, bs, nil, nil)
	require.NoError(t, w.Start(ctx))

	require.NoError(t, docs.Put(ctx, &core.FlatRecord{ID: "buffered-1"}))
	require.NoError(t, docs.Put(ctx, &core.FlatRecord{ID: "buffered-2"}))

	// Below any flush threshold the documents sit in the sink buffer.
	require.Eventually(t, func() bool { return bs.bufferedCount() == 2 },
		2*time.Second, 10*time.Millisecond)
	assert.Zero(t, bs.docCount())

	// Stopping the worker forces the final flush.
	require.NoError(t, w.Stop(ctx))
	assert.Equal(t, 2, bs.docCount())
	assert.Zero(t, bs.bufferedCount())
}

func TestPipeline_EndToEnd(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	state := `{
		"version": 4,
		"terraform_version": "1.5.0",
		"resources": [
			{"type": "aws_instance", "name": "web", "mode": "managed",
			 "instances": [{"attributes": {"instance_type": "t3.micro"}}]},
			{"type": "aws_s3_bucket", "name": "data", "mode": "managed",
			 "instances": [{"attributes": {"bucket": "data-bucket"}}]}
		]
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prod.tfstate"), []byte(state), 0o644))

	raw := queue.NewMemory[*core.RawRecord](0)
	docs := queue.NewMemory[*core.FlatRecord](0)
	require.NoError(t, raw.Start(ctx))
	require.NoError(t, docs.Start(ctx))
	defer raw.Stop()
	defer docs.Stop()

	col := collector.NewFilesystem(collector.FilesystemConfig{
		WatchDirectory: dir,
		PollInterval:   50 * time.Millisecond,
	})
	fs := &fakeSink{}

	cw := NewCollectorWorker(col, raw, nil, nil)
	pw := NewParserWorker(raw, docs, nil, nil, nil)
	uw := NewUploaderWorker(docs, fs, nil, nil)

	require.NoError(t, cw.Start(ctx))
	require.NoError(t, pw.Start(ctx))
	require.NoError(t, uw.Start(ctx))

	require.Eventually(t, func() bool { return fs.docCount() == 2 },
		5*time.Second, 20*time.Millisecond)

	require.NoError(t, cw.Stop())
	require.NoError(t, pw.Stop())
	require.NoError(t, uw.Stop(ctx))

	fs.mu.Lock()
	defer fs.mu.Unlock()
	ids := []string{fs.docs[0].ID, fs.docs[1].ID}
	assert.Contains(t, ids, filepath.Join(dir, "prod.tfstate")+"/aws_instance.web.0")
	assert.Contains(t, ids, filepath.Join(dir, "prod.tfstate")+"/aws_s3_bucket.data.0")
}

func TestMetrics_CountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordCollected(core.SourceFilesystem)
	m.RecordCollected(core.SourceFilesystem)
	m.RecordCollected(core.SourceS3)
	m.DocumentsParsed(5)
	m.DocumentIndexed()
	m.StageError("upload", assert.AnError)

	assert.Equal(t, float64(2),
		promtestutil.ToFloat64(m.collected.WithLabelValues("filesystem")))
	assert.Equal(t, float64(1),
		promtestutil.ToFloat64(m.collected.WithLabelValues("s3")))
	assert.Equal(t, float64(5), promtestutil.ToFloat64(m.parsed))
	assert.Equal(t, float64(1), promtestutil.ToFloat64(m.indexed))
	assert.Equal(t, float64(1),
		promtestutil.ToFloat64(m.errors.WithLabelValues("upload")))
}
