package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkbud/terraform-index/core"
)

type fakeObject struct {
	key          string
	lastModified time.Time
	body         []byte
}

// fakeBucket answers the object-store surface the collector touches: bucket
// HEAD, location query, V2 listing, and object GET.
type fakeBucket struct {
	mu      sync.Mutex
	name    string
	missing bool
	objects []fakeObject
}

func (b *fakeBucket) put(key string, lastModified time.Time, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.objects {
		if b.objects[i].key == key {
			b.objects[i].lastModified = lastModified
			b.objects[i].body = []byte(body)
			return
		}
	}
	b.objects = append(b.objects, fakeObject{key: key, lastModified: lastModified, body: []byte(body)})
}

func (b *fakeBucket) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()

		bucketPath := "/" + b.name
		onBucket := r.URL.Path == bucketPath || r.URL.Path == bucketPath+"/"

		switch {
		case r.Method == http.MethodHead && onBucket:
			if b.missing {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)

		case r.Method == http.MethodGet && onBucket && r.URL.Query().Has("location"):
			w.Header().Set("Content-Type", "application/xml")
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>`+
				`<LocationConstraint xmlns="http://s3.amazonaws.com/doc/2006-03-01/"></LocationConstraint>`)

		case r.Method == http.MethodGet && onBucket:
			var sb strings.Builder
			sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` +
				`<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
			fmt.Fprintf(&sb, "<Name>%s</Name><IsTruncated>false</IsTruncated>", b.name)
			for _, obj := range b.objects {
				fmt.Fprintf(&sb,
					"<Contents><Key>%s</Key><LastModified>%s</LastModified>"+
						`<ETag>&quot;etag&quot;</ETag><Size>%d</Size>`+
						"<StorageClass>STANDARD</StorageClass></Contents>",
					obj.key, obj.lastModified.UTC().Format("2006-01-02T15:04:05.000Z"), len(obj.body))
			}
			sb.WriteString("</ListBucketResult>")
			w.Header().Set("Content-Type", "application/xml")
			fmt.Fprint(w, sb.String())

		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, bucketPath+"/"):
			key := strings.TrimPrefix(r.URL.Path, bucketPath+"/")
			for _, obj := range b.objects {
				if obj.key == key {
					w.Header().Set("Last-Modified", obj.lastModified.UTC().Format(http.TimeFormat))
					w.Header().Set("ETag", `"etag"`)
					w.Header().Set("Content-Length", strconv.Itoa(len(obj.body)))
					w.Write(obj.body)
					return
				}
			}
			w.WriteHeader(http.StatusNotFound)

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newTestS3(t *testing.T, bucket *fakeBucket) *S3 {
	t.Helper()
	srv := httptest.NewServer(bucket.handler())
	t.Cleanup(srv.Close)

	c, err := NewS3(S3Config{
		Endpoint:        strings.TrimPrefix(srv.URL, "http://"),
		Bucket:          bucket.name,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)
	return c
}

// s3PollOnce runs a single poll cycle, collecting everything it yields.
func s3PollOnce(t *testing.T, c *S3) []*core.RawRecord {
	t.Helper()
	var out []*core.RawRecord
	ok := c.poll(context.Background(), func(rec *core.RawRecord) bool {
		out = append(out, rec)
		return true
	})
	require.True(t, ok)
	return out
}

func TestS3_PollYieldsStateObjects(t *testing.T) {
	modified := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	bucket := &fakeBucket{name: "terraform-states"}
	bucket.put("env/prod.tfstate", modified, stateJSON)
	bucket.put("env/notes.txt", modified, "not a state file")

	records := s3PollOnce(t, newTestS3(t, bucket))

	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, core.SourceS3, rec.Metadata.SourceType)
	assert.Equal(t, "terraform-states", rec.Metadata.Bucket)
	assert.Equal(t, "env/prod.tfstate", rec.Metadata.Key)
	assert.Equal(t, "terraform-states/env/prod.tfstate", rec.Metadata.Locator())
	assert.Equal(t, modified, rec.Metadata.LastModified)
	assert.Equal(t, float64(4), rec.Content["version"])
}

func TestS3_RepollIsIdempotent(t *testing.T) {
	modified := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	bucket := &fakeBucket{name: "terraform-states"}
	bucket.put("a.tfstate", modified, stateJSON)

	c := newTestS3(t, bucket)
	require.Len(t, s3PollOnce(t, c), 1)
	assert.Empty(t, s3PollOnce(t, c))

	// A rewritten object carries a new last-modified and is delivered again.
	bucket.put("a.tfstate", modified.Add(time.Hour), stateJSON)
	assert.Len(t, s3PollOnce(t, c), 1)
}

func TestS3_SkipsMalformedSibling(t *testing.T) {
	modified := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	bucket := &fakeBucket{name: "terraform-states"}
	bucket.put("broken.tfstate", modified, "{ not json")
	bucket.put("good.tfstate", modified, stateJSON)

	// The malformed object is logged and skipped; its sibling still lands.
	records := s3PollOnce(t, newTestS3(t, bucket))
	require.Len(t, records, 1)
	assert.Equal(t, "good.tfstate", records[0].Metadata.Key)
}

func TestS3_StartVerifiesBucket(t *testing.T) {
	ctx := context.Background()

	c := newTestS3(t, &fakeBucket{name: "terraform-states"})
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Stop())

	missing := newTestS3(t, &fakeBucket{name: "terraform-states", missing: true})
	assert.ErrorIs(t, missing.Start(ctx), core.ErrConnection)
}
