package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/nkbud/terraform-index/core"
)

// S3Config configures an S3 collector.
type S3Config struct {
	// Endpoint is the object-store endpoint, host:port. Localstack-style
	// deployments point this at the emulator.
	Endpoint string

	Bucket string
	Prefix string

	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool

	// PollInterval is the delay between bucket listings. Defaults to 30s.
	PollInterval time.Duration

	Logger *slog.Logger
}

// S3 collects Terraform state files from one object-store bucket. An object
// is re-delivered only when its last-modified timestamp changes.
type S3 struct {
	cfg    S3Config
	client *minio.Client
	seen   map[string]struct{}

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

var _ Collector = (*S3)(nil)

// NewS3 creates an S3 collector. The client is constructed eagerly; network
// connectivity is verified by Start.
func NewS3(cfg S3Config) (*S3, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Duration(DefaultPollInterval) * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating s3 client for %s: %w", cfg.Endpoint, err)
	}

	return &S3{
		cfg:    cfg,
		client: client,
		seen:   make(map[string]struct{}),
	}, nil
}

func (c *S3) Name() string { return "s3" }

// Start verifies the bucket is reachable. A missing or unreachable bucket
// fails with core.ErrConnection.
func (c *S3) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	exists, err := c.client.BucketExists(ctx, c.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("%w: bucket %s: %v", core.ErrConnection, c.cfg.Bucket, err)
	}
	if !exists {
		return fmt.Errorf("%w: bucket %s does not exist", core.ErrConnection, c.cfg.Bucket)
	}

	c.done = make(chan struct{})
	c.running = true
	return nil
}

// Stop ends the collect loop. Idempotent.
func (c *S3) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	close(c.done)
	c.running = false
	return nil
}

// Collect lists the bucket on each poll cycle and yields unseen .tfstate
// objects. A failure on one object is logged and skipped.
func (c *S3) Collect(ctx context.Context) iter.Seq[*core.RawRecord] {
	return func(yield func(*core.RawRecord) bool) {
		for {
			if !c.poll(ctx, yield) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case <-time.After(c.cfg.PollInterval):
			}
		}
	}
}

func (c *S3) poll(ctx context.Context, yield func(*core.RawRecord) bool) bool {
	objects := c.client.ListObjects(ctx, c.cfg.Bucket, minio.ListObjectsOptions{
		Prefix:    c.cfg.Prefix,
		Recursive: true,
	})

	for obj := range objects {
		if obj.Err != nil {
			c.cfg.Logger.Error("error listing bucket", "bucket", c.cfg.Bucket, "err", obj.Err)
			return true
		}
		if !strings.HasSuffix(obj.Key, ".tfstate") {
			continue
		}

		fp := core.Fingerprint(c.cfg.Bucket+"/"+obj.Key, obj.LastModified.UTC().Format(time.RFC3339Nano))
		if _, ok := c.seen[fp]; ok {
			continue
		}

		content, err := c.download(ctx, obj.Key)
		if err != nil {
			c.cfg.Logger.Warn("skipping object", "bucket", c.cfg.Bucket, "key", obj.Key, "err", err)
			continue
		}

		c.seen[fp] = struct{}{}

		rec := &core.RawRecord{
			Content: content,
			Metadata: core.SourceMetadata{
				SourceType:   core.SourceS3,
				Bucket:       c.cfg.Bucket,
				Key:          obj.Key,
				Size:         obj.Size,
				LastModified: obj.LastModified.UTC(),
				CollectedAt:  time.Now().UTC(),
			},
		}
		if !yield(rec) {
			return false
		}
	}
	return true
}

func (c *S3) download(ctx context.Context, key string) (map[string]any, error) {
	obj, err := c.client.GetObject(ctx, c.cfg.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, err
	}

	var content map[string]any
	if err := json.Unmarshal(data, &content); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrParse, err)
	}
	return content, nil
}
