// Package s3images resolves job image references into images the reasoning backend can consume.
package s3images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/target/chart-analysis-worker/internal/core"
	"github.com/target/chart-analysis-worker/internal/domain/model"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaxBytes caps a single downloaded image.
	DefaultMaxBytes    = 20 << 20
	defaultConcurrency = 4
	fallbackMIMEType   = "image/png"
)

var (
	// ErrUnsupportedRef is returned for references that are neither s3:// nor http(s)://.
	ErrUnsupportedRef = errors.New("unsupported image reference")
	// ErrImageTooLarge is returned when an object exceeds the configured size cap.
	ErrImageTooLarge = errors.New("image exceeds size limit")
)

// API is the subset of the S3 client the loader uses.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Options configures a Loader.
type Options struct {
	Client      API // Required
	MaxBytes    int64
	Concurrency int
	Logger      *slog.Logger
}

// Loader downloads s3:// references and passes http(s):// references through as URIs.
type Loader struct {
	client      API
	maxBytes    int64
	concurrency int
	logger      *slog.Logger
}

var _ core.ImageLoader = (*Loader)(nil)

// New constructs a Loader.
func New(opts Options) (*Loader, error) {
	if opts.Client == nil {
		return nil, errors.New("s3 client is required")
	}
	l := &Loader{
		client:      opts.Client,
		maxBytes:    opts.MaxBytes,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
	}
	if l.maxBytes <= 0 {
		l.maxBytes = DefaultMaxBytes
	}
	if l.concurrency <= 0 {
		l.concurrency = defaultConcurrency
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	l.logger = l.logger.With("component", "s3_image_loader")
	return l, nil
}

// NewFromConfig builds a Loader on an S3 client created from cfg. A non-empty endpoint overrides
// the service endpoint and enables path-style addressing. opts.Client is ignored.
func NewFromConfig(cfg aws.Config, endpoint string, opts Options) (*Loader, error) {
	opts.Client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return New(opts)
}

// Load resolves refs in order. Any failing reference fails the whole load.
func (l *Loader) Load(ctx context.Context, refs []string) ([]model.Image, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	images := make([]model.Image, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			img, err := l.loadOne(gctx, ref)
			if err != nil {
				return fmt.Errorf("load image %q: %w", ref, err)
			}
			images[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}

func (l *Loader) loadOne(ctx context.Context, ref string) (model.Image, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return model.Image{}, fmt.Errorf("%w: %w", ErrUnsupportedRef, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return model.Image{Ref: ref, URI: u.String(), MIMEType: mimeFromName(u.Path)}, nil
	case "s3":
	default:
		return model.Image{}, fmt.Errorf("%w: scheme %q", ErrUnsupportedRef, u.Scheme)
	}

	bucket, key := u.Host, strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return model.Image{}, fmt.Errorf("%w: missing bucket or key", ErrUnsupportedRef)
	}

	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return model.Image{}, fmt.Errorf("S3 GetObject: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, l.maxBytes+1))
	if err != nil {
		return model.Image{}, fmt.Errorf("read object body: %w", err)
	}
	if int64(len(data)) > l.maxBytes {
		return model.Image{}, fmt.Errorf("%w: %s/%s is larger than %d bytes", ErrImageTooLarge, bucket, key, l.maxBytes)
	}

	mimeType := aws.ToString(out.ContentType)
	if mimeType == "" || mimeType == "binary/octet-stream" || mimeType == "application/octet-stream" {
		mimeType = mimeFromName(key)
	}
	l.logger.DebugContext(ctx, "image loaded", "bucket", bucket, "key", key, "bytes", len(data), "mime_type", mimeType)
	return model.Image{Ref: ref, MIMEType: mimeType, Data: data}, nil
}

func mimeFromName(name string) string {
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(name))); t != "" {
		return t
	}
	return fallbackMIMEType
}
