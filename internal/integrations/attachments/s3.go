// Package attachments stores raw message attachments in S3 and resolves them
// to URLs that can be embedded in a message.
package attachments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	defaultPrefix = "images"
	defaultExpiry = 7 * 24 * time.Hour
	keyTimeLayout = "2006-01-02T15:04:05.000Z"
)

var (
	// ErrUpload wraps transport failures while storing the object.
	ErrUpload = errors.New("attachments: upload failed")
	// ErrResolve wraps failures turning a stored object into a URL.
	ErrResolve = errors.New("attachments: resolve url failed")

	unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9.]`)
)

// s3API is the subset of *s3.Client used here.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// presignAPI is the subset of *s3.PresignClient used here.
type presignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Upload is a raw attachment as received from a client. Progress, when set,
// observes this upload only.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
	Progress    ProgressFunc
}

// ProgressFunc receives the number of bytes handed to the transport so far
// and the total size.
type ProgressFunc func(sent, total int64)

type Config struct {
	Bucket    string
	Prefix    string
	PublicURL string
	URLExpiry time.Duration
}

// S3Resolver uploads attachments and returns either a public URL (when
// PublicURL is configured) or a presigned GET URL.
type S3Resolver struct {
	api       s3API
	presign   presignAPI
	bucket    string
	prefix    string
	publicURL string
	expiry    time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*S3Resolver)

func WithLogger(logger *slog.Logger) Option {
	return func(r *S3Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewS3Resolver builds a resolver from an S3 client. The presigner may be nil
// when a public URL is configured.
func NewS3Resolver(api s3API, presign presignAPI, cfg Config, opts ...Option) (*S3Resolver, error) {
	if api == nil {
		return nil, errors.New("attachments: s3 api must not be nil")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("attachments: bucket is required")
	}
	publicURL := strings.TrimRight(strings.TrimSpace(cfg.PublicURL), "/")
	if publicURL == "" && presign == nil {
		return nil, errors.New("attachments: presigner is required without a public url")
	}
	prefix := strings.Trim(strings.TrimSpace(cfg.Prefix), "/")
	if prefix == "" {
		prefix = defaultPrefix
	}
	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = defaultExpiry
	}

	r := &S3Resolver{
		api:       api,
		presign:   presign,
		bucket:    strings.TrimSpace(cfg.Bucket),
		prefix:    prefix,
		publicURL: publicURL,
		expiry:    expiry,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ObjectKey returns the storage key for an attachment name uploaded at t.
func (r *S3Resolver) ObjectKey(name string, t time.Time) string {
	return r.prefix + "/" + t.UTC().Format(keyTimeLayout) + "_" + SanitizeName(name)
}

// SanitizeName replaces every character other than ASCII letters, digits and
// dots with an underscore.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "attachment"
	}
	return unsafeNameChars.ReplaceAllString(name, "_")
}

// Resolve stores the upload and returns a durable URL for it.
func (r *S3Resolver) Resolve(ctx context.Context, up Upload) (string, error) {
	if len(up.Data) == 0 {
		return "", errors.New("attachments: upload is empty")
	}
	key := r.ObjectKey(up.Name, r.now())

	in := &s3.PutObjectInput{
		Bucket:        aws.String(r.bucket),
		Key:           aws.String(key),
		Body:          newProgressReader(up.Data, up.Progress),
		ContentLength: aws.Int64(int64(len(up.Data))),
	}
	if up.ContentType != "" {
		in.ContentType = aws.String(up.ContentType)
	}

	if _, err := r.api.PutObject(ctx, in); err != nil {
		r.logger.Error("attachment upload failed", "key", key, "err", err)
		return "", fmt.Errorf("%w: %s: %w", ErrUpload, key, err)
	}

	url, err := r.url(ctx, key)
	if err != nil {
		r.logger.Error("attachment url resolution failed", "key", key, "err", err)
		return "", fmt.Errorf("%w: %s: %w", ErrResolve, key, err)
	}
	return url, nil
}

func (r *S3Resolver) url(ctx context.Context, key string) (string, error) {
	if r.publicURL != "" {
		return r.publicURL + "/" + key, nil
	}
	req, err := r.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	}, func(o *s3.PresignOptions) {
		o.Expires = r.expiry
	})
	if err != nil {
		return "", err
	}
	if req == nil || req.URL == "" {
		return "", errors.New("empty presigned url")
	}
	return req.URL, nil
}

// progressReader reports bytes read through it. It stays seekable so the SDK
// can rewind the body on retries.
type progressReader struct {
	r        *bytes.Reader
	total    int64
	progress ProgressFunc

	mu   sync.Mutex
	sent int64
}

func newProgressReader(data []byte, fn ProgressFunc) io.ReadSeeker {
	br := bytes.NewReader(data)
	if fn == nil {
		return br
	}
	return &progressReader{r: br, total: int64(len(data)), progress: fn}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.mu.Lock()
		p.sent += int64(n)
		sent := p.sent
		p.mu.Unlock()
		p.progress(sent, p.total)
	}
	return n, err
}

func (p *progressReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := p.r.Seek(offset, whence)
	if err == nil {
		p.mu.Lock()
		p.sent = pos
		p.mu.Unlock()
	}
	return pos, err
}
