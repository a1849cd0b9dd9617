package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	meterName           = "github.com/dingdong-ecommerce/api/internal/platform/secrets"

	sourceCache    = "cache"
	sourceRemote   = "remote"
	sourceFallback = "fallback"
)

// ErrNotFound is returned when neither Secret Manager nor the fallback file holds the secret.
var ErrNotFound = errors.New("secrets: secret not found")

type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

var newAccessClient = func(ctx context.Context, opts ...option.ClientOption) (accessClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// Fetcher resolves secret:// references against Google Secret Manager. Values
// are cached for the life of the process. When Secret Manager is unreachable
// or denies access, values come from a local KEY=VALUE file so payment and
// webhook secrets can be supplied during local runs.
type Fetcher struct {
	client     accessClient
	ownsClient bool
	projectID  string
	logger     *zap.Logger

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string
	fallbackErr  error

	mu    sync.RWMutex
	cache map[string]string

	latency metric.Float64Histogram
}

type fetcherOptions struct {
	client       accessClient
	clientOpts   []option.ClientOption
	projectID    string
	fallbackPath string
	logger       *zap.Logger
	meter        metric.Meter
}

// Option customises a Fetcher.
type Option func(*fetcherOptions)

// WithProject sets the project used for references without ?project=.
func WithProject(projectID string) Option {
	return func(o *fetcherOptions) { o.projectID = strings.TrimSpace(projectID) }
}

// WithFallbackFile overrides the local fallback file. An empty path disables it.
func WithFallbackFile(path string) Option {
	return func(o *fetcherOptions) { o.fallbackPath = strings.TrimSpace(path) }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *fetcherOptions) { o.logger = logger }
}

func WithMeter(meter metric.Meter) Option {
	return func(o *fetcherOptions) { o.meter = meter }
}

// WithClientOptions forwards options to the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(o *fetcherOptions) { o.clientOpts = append(o.clientOpts, opts...) }
}

func withAccessClient(client accessClient) Option {
	return func(o *fetcherOptions) { o.client = client }
}

// NewFetcher builds a Fetcher. A Secret Manager client that cannot be created
// leaves the fetcher in fallback-only mode.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	options := fetcherOptions{fallbackPath: defaultFallbackPath}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = zap.NewNop()
	}
	if options.meter == nil {
		options.meter = otel.GetMeterProvider().Meter(meterName)
	}

	latency, err := options.meter.Float64Histogram(
		"secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of secret resolution"),
	)
	if err != nil {
		return nil, fmt.Errorf("secrets: register latency metric: %w", err)
	}

	f := &Fetcher{
		client:       options.client,
		projectID:    options.projectID,
		logger:       options.logger.Named("secrets"),
		fallbackPath: options.fallbackPath,
		cache:        make(map[string]string),
		latency:      latency,
	}
	if f.client == nil {
		client, err := newAccessClient(ctx, options.clientOpts...)
		if err != nil {
			f.logger.Warn("secret manager unavailable, using fallback file only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret returns the value behind ref, a reference of the form
// secret://name[?version=N&project=P].
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	start := time.Now()
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}

	f.mu.RLock()
	value, ok := f.cache[parsed.key()]
	f.mu.RUnlock()
	if ok {
		f.record(ctx, start, sourceCache, nil)
		return value, nil
	}

	value, err = f.fetchRemote(ctx, parsed)
	source := sourceRemote
	if err != nil && fallbackAllowed(err) {
		if local, found := f.lookupFallback(parsed); found {
			f.logger.Warn("secret resolved from fallback file", zap.String("secret", parsed.name), zap.Error(err))
			value, err, source = local, nil, sourceFallback
		}
	}
	f.record(ctx, start, source, err)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", parsed.name, err)
	}

	f.mu.Lock()
	f.cache[parsed.key()] = value
	f.mu.Unlock()
	return value, nil
}

func (f *Fetcher) fetchRemote(ctx context.Context, ref reference) (string, error) {
	if f.client == nil {
		return "", status.Error(codes.Unavailable, "secret manager client not configured")
	}
	project := ref.project
	if project == "" {
		project = f.projectID
	}
	if project == "" {
		return "", status.Error(codes.FailedPrecondition, "secret manager project not configured")
	}
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.name, ref.version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secrets: empty payload for %s", name)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) lookupFallback(ref reference) (string, bool) {
	f.fallbackOnce.Do(func() {
		f.fallback, f.fallbackErr = readFallbackFile(f.fallbackPath)
	})
	if f.fallbackErr != nil {
		f.logger.Warn("fallback file unreadable", zap.Error(f.fallbackErr))
		return "", false
	}
	if value, ok := f.fallback[ref.key()]; ok {
		return value, true
	}
	value, ok := f.fallback[ref.name]
	return value, ok
}

func (f *Fetcher) record(ctx context.Context, start time.Time, source string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	f.latency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond), metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("outcome", outcome),
	))
}

// readFallbackFile parses lines of the form secret://name=value or name=value.
func readFallbackFile(path string) (map[string]string, error) {
	values := make(map[string]string)
	if path == "" {
		return values, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		if ref, err := parseReference(key); err == nil {
			values[ref.key()] = value
			values[ref.name] = value
			continue
		}
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return values, nil
}

func fallbackAllowed(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded, codes.FailedPrecondition:
		return true
	}
	return false
}

type reference struct {
	name    string
	version string
	project string
}

func (r reference) key() string {
	return r.name + "@" + r.version
}

func parseReference(raw string) (reference, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}
	query := u.Query()
	ref := reference{
		name:    name,
		version: strings.TrimSpace(query.Get("version")),
		project: strings.TrimSpace(query.Get("project")),
	}
	if ref.version == "" {
		ref.version = "latest"
	}
	return ref, nil
}
