package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultEnvFile = ".env"

// Persistence drivers.
const (
	PersistenceFirestore = "firestore"
	PersistenceMemory    = "memory"
)

// Event drivers.
const (
	EventsLog      = "log"
	EventsPubSub   = "pubsub"
	EventsRabbitMQ = "rabbitmq"
)

// Config is the full runtime configuration, one struct per concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Persistence PersistenceConfig
	Redis       RedisConfig
	Events      EventsConfig
	Payments    PaymentsConfig
	Storefront  StorefrontConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig identifies the Firebase project that issues user tokens.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	// StaticTokens enables fixed bearer tokens ("token=uid:role") for local runs.
	StaticTokens []string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PersistenceConfig selects the repository implementation.
type PersistenceConfig struct {
	Driver string
	// SeedFile is a JSON catalog loaded by the memory driver at start up.
	SeedFile string
}

// RedisConfig points at the Redis instance holding expiring state.
// An empty Addr keeps that state in process memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EventsConfig selects where order events are published.
type EventsConfig struct {
	Driver           string
	PubSubProjectID  string
	PubSubTopic      string
	RabbitMQURL      string
	RabbitMQExchange string
}

// PaymentsConfig carries gateway credentials.
type PaymentsConfig struct {
	DefaultProvider   string
	RazorpayKeyID     string
	RazorpayKeySecret string
	RazorpayBaseURL   string
	StripeAPIKey      string
}

// StorefrontConfig holds pricing rules and lifecycle windows. Amounts are paise.
type StorefrontConfig struct {
	Currency              string
	FreeDeliveryThreshold int64
	DeliveryCharge        int64
	CODLimit              int64
	ReturnWindow          time.Duration
	PendingCouponTTL      time.Duration
	UnpaidOrderTTL        time.Duration
	ExpirySweepInterval   time.Duration
}

// SecurityConfig groups service to service authentication.
type SecurityConfig struct {
	OIDC OIDCConfig
	HMAC HMACConfig
}

// OIDCConfig controls verification of scheduler tokens on internal routes.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

// HMACConfig maps webhook provider names to signing secrets.
type HMACConfig struct {
	Secrets   map[string]string
	ClockSkew time.Duration
}

// IdempotencyConfig controls the idempotency middleware.
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration
}

// SecretResolver resolves secret:// references.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret implements SecretResolver.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists every missing or invalid field.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns the offending field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError reports a reference that could not be resolved.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the dotenv path. An empty path disables it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// Load builds the configuration from defaults, the dotenv file, the process
// environment and explicit overrides, in increasing precedence.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	env := envLookup(func(key string) (string, bool) {
		if v, ok := options.envMap[key]; ok {
			return v, true
		}
		if options.useSystemEnv {
			if v, ok := os.LookupEnv(key); ok {
				return v, true
			}
		}
		v, ok := dotEnv[key]
		return v, ok
	})

	cfg := Config{
		Server: ServerConfig{
			Port:         env.str("API_SERVER_PORT", "8080"),
			ReadTimeout:  env.duration("API_SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: env.duration("API_SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  env.duration("API_SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.str("API_FIREBASE_CREDENTIALS_FILE", ""),
			StaticTokens:    env.csv("API_FIREBASE_STATIC_TOKENS"),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Persistence: PersistenceConfig{
			Driver:   strings.ToLower(env.str("API_PERSISTENCE_DRIVER", PersistenceFirestore)),
			SeedFile: env.str("API_MEMORY_SEED_FILE", ""),
		},
		Redis: RedisConfig{
			Addr:     env.str("API_REDIS_ADDR", ""),
			Password: env.str("API_REDIS_PASSWORD", ""),
			DB:       env.integer("API_REDIS_DB", 0),
		},
		Events: EventsConfig{
			Driver:           strings.ToLower(env.str("API_EVENTS_DRIVER", EventsLog)),
			PubSubProjectID:  env.str("API_PUBSUB_PROJECT_ID", ""),
			PubSubTopic:      env.str("API_PUBSUB_ORDER_EVENTS_TOPIC", "order-events"),
			RabbitMQURL:      env.str("API_RABBITMQ_URL", ""),
			RabbitMQExchange: env.str("API_RABBITMQ_EXCHANGE", "order.events"),
		},
		Payments: PaymentsConfig{
			DefaultProvider:   strings.ToLower(env.str("API_PAYMENTS_DEFAULT_PROVIDER", "razorpay")),
			RazorpayKeyID:     env.str("API_PAYMENTS_RAZORPAY_KEY_ID", ""),
			RazorpayKeySecret: env.str("API_PAYMENTS_RAZORPAY_KEY_SECRET", ""),
			RazorpayBaseURL:   env.str("API_PAYMENTS_RAZORPAY_BASE_URL", "https://api.razorpay.com"),
			StripeAPIKey:      env.str("API_PAYMENTS_STRIPE_API_KEY", ""),
		},
		Storefront: StorefrontConfig{
			Currency:              strings.ToUpper(env.str("API_STOREFRONT_CURRENCY", "INR")),
			FreeDeliveryThreshold: env.int64("API_STOREFRONT_FREE_DELIVERY_THRESHOLD", 50000),
			DeliveryCharge:        env.int64("API_STOREFRONT_DELIVERY_CHARGE", 4000),
			CODLimit:              env.int64("API_STOREFRONT_COD_LIMIT", 100000),
			ReturnWindow:          env.duration("API_STOREFRONT_RETURN_WINDOW", 7*24*time.Hour),
			PendingCouponTTL:      env.duration("API_STOREFRONT_PENDING_COUPON_TTL", 30*time.Minute),
			UnpaidOrderTTL:        env.duration("API_STOREFRONT_UNPAID_ORDER_TTL", 30*time.Minute),
			ExpirySweepInterval:   env.duration("API_STOREFRONT_EXPIRY_SWEEP_INTERVAL", 0),
		},
		Security: SecurityConfig{
			OIDC: OIDCConfig{
				JWKSURL:  env.str("API_SECURITY_OIDC_JWKS_URL", "https://www.googleapis.com/oauth2/v3/certs"),
				Audience: env.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Issuers:  env.csv("API_SECURITY_OIDC_ISSUERS"),
			},
			HMAC: HMACConfig{
				Secrets:   env.kv("API_SECURITY_HMAC_SECRETS"),
				ClockSkew: env.duration("API_SECURITY_HMAC_CLOCK_SKEW", 5*time.Minute),
			},
		},
		Idempotency: IdempotencyConfig{
			Header: env.str("API_IDEMPOTENCY_HEADER", "Idempotency-Key"),
			TTL:    env.duration("API_IDEMPOTENCY_TTL", 24*time.Hour),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Events.PubSubProjectID == "" {
		cfg.Events.PubSubProjectID = cfg.Firestore.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{"https://accounts.google.com", "accounts.google.com"}
	}

	secretFields := []*string{
		&cfg.Redis.Password,
		&cfg.Payments.RazorpayKeySecret,
		&cfg.Payments.StripeAPIKey,
		&cfg.Events.RabbitMQURL,
	}
	for _, field := range secretFields {
		if *field, err = resolveSecret(ctx, *field, options.secret); err != nil {
			return Config{}, err
		}
	}
	for name, value := range cfg.Security.HMAC.Secrets {
		if cfg.Security.HMAC.Secrets[name], err = resolveSecret(ctx, value, options.secret); err != nil {
			return Config{}, err
		}
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	var missing []string
	add := func(cond bool, field string) {
		if cond {
			missing = append(missing, field)
		}
	}

	add(cfg.Server.Port == "", "Server.Port")
	switch cfg.Persistence.Driver {
	case PersistenceFirestore:
		add(cfg.Firestore.ProjectID == "", "Firestore.ProjectID")
	case PersistenceMemory:
	default:
		add(true, "Persistence.Driver")
	}
	add(cfg.Firebase.ProjectID == "" && len(cfg.Firebase.StaticTokens) == 0, "Firebase.ProjectID")
	switch cfg.Events.Driver {
	case EventsLog:
	case EventsPubSub:
		add(cfg.Events.PubSubProjectID == "", "Events.PubSubProjectID")
		add(cfg.Events.PubSubTopic == "", "Events.PubSubTopic")
	case EventsRabbitMQ:
		add(cfg.Events.RabbitMQURL == "", "Events.RabbitMQURL")
	default:
		add(true, "Events.Driver")
	}
	add(len(cfg.Storefront.Currency) != 3, "Storefront.Currency")
	add(cfg.Storefront.FreeDeliveryThreshold < 0, "Storefront.FreeDeliveryThreshold")
	add(cfg.Storefront.DeliveryCharge < 0, "Storefront.DeliveryCharge")
	add(cfg.Storefront.CODLimit <= 0, "Storefront.CODLimit")
	add(cfg.Storefront.ReturnWindow <= 0, "Storefront.ReturnWindow")
	add(cfg.Storefront.PendingCouponTTL <= 0, "Storefront.PendingCouponTTL")
	add(cfg.Storefront.UnpaidOrderTTL <= 0, "Storefront.UnpaidOrderTTL")
	add(strings.TrimSpace(cfg.Idempotency.Header) == "", "Idempotency.Header")
	add(cfg.Idempotency.TTL <= 0, "Idempotency.TTL")

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "secret://") && !strings.HasPrefix(trimmed, "sm://") {
		return value, nil
	}
	ref := "secret://" + strings.TrimPrefix(strings.TrimPrefix(trimmed, "sm://"), "secret://")
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		values[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return values, nil
}

type envLookup func(string) (string, bool)

func (l envLookup) raw(key string) (string, bool) {
	v, ok := l(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (l envLookup) str(key, fallback string) string {
	if v, ok := l.raw(key); ok {
		return v
	}
	return fallback
}

func (l envLookup) duration(key string, fallback time.Duration) time.Duration {
	if v, ok := l.raw(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func (l envLookup) integer(key string, fallback int) int {
	if v, ok := l.raw(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func (l envLookup) int64(key string, fallback int64) int64 {
	if v, ok := l.raw(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func (l envLookup) csv(key string) []string {
	v, ok := l.raw(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// kv parses "name=value,name2=value2"; names are lower cased.
func (l envLookup) kv(key string) map[string]string {
	out := make(map[string]string)
	for _, entry := range l.csv(key) {
		name, value, ok := strings.Cut(entry, "=")
		name, value = strings.ToLower(strings.TrimSpace(name)), strings.TrimSpace(value)
		if ok && name != "" && value != "" {
			out[name] = value
		}
	}
	return out
}
