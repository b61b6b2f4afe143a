package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	dErrors "assessgate/pkg/domain-errors"
	"assessgate/pkg/platform/middleware/metadata"
	pstrings "assessgate/pkg/platform/strings"
)

// Defaults for the report-access, share and backend subsystems.
const (
	DefaultAddr              = ":8080"
	DefaultAttemptTimeout    = 120 * time.Second
	DefaultAccessCodeTTL     = 10 * time.Minute
	DefaultMaxAttempts       = 5
	DefaultGrantTTL          = 30 * time.Minute
	DefaultSweepInterval     = 60 * time.Second
	DefaultShareTTL          = time.Hour
	DefaultShareDebounce     = 30 * time.Second
	DefaultBcryptCost        = 10
	DefaultShutdownTimeout   = 15 * time.Second
	DefaultRateLimitWindow   = 10 * time.Minute
	DefaultRequestRateLimit  = 5
	DefaultVerifyRateLimit   = 20
	devSigningKey            = "dev-grant-signing-key-change-in-production"
	minProductionSigningKeyN = 32
)

// Endpoint is one configured backend URL. Lower Priority values are tried first.
type Endpoint struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Priority int    `yaml:"priority"`
}

// RedisConfig holds connection settings for the optional Redis share store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Backend configures the failover connector.
type Backend struct {
	Endpoints      []Endpoint
	AttemptTimeout time.Duration
	// TotalBudget caps a whole submission across endpoints; zero means unbounded.
	TotalBudget time.Duration
}

// Access configures report-access codes and grants.
type Access struct {
	CodeTTL       time.Duration
	MaxAttempts   int
	GrantTTL      time.Duration
	SweepInterval time.Duration
	SigningKey    string
	BcryptCost    int
	// Notifier selects code delivery: "log" or "backend".
	Notifier string
}

// Share configures shared progress.
type Share struct {
	TTL        time.Duration
	Debounce   time.Duration
	OwnerSalt  string
	Store      string // memory | redis
	PublicBase string
}

// RateLimit configures per-IP limits on the access-code endpoints. A zero
// limit disables that endpoint's limiter.
type RateLimit struct {
	RequestLimit int
	VerifyLimit  int
	Window       time.Duration
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	Environment     string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	// AdminToken guards /internal routes; production exposes them only when set.
	AdminToken string
	// TrustedProxies lists proxy IPs or CIDRs whose X-Forwarded-For is believed.
	TrustedProxies []string

	Backend   Backend
	Access    Access
	Share     Share
	Redis     RedisConfig
	RateLimit RateLimit
}

// LoadDotEnv loads variables from the given .env files (default ".env") without
// overriding variables already present. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr:            envOr("ASSESSGATE_ADDR", DefaultAddr),
		Environment:     envOr("ASSESSGATE_ENV", "development"),
		LogLevel:        envOr("LOG_LEVEL", "info"),
		LogFormat:       envOr("LOG_FORMAT", "json"),
		ShutdownTimeout: DefaultShutdownTimeout,
		AdminToken:      os.Getenv("ADMIN_TOKEN"),
		TrustedProxies:  pstrings.SplitList(os.Getenv("TRUSTED_PROXIES"), ","),
		Access: Access{
			CodeTTL:       DefaultAccessCodeTTL,
			MaxAttempts:   DefaultMaxAttempts,
			GrantTTL:      DefaultGrantTTL,
			SweepInterval: DefaultSweepInterval,
			SigningKey:    envOr("GRANT_SIGNING_KEY", devSigningKey),
			BcryptCost:    DefaultBcryptCost,
			Notifier:      envOr("ACCESS_NOTIFIER", "backend"),
		},
		Share: Share{
			TTL:        DefaultShareTTL,
			Debounce:   DefaultShareDebounce,
			OwnerSalt:  envOr("SHARE_OWNER_SALT", devSigningKey),
			Store:      envOr("PROGRESS_STORE", "memory"),
			PublicBase: strings.TrimRight(envOr("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Backend: Backend{AttemptTimeout: DefaultAttemptTimeout},
		RateLimit: RateLimit{
			RequestLimit: DefaultRequestRateLimit,
			VerifyLimit:  DefaultVerifyRateLimit,
			Window:       DefaultRateLimitWindow,
		},
	}

	var errs []error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"BACKEND_ATTEMPT_TIMEOUT", &cfg.Backend.AttemptTimeout},
		{"BACKEND_TOTAL_BUDGET", &cfg.Backend.TotalBudget},
		{"ACCESS_CODE_TTL", &cfg.Access.CodeTTL},
		{"ACCESS_GRANT_TTL", &cfg.Access.GrantTTL},
		{"ACCESS_SWEEP_INTERVAL", &cfg.Access.SweepInterval},
		{"SHARE_TTL", &cfg.Share.TTL},
		{"SHARE_DEBOUNCE", &cfg.Share.Debounce},
		{"SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"REDIS_DIAL_TIMEOUT", &cfg.Redis.DialTimeout},
		{"REDIS_READ_TIMEOUT", &cfg.Redis.ReadTimeout},
		{"REDIS_WRITE_TIMEOUT", &cfg.Redis.WriteTimeout},
		{"RATE_LIMIT_WINDOW", &cfg.RateLimit.Window},
	}
	for _, d := range durations {
		if err := parseDuration(d.key, d.dst); err != nil {
			errs = append(errs, err)
		}
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"ACCESS_CODE_MAX_ATTEMPTS", &cfg.Access.MaxAttempts},
		{"BCRYPT_COST", &cfg.Access.BcryptCost},
		{"REDIS_POOL_SIZE", &cfg.Redis.PoolSize},
		{"REDIS_MIN_IDLE_CONNS", &cfg.Redis.MinIdleConns},
		{"RATE_LIMIT_ACCESS_REQUEST", &cfg.RateLimit.RequestLimit},
		{"RATE_LIMIT_ACCESS_VERIFY", &cfg.RateLimit.VerifyLimit},
	}
	for _, i := range ints {
		if err := parseInt(i.key, i.dst); err != nil {
			errs = append(errs, err)
		}
	}

	endpoints, err := endpointsFromEnv()
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Backend.Endpoints = endpoints

	if err := errors.Join(errs...); err != nil {
		return Server{}, dErrors.Wrap(err, dErrors.CodeValidation, "invalid configuration")
	}
	return cfg, nil
}

// Production reports whether the service runs with production safeguards.
func (s Server) Production() bool {
	return strings.EqualFold(s.Environment, "production")
}

// Validate rejects configurations the service cannot run with.
func (s Server) Validate() error {
	if len(s.Backend.Endpoints) == 0 {
		return dErrors.New(dErrors.CodeValidation, "no backend endpoints configured: set BACKEND_PRIMARY_URL or BACKEND_ENDPOINTS_FILE")
	}
	if s.Backend.AttemptTimeout <= 0 {
		return dErrors.New(dErrors.CodeValidation, "BACKEND_ATTEMPT_TIMEOUT must be positive")
	}
	if s.Access.MaxAttempts <= 0 {
		return dErrors.New(dErrors.CodeValidation, "ACCESS_CODE_MAX_ATTEMPTS must be positive")
	}
	if s.Access.CodeTTL <= 0 || s.Access.GrantTTL <= 0 || s.Access.SweepInterval <= 0 {
		return dErrors.New(dErrors.CodeValidation, "access durations must be positive")
	}
	if s.Share.TTL <= 0 || s.Share.Debounce < 0 {
		return dErrors.New(dErrors.CodeValidation, "share durations are invalid")
	}
	if _, err := metadata.NewClientIPResolver(s.TrustedProxies); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "TRUSTED_PROXIES is invalid")
	}
	if s.RateLimit.RequestLimit < 0 || s.RateLimit.VerifyLimit < 0 || s.RateLimit.Window < 0 {
		return dErrors.New(dErrors.CodeValidation, "rate limits must not be negative")
	}
	switch s.Share.Store {
	case "memory":
	case "redis":
		if s.Redis.URL == "" {
			return dErrors.New(dErrors.CodeValidation, "PROGRESS_STORE=redis requires REDIS_URL")
		}
	default:
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown PROGRESS_STORE %q", s.Share.Store))
	}
	switch s.Access.Notifier {
	case "log", "backend":
	default:
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown ACCESS_NOTIFIER %q", s.Access.Notifier))
	}
	if s.Production() {
		if s.Access.SigningKey == devSigningKey || len(s.Access.SigningKey) < minProductionSigningKeyN {
			return dErrors.New(dErrors.CodeValidation, "GRANT_SIGNING_KEY must be at least 32 bytes in production")
		}
		if s.Share.OwnerSalt == devSigningKey {
			return dErrors.New(dErrors.CodeValidation, "SHARE_OWNER_SALT must be set in production")
		}
	}
	return nil
}

// endpointsFromEnv reads BACKEND_ENDPOINTS_FILE when set, otherwise
// BACKEND_PRIMARY_URL followed by the comma separated BACKEND_ALTERNATE_URLS.
func endpointsFromEnv() ([]Endpoint, error) {
	if path := strings.TrimSpace(os.Getenv("BACKEND_ENDPOINTS_FILE")); path != "" {
		return LoadEndpointsFile(path)
	}

	var endpoints []Endpoint
	if primary := strings.TrimSpace(os.Getenv("BACKEND_PRIMARY_URL")); primary != "" {
		endpoints = append(endpoints, Endpoint{Name: "primary", URL: primary, Priority: 0})
	}
	for i, alt := range pstrings.SplitList(os.Getenv("BACKEND_ALTERNATE_URLS"), ",") {
		endpoints = append(endpoints, Endpoint{
			Name:     fmt.Sprintf("alternate-%d", i+1),
			URL:      alt,
			Priority: i + 1,
		})
	}
	return endpoints, nil
}

type endpointsFile struct {
	Endpoints []Endpoint `yaml:"endpoints"`
}

// LoadEndpointsFile parses a YAML document of the form:
//
//	endpoints:
//	  - name: primary
//	    url: https://backend.example/exec
//	    priority: 0
func LoadEndpointsFile(path string) ([]Endpoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read endpoints file: %w", err)
	}
	var doc endpointsFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse endpoints file: %w", err)
	}
	for i := range doc.Endpoints {
		doc.Endpoints[i].URL = strings.TrimSpace(doc.Endpoints[i].URL)
		if doc.Endpoints[i].Name == "" {
			doc.Endpoints[i].Name = fmt.Sprintf("endpoint-%d", i+1)
		}
	}
	return doc.Endpoints, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func parseDuration(key string, dst *time.Duration) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func parseInt(key string, dst *int) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}
