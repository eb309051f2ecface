// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ericfisherdev/tryonkit/internal/domain/model"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	APIURL  string
	AuthURL string
	DBPath  string

	// SecretKey encrypts the key-value store at rest. Nil stores plaintext.
	SecretKey []byte

	JobTimeout             time.Duration
	KeepAliveInterval      time.Duration
	RenewalCheckInterval   time.Duration
	CompressThresholdBytes int
	Pricing                model.Pricing

	MinIO           MinIOConfig
	MaterializeRate float64
	OTelExporter    string
}

// MinIOConfig describes the optional object store for durable results and
// the shared asset index.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

// Enabled reports whether an object store is configured.
func (m MinIOConfig) Enabled() bool {
	return m.Endpoint != "" && m.Bucket != ""
}

// pricingFile is the on-disk shape of TRYON_PRICING_FILE.
type pricingFile struct {
	Tiers    map[string]int `yaml:"tiers"`
	MockCost *int           `yaml:"mock_cost"`
}

// Load reads configuration from environment variables and returns a validated Config.
// TRYON_API_URL and TRYON_AUTH_URL are required. Optional variables with defaults:
// TRYON_DB_PATH (tryonkit.db), TRYON_JOB_TIMEOUT (5m), TRYON_KEEPALIVE_INTERVAL (20s),
// TRYON_RENEWAL_CHECK_INTERVAL (1m), TRYON_COMPRESS_THRESHOLD (1048576),
// TRYON_MATERIALIZE_RATE (1), TRYON_OTEL_EXPORTER (none).
func Load() (*Config, error) {
	apiURL := strings.TrimSpace(os.Getenv("TRYON_API_URL"))
	if apiURL == "" {
		return nil, errors.New("TRYON_API_URL is required")
	}
	authURL := strings.TrimSpace(os.Getenv("TRYON_AUTH_URL"))
	if authURL == "" {
		return nil, errors.New("TRYON_AUTH_URL is required")
	}

	dbPath := "tryonkit.db"
	if v, ok := os.LookupEnv("TRYON_DB_PATH"); ok {
		dbPath = v
	}

	var secretKey []byte
	if v, ok := os.LookupEnv("TRYON_SECRET_KEY"); ok && v != "" {
		key, err := hex.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("TRYON_SECRET_KEY is not valid hex: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("TRYON_SECRET_KEY must be 32 bytes (64 hex chars), got %d bytes", len(key))
		}
		secretKey = key
	}

	jobTimeout, err := durationEnv("TRYON_JOB_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	keepAlive, err := durationEnv("TRYON_KEEPALIVE_INTERVAL", 20*time.Second)
	if err != nil {
		return nil, err
	}
	renewalCheck, err := durationEnv("TRYON_RENEWAL_CHECK_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}

	threshold := 1 << 20
	if v, ok := os.LookupEnv("TRYON_COMPRESS_THRESHOLD"); ok {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("TRYON_COMPRESS_THRESHOLD has invalid byte count %q", v)
		}
		threshold = parsed
	}

	pricing := model.DefaultPricing()
	if v, ok := os.LookupEnv("TRYON_PRICING_FILE"); ok && v != "" {
		pricing, err = LoadPricing(v)
		if err != nil {
			return nil, fmt.Errorf("TRYON_PRICING_FILE: %w", err)
		}
	}

	useSSL := false
	if v, ok := os.LookupEnv("TRYON_MINIO_USE_SSL"); ok && v != "" {
		useSSL, err = strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("TRYON_MINIO_USE_SSL has invalid boolean %q: %w", v, err)
		}
	}

	rate := 1.0
	if v, ok := os.LookupEnv("TRYON_MATERIALIZE_RATE"); ok {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("TRYON_MATERIALIZE_RATE has invalid rate %q", v)
		}
		rate = parsed
	}

	exporter := "none"
	if v, ok := os.LookupEnv("TRYON_OTEL_EXPORTER"); ok && v != "" {
		exporter = strings.ToLower(v)
	}
	switch exporter {
	case "none", "stdout", "otlp":
	default:
		return nil, fmt.Errorf("TRYON_OTEL_EXPORTER must be none, stdout or otlp, got %q", exporter)
	}

	return &Config{
		APIURL:                 apiURL,
		AuthURL:                authURL,
		DBPath:                 dbPath,
		SecretKey:              secretKey,
		JobTimeout:             jobTimeout,
		KeepAliveInterval:      keepAlive,
		RenewalCheckInterval:   renewalCheck,
		CompressThresholdBytes: threshold,
		Pricing:                pricing,
		MinIO: MinIOConfig{
			Endpoint:  os.Getenv("TRYON_MINIO_ENDPOINT"),
			AccessKey: os.Getenv("TRYON_MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("TRYON_MINIO_SECRET_KEY"),
			Bucket:    os.Getenv("TRYON_MINIO_BUCKET"),
			UseSSL:    useSSL,
			Region:    os.Getenv("TRYON_MINIO_REGION"),
		},
		MaterializeRate: rate,
		OTelExporter:    exporter,
	}, nil
}

// LoadPricing reads a YAML price list. Tiers missing from the file keep their
// default cost.
func LoadPricing(path string) (model.Pricing, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return model.Pricing{}, fmt.Errorf("read pricing: %w", err)
	}

	var file pricingFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return model.Pricing{}, fmt.Errorf("parse pricing: %w", err)
	}

	pricing := model.DefaultPricing()
	for name, cost := range file.Tiers {
		tier := model.QualityTier(strings.ToLower(name))
		if _, known := pricing.Tiers[tier]; !known {
			return model.Pricing{}, fmt.Errorf("unknown quality tier %q", name)
		}
		if cost < 0 {
			return model.Pricing{}, fmt.Errorf("tier %q has negative cost %d", name, cost)
		}
		pricing.Tiers[tier] = cost
	}
	if file.MockCost != nil {
		if *file.MockCost < 0 {
			return model.Pricing{}, fmt.Errorf("mock_cost is negative: %d", *file.MockCost)
		}
		pricing.MockCost = *file.MockCost
	}
	return pricing, nil
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", name, v, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", name, v)
	}
	return parsed, nil
}
