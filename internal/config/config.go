// Package config loads and holds all gateway configuration.
// Settings start from built-in defaults, are overridden by kavach-config.json
// (optional), and finally by environment variables. A .env file in the
// working directory is loaded into the environment first, without clobbering
// variables that are already set.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backend names.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
	StorageBolt   = "bolt"
)

// Substitution modes for masking.
const (
	SubstitutionOffsets = "offsets"
	SubstitutionFirst   = "first"
)

// Config holds the full gateway configuration.
type Config struct {
	Port           int    `json:"port"`
	ManagementPort int    `json:"managementPort"`
	BindAddress    string `json:"bindAddress"`
	LogLevel       string `json:"logLevel"`

	Storage        string        `json:"storage"`
	RedisURL       string        `json:"redisUrl"`
	RedisKeyPrefix string        `json:"redisKeyPrefix"`
	SessionTTL     time.Duration `json:"sessionTtl"`
	BoltPath       string        `json:"boltPath"`

	DetectorEndpoint string        `json:"detectorEndpoint"`
	DetectorTimeout  time.Duration `json:"detectorTimeout"`
	DetectorWarmup   bool          `json:"detectorWarmup"`
	MinConfidence    float64       `json:"minConfidence"`
	PatternDetection bool          `json:"patternDetection"`
	Substitution     string        `json:"substitution"`

	RateLimitRPS   float64 `json:"rateLimitRps"`
	RateLimitBurst int     `json:"rateLimitBurst"`
	MaxBodyBytes   int64   `json:"maxBodyBytes"`

	ManagementToken string `json:"managementToken"`
}

// Load returns config with defaults overridden by kavach-config.json and env vars.
func Load() *Config {
	// Best-effort: a missing .env is the common case.
	_ = godotenv.Load()

	cfg := defaults()
	loadFile(cfg, "kavach-config.json")
	loadEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		Port:             3000,
		ManagementPort:   3001,
		BindAddress:      "0.0.0.0",
		LogLevel:         "info",
		Storage:          StorageMemory,
		RedisKeyPrefix:   "kavach:session:",
		SessionTTL:       24 * time.Hour,
		BoltPath:         "kavach.db",
		DetectorEndpoint: "http://localhost:8001/ner",
		DetectorTimeout:  30 * time.Second,
		MinConfidence:    0,
		Substitution:     SubstitutionOffsets,
		RateLimitRPS:     20,
		RateLimitBurst:   40,
		MaxBodyBytes:     1 << 20,
	}
}

func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path) // #nosec G304 -- fixed config path
	if err != nil {
		return // file is optional
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		log.Printf("[CONFIG] Warning: could not parse %s: %v", path, err)
	} else {
		log.Printf("[CONFIG] Loaded %s", path)
	}
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("MANAGEMENT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ManagementPort = n
		}
	}
	if v := os.Getenv("BIND_ADDRESS"); v != "" {
		cfg.BindAddress = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	// REDIS_URL alone selects the redis backend.
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
		cfg.Storage = StorageRedis
	}
	if v := os.Getenv("STORAGE"); v != "" {
		cfg.Storage = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("REDIS_KEY_PREFIX"); v != "" {
		cfg.RedisKeyPrefix = v
	}
	if v := os.Getenv("SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SessionTTL = d
		}
	}
	if v := os.Getenv("BOLT_PATH"); v != "" {
		cfg.BoltPath = v
	}

	if v := os.Getenv("DETECTOR_ENDPOINT"); v != "" {
		cfg.DetectorEndpoint = v
	}
	if v := os.Getenv("DETECTOR_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.DetectorTimeout = d
		}
	}
	if v := os.Getenv("DETECTOR_WARMUP"); v != "" {
		cfg.DetectorWarmup = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("PATTERN_DETECTION"); v != "" {
		cfg.PatternDetection = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("MIN_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MinConfidence = f
		}
	}
	if v := os.Getenv("SUBSTITUTION"); v != "" {
		cfg.Substitution = strings.ToLower(strings.TrimSpace(v))
	}

	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}
	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxBodyBytes = n
		}
	}
	if v := os.Getenv("MANAGEMENT_TOKEN"); v != "" {
		cfg.ManagementToken = v
	}
}

// Validate reports the first configuration value that cannot be used.
func (c *Config) Validate() error {
	switch c.Storage {
	case StorageMemory, StorageRedis, StorageBolt:
	default:
		return fmt.Errorf("unknown storage backend %q (want memory, redis or bolt)", c.Storage)
	}
	switch c.Substitution {
	case SubstitutionOffsets, SubstitutionFirst:
	default:
		return fmt.Errorf("unknown substitution mode %q (want offsets or first)", c.Substitution)
	}
	if c.Storage == StorageBolt && c.BoltPath == "" {
		return fmt.Errorf("bolt storage requires a database path")
	}
	if c.SessionTTL < 0 {
		return fmt.Errorf("session TTL must not be negative")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min confidence %.2f out of range [0,1]", c.MinConfidence)
	}
	return nil
}
