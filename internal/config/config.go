package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/certstack/delcert/internal/noise"
)

// Config captures the settings required to boot the certification engine.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Noise         NoiseConfig         `yaml:"noise"`
	Estimator     EstimatorConfig     `yaml:"estimator"`
	Calibration   CalibrationConfig   `yaml:"calibration"`
	Certification CertificationConfig `yaml:"certification"`
	Classifier    ClassifierConfig    `yaml:"classifier"`
	Artifacts     ArtifactsConfig     `yaml:"artifacts"`
	Logging       LoggingConfig       `yaml:"logging"`
	Cache         CacheConfig         `yaml:"cache"`
}

// ServerConfig controls HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// NoiseConfig fixes the deletion channel.
type NoiseConfig struct {
	DeletionProb float64 `yaml:"deletionProb"`
	RegionPolicy string  `yaml:"regionPolicy"`
}

// EstimatorConfig controls the repeated forward passes.
type EstimatorConfig struct {
	Repeats    int    `yaml:"repeats"`
	BatchSize  int    `yaml:"batchSize"`
	Workers    int    `yaml:"workers"`
	Partitions int    `yaml:"partitions"`
	RunID      string `yaml:"runID"`
	RunSeed    int64  `yaml:"runSeed"`
}

// CalibrationConfig controls threshold selection.
type CalibrationConfig struct {
	TargetFPR  float64 `yaml:"targetFPR"`
	Confidence float64 `yaml:"confidence"`
}

// CertificationConfig controls the decision rule.
type CertificationConfig struct {
	Threshold    float64 `yaml:"threshold"`
	Confidence   float64 `yaml:"confidence"`
	MinEffective int     `yaml:"minEffective"`
	Workers      int     `yaml:"workers"`
}

// ClassifierConfig selects and configures the score source. Kind is either
// "onnx" for in-process inference or "remote" for an HTTP scoring service.
type ClassifierConfig struct {
	Kind      string        `yaml:"kind"`
	ModelID   string        `yaml:"modelID"`
	ModelPath string        `yaml:"modelPath"`
	SeqLen    int           `yaml:"seqLen"`
	PadToken  int           `yaml:"padToken"`
	BaseURL   string        `yaml:"baseURL"`
	ScorePath string        `yaml:"scorePath"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheTTL  time.Duration `yaml:"cacheTTL"`
}

// ArtifactsConfig controls calibration record persistence.
type ArtifactsConfig struct {
	Dir            string `yaml:"dir"`
	SigningKeyPath string `yaml:"signingKeyPath"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls Valkey-backed score caching and checkpoints.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	ScoreTTL     time.Duration `yaml:"scoreTTL"`
	ClaimTTL     time.Duration `yaml:"claimTTL"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("DELCERT_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects parameter combinations the pipeline cannot honor.
func (c *Config) Validate() error {
	if c.Noise.DeletionProb <= 0 || c.Noise.DeletionProb >= 1 {
		return fmt.Errorf("noise.deletionProb %v outside (0,1)", c.Noise.DeletionProb)
	}
	switch noise.RegionPolicy(c.Noise.RegionPolicy) {
	case noise.PolicyExcludeRegions, noise.PolicyZeroRegions:
	default:
		return fmt.Errorf("noise.regionPolicy %q is not a known policy", c.Noise.RegionPolicy)
	}
	if c.Estimator.Repeats < 1 {
		return fmt.Errorf("estimator.repeats %d, need at least 1", c.Estimator.Repeats)
	}
	if c.Estimator.BatchSize < 1 {
		return fmt.Errorf("estimator.batchSize %d, need at least 1", c.Estimator.BatchSize)
	}
	if c.Estimator.Workers < 1 {
		return fmt.Errorf("estimator.workers %d, need at least 1", c.Estimator.Workers)
	}
	if c.Estimator.Partitions < 1 {
		return fmt.Errorf("estimator.partitions %d, need at least 1", c.Estimator.Partitions)
	}
	if c.Calibration.TargetFPR < 0 || c.Calibration.TargetFPR >= 1 {
		return fmt.Errorf("calibration.targetFPR %v outside [0,1)", c.Calibration.TargetFPR)
	}
	if c.Calibration.Confidence <= 0 || c.Calibration.Confidence >= 1 {
		return fmt.Errorf("calibration.confidence %v outside (0,1)", c.Calibration.Confidence)
	}
	if c.Certification.Threshold < 0 || c.Certification.Threshold >= 1 {
		return fmt.Errorf("certification.threshold %v outside [0,1)", c.Certification.Threshold)
	}
	if c.Certification.Confidence <= 0 || c.Certification.Confidence >= 1 {
		return fmt.Errorf("certification.confidence %v outside (0,1)", c.Certification.Confidence)
	}
	if c.Certification.MinEffective < 1 {
		return fmt.Errorf("certification.minEffective %d, need at least 1", c.Certification.MinEffective)
	}
	if c.Certification.Workers < 1 {
		return fmt.Errorf("certification.workers %d, need at least 1", c.Certification.Workers)
	}
	switch c.Classifier.Kind {
	case "onnx", "remote":
	default:
		return fmt.Errorf("classifier.kind %q, want onnx or remote", c.Classifier.Kind)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8085",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Noise: NoiseConfig{
			DeletionProb: 0.97,
			RegionPolicy: string(noise.PolicyExcludeRegions),
		},
		Estimator: EstimatorConfig{
			Repeats:    1000,
			BatchSize:  32,
			Workers:    4,
			Partitions: 1,
			RunID:      "default",
			RunSeed:    1,
		},
		Calibration: CalibrationConfig{
			TargetFPR:  0.01,
			Confidence: 0.95,
		},
		Certification: CertificationConfig{
			Threshold:    0.5,
			Confidence:   0.95,
			MinEffective: 100,
			Workers:      4,
		},
		Classifier: ClassifierConfig{
			Kind:      "remote",
			ScorePath: "/v1/score",
			SeqLen:    4096,
			Timeout:   30 * time.Second,
			CacheTTL:  time.Hour,
		},
		Artifacts: ArtifactsConfig{Dir: "artifacts"},
		Logging:   LoggingConfig{Level: "info", JSON: false},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			ScoreTTL:     time.Hour,
			ClaimTTL:     5 * time.Minute,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DELCERT_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("DELCERT_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("DELCERT_DELETION_PROB"); v != "" {
		if p, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Noise.DeletionProb = p
		}
	}
	if v := os.Getenv("DELCERT_REGION_POLICY"); v != "" {
		cfg.Noise.RegionPolicy = v
	}
	if v := os.Getenv("DELCERT_REPEATS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Estimator.Repeats = n
		}
	}
	if v := os.Getenv("DELCERT_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Estimator.BatchSize = n
		}
	}
	if v := os.Getenv("DELCERT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Estimator.Workers = n
		}
	}
	if v := os.Getenv("DELCERT_PARTITIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Estimator.Partitions = n
		}
	}
	if v := os.Getenv("DELCERT_RUN_ID"); v != "" {
		cfg.Estimator.RunID = v
	}
	if v := os.Getenv("DELCERT_RUN_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Estimator.RunSeed = n
		}
	}
	if v := os.Getenv("DELCERT_TARGET_FPR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Calibration.TargetFPR = f
		}
	}
	if v := os.Getenv("DELCERT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Certification.Threshold = f
		}
	}
	if v := os.Getenv("DELCERT_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Certification.Confidence = f
			cfg.Calibration.Confidence = f
		}
	}
	if v := os.Getenv("DELCERT_MIN_EFFECTIVE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Certification.MinEffective = n
		}
	}
	if v := os.Getenv("DELCERT_CLASSIFIER_KIND"); v != "" {
		cfg.Classifier.Kind = v
	}
	if v := os.Getenv("DELCERT_MODEL_ID"); v != "" {
		cfg.Classifier.ModelID = v
	}
	if v := os.Getenv("DELCERT_MODEL_PATH"); v != "" {
		cfg.Classifier.ModelPath = v
	}
	if v := os.Getenv("DELCERT_SCORER_BASE_URL"); v != "" {
		cfg.Classifier.BaseURL = v
	}
	if v := os.Getenv("DELCERT_SCORER_PATH"); v != "" {
		cfg.Classifier.ScorePath = v
	}
	if v := os.Getenv("DELCERT_ARTIFACTS_DIR"); v != "" {
		cfg.Artifacts.Dir = v
	}
	if v := os.Getenv("DELCERT_SIGNING_KEY"); v != "" {
		cfg.Artifacts.SigningKeyPath = v
	}
	if v := os.Getenv("DELCERT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DELCERT_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("DELCERT_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("DELCERT_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("DELCERT_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("DELCERT_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("DELCERT_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("DELCERT_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("DELCERT_CACHE_SCORE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ScoreTTL = d
		}
	}
	if v := os.Getenv("DELCERT_CACHE_CLAIM_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ClaimTTL = d
		}
	}
}
