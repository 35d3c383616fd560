package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "delcert.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":8085" {
		t.Fatalf("default address %q", cfg.Server.Address)
	}
	if cfg.Noise.DeletionProb != 0.97 {
		t.Fatalf("default deletion prob %v", cfg.Noise.DeletionProb)
	}
	if cfg.Estimator.Repeats != 1000 || cfg.Estimator.BatchSize != 32 {
		t.Fatalf("default estimator %+v", cfg.Estimator)
	}
	if cfg.Certification.MinEffective != 100 {
		t.Fatalf("default minEffective %d", cfg.Certification.MinEffective)
	}
	if cfg.Cache.Enabled {
		t.Fatal("cache should default to disabled")
	}
}

func TestLoadFromYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  address: ":9000"
  gracefulTimeout: 30s
noise:
  deletionProb: 0.95
  regionPolicy: zero
estimator:
  repeats: 200
  batchSize: 8
classifier:
  kind: remote
  modelID: malconv-v2
  baseURL: http://scorer:8080
cache:
  enabled: true
  addr: valkey:6379
  scoreTTL: 2h
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9000" || cfg.Server.GracefulTimeout != 30*time.Second {
		t.Fatalf("server %+v", cfg.Server)
	}
	if cfg.Noise.DeletionProb != 0.95 || cfg.Noise.RegionPolicy != "zero" {
		t.Fatalf("noise %+v", cfg.Noise)
	}
	if cfg.Estimator.Repeats != 200 || cfg.Estimator.BatchSize != 8 {
		t.Fatalf("estimator %+v", cfg.Estimator)
	}
	// Unset fields keep their defaults.
	if cfg.Estimator.Workers != 4 {
		t.Fatalf("estimator workers %d, want default 4", cfg.Estimator.Workers)
	}
	if cfg.Classifier.ModelID != "malconv-v2" {
		t.Fatalf("classifier %+v", cfg.Classifier)
	}
	if !cfg.Cache.Enabled || cfg.Cache.Addr != "valkey:6379" || cfg.Cache.ScoreTTL != 2*time.Hour {
		t.Fatalf("cache %+v", cfg.Cache)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DELCERT_SERVER_ADDRESS", ":7777")
	t.Setenv("DELCERT_DELETION_PROB", "0.9")
	t.Setenv("DELCERT_REPEATS", "50")
	t.Setenv("DELCERT_CACHE_ENABLED", "true")
	t.Setenv("DELCERT_CACHE_ADDR", "127.0.0.1:6379")
	t.Setenv("DELCERT_LOG_FORMAT", "json")

	cfg, err := Load(writeConfig(t, "server:\n  address: \":9000\"\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":7777" {
		t.Fatalf("env override lost: %q", cfg.Server.Address)
	}
	if cfg.Noise.DeletionProb != 0.9 {
		t.Fatalf("deletion prob %v", cfg.Noise.DeletionProb)
	}
	if cfg.Estimator.Repeats != 50 {
		t.Fatalf("repeats %d", cfg.Estimator.Repeats)
	}
	if !cfg.Cache.Enabled || cfg.Cache.Addr != "127.0.0.1:6379" {
		t.Fatalf("cache %+v", cfg.Cache)
	}
	if !cfg.Logging.JSON {
		t.Fatal("log format override lost")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing config file should fail")
	}
}

func TestValidateRejectsBadParameters(t *testing.T) {
	cases := map[string]string{
		"deletion prob of 1":  "noise:\n  deletionProb: 1\n",
		"unknown policy":      "noise:\n  regionPolicy: shuffle\n",
		"zero repeats":        "estimator:\n  repeats: 0\n",
		"zero batch":          "estimator:\n  batchSize: 0\n",
		"threshold of 1":      "certification:\n  threshold: 1\n",
		"confidence of 1":     "certification:\n  confidence: 1\n",
		"target FPR of 1":     "calibration:\n  targetFPR: 1\n",
		"unknown classifier":  "classifier:\n  kind: tarot\n",
		"zero min effective":  "certification:\n  minEffective: 0\n",
		"zero engine workers": "certification:\n  workers: 0\n",
	}
	for name, yaml := range cases {
		if _, err := Load(writeConfig(t, yaml)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}
