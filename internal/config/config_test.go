package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.MaxConcurrentJobs != 5 {
		t.Errorf("MaxConcurrentJobs = %d, want 5", cfg.MaxConcurrentJobs)
	}
	if cfg.RetryBaseDelay != time.Second {
		t.Errorf("RetryBaseDelay = %s, want 1s", cfg.RetryBaseDelay)
	}
	if cfg.RetryMaxDelay != 5*time.Minute {
		t.Errorf("RetryMaxDelay = %s, want 5m", cfg.RetryMaxDelay)
	}
	if cfg.StuckTimeout != 30*time.Minute {
		t.Errorf("StuckTimeout = %s, want 30m", cfg.StuckTimeout)
	}
	if !cfg.ClassifierEnabled {
		t.Error("ClassifierEnabled = false, want true")
	}
	if cfg.CurrencyRates["EUR"] != 1.10 {
		t.Errorf("EUR rate = %v, want 1.10", cfg.CurrencyRates["EUR"])
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_JOBS", "12")
	t.Setenv("RETRY_BASE_DELAY_MS", "250")
	t.Setenv("CLASSIFIER_ENABLED", "false")
	t.Setenv("OCR_LANGUAGE", "deu")

	cfg := Load()
	if cfg.MaxConcurrentJobs != 12 {
		t.Errorf("MaxConcurrentJobs = %d, want 12", cfg.MaxConcurrentJobs)
	}
	if cfg.RetryBaseDelay != 250*time.Millisecond {
		t.Errorf("RetryBaseDelay = %s, want 250ms", cfg.RetryBaseDelay)
	}
	if cfg.ClassifierEnabled {
		t.Error("ClassifierEnabled = true, want false")
	}
	if cfg.OCRLanguage != "deu" {
		t.Errorf("OCRLanguage = %q, want deu", cfg.OCRLanguage)
	}
}

func TestLoadIgnoresMalformedEnv(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_JOBS", "lots")
	t.Setenv("CROSS_BATCH_DEDUP", "sometimes")

	cfg := Load()
	if cfg.MaxConcurrentJobs != 5 {
		t.Errorf("MaxConcurrentJobs = %d, want default 5", cfg.MaxConcurrentJobs)
	}
	if !cfg.CrossBatchDedup {
		t.Error("CrossBatchDedup = false, want default true")
	}
}
