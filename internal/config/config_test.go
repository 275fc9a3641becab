package config

import "testing"

func TestLoadIncludesPipelineDefaults(t *testing.T) {
	t.Setenv("CONFIDENCE_THRESHOLD", "")
	t.Setenv("ANALYSIS_CONCURRENCY", "")
	t.Setenv("GENERATION_MAX_ATTEMPTS", "")
	t.Setenv("GENERATION_WAIT_FOR_LOCK", "")
	t.Setenv("NATS_ANALYSIS_SUBJECT", "")

	cfg := Load()
	if cfg.ConfidenceThreshold != 60 {
		t.Fatalf("expected default confidence threshold 60, got %d", cfg.ConfidenceThreshold)
	}
	if cfg.AnalysisConcurrency != 3 {
		t.Fatalf("expected default analysis concurrency 3, got %d", cfg.AnalysisConcurrency)
	}
	if cfg.GenerationAttempts != 3 {
		t.Fatalf("expected default generation attempts 3, got %d", cfg.GenerationAttempts)
	}
	if cfg.GenerationWaitLock {
		t.Fatalf("expected wait-for-lock disabled by default")
	}
	if cfg.NATSAnalysisSubject != "applications.analysis" {
		t.Fatalf("expected default analysis subject, got %q", cfg.NATSAnalysisSubject)
	}
}

func TestLoadParsesPipelineOverrides(t *testing.T) {
	t.Setenv("CONFIDENCE_THRESHOLD", "80")
	t.Setenv("ANALYSIS_CONCURRENCY", "8")
	t.Setenv("GENERATION_WAIT_FOR_LOCK", "true")
	t.Setenv("API_RATE_LIMIT_RPS", "2.5")
	t.Setenv("EXTRACTION_TIMEOUT_SECONDS", "45")

	cfg := Load()
	if cfg.ConfidenceThreshold != 80 {
		t.Fatalf("expected confidence threshold 80, got %d", cfg.ConfidenceThreshold)
	}
	if cfg.AnalysisConcurrency != 8 {
		t.Fatalf("expected analysis concurrency 8, got %d", cfg.AnalysisConcurrency)
	}
	if !cfg.GenerationWaitLock {
		t.Fatalf("expected wait-for-lock enabled")
	}
	if cfg.APIRateLimitRPS != 2.5 {
		t.Fatalf("expected rate limit 2.5, got %v", cfg.APIRateLimitRPS)
	}
	if cfg.ExtractionTimeoutS != 45 {
		t.Fatalf("expected extraction timeout 45, got %d", cfg.ExtractionTimeoutS)
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("ANALYSIS_CONCURRENCY", "not-a-number")
	t.Setenv("API_RATE_LIMIT_RPS", "many")

	cfg := Load()
	if cfg.AnalysisConcurrency != 3 {
		t.Fatalf("expected fallback concurrency 3, got %d", cfg.AnalysisConcurrency)
	}
	if cfg.APIRateLimitRPS != 0 {
		t.Fatalf("expected fallback rate limit 0, got %v", cfg.APIRateLimitRPS)
	}
}
