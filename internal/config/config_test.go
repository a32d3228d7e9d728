package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spec-kit/haul-reconciler/internal/domain"
)

func TestParsePolicyOverlaysDefaults(t *testing.T) {
	doc := []byte(`
weight_violation_tolerance_pct: 0.03
grace_period: 72h
baseline_min_samples: 5
`)
	p, err := ParsePolicy(doc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.WeightTolerancePct != 0.03 || p.GracePeriod != 72*time.Hour || p.BaselineMinSamples != 5 {
		t.Fatalf("overrides not applied: %+v", p)
	}
	def := domain.DefaultPolicy()
	if p.HighConfidenceMaxDeviation != def.HighConfidenceMaxDeviation || p.MatchWindow != def.MatchWindow {
		t.Fatalf("defaults lost: %+v", p)
	}
}

func TestParsePolicyRejectsBadInput(t *testing.T) {
	if _, err := ParsePolicy([]byte("weight_tolerance: 0.1\n")); err == nil {
		t.Fatalf("unknown key must be rejected")
	}
	_, err := ParsePolicy([]byte("high_confidence_max_deviation: 0.5\nmedium_confidence_max_deviation: 0.2\n"))
	if err == nil || !strings.Contains(err.Error(), "deviation bands") {
		t.Fatalf("inverted bands must fail validation, got %v", err)
	}
}

func TestParsePolicyEmptyDocument(t *testing.T) {
	p, err := ParsePolicy(nil)
	if err != nil || p != domain.DefaultPolicy() {
		t.Fatalf("empty document should yield defaults, got %+v %v", p, err)
	}
}

func TestLoadPolicyFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("min_ocr_confidence: 0.75\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := LoadPolicy(path)
	if err != nil || p.MinOCRConfidence != 0.75 {
		t.Fatalf("load: %+v %v", p, err)
	}
	if _, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("missing file must error")
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SETTLEMENT_CRON", "30 7 * * 6")
	t.Setenv("SETTLEMENT_TIMEZONE", "America/Chicago")
	t.Setenv("POLICY_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.Addr() != "0.0.0.0:9090" {
		t.Fatalf("unexpected addr %s", cfg.App.Addr())
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if cfg.Settlement.Cron != "30 7 * * 6" {
		t.Fatalf("unexpected cron %q", cfg.Settlement.Cron)
	}
	if cfg.Policy != domain.DefaultPolicy() {
		t.Fatalf("expected default policy")
	}
}
