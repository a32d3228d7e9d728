package domain

import (
	"errors"
	"fmt"
	"time"
)

// Policy holds every tunable threshold used by scoring, matching and settlement.
type Policy struct {
	HighConfidenceMaxDeviation   float64 `yaml:"high_confidence_max_deviation"`
	MediumConfidenceMaxDeviation float64 `yaml:"medium_confidence_max_deviation"`
	HighConfidenceFloor          float64 `yaml:"high_confidence_floor"`
	MediumConfidenceFloor        float64 `yaml:"medium_confidence_floor"`
	LowConfidenceDecay           float64 `yaml:"low_confidence_decay"`
	LowConfidenceThreshold       float64 `yaml:"low_confidence_threshold"`

	WeightTolerancePct     float64 `yaml:"weight_violation_tolerance_pct"`
	WeightToleranceAbsTons float64 `yaml:"weight_violation_tolerance_abs_tons"`
	MinOCRConfidence       float64 `yaml:"min_ocr_confidence"`

	MatchWindow    time.Duration `yaml:"match_window"`
	DispatchWindow time.Duration `yaml:"dispatch_window"`
	GracePeriod    time.Duration `yaml:"grace_period"`

	BaselineMinSamples int           `yaml:"baseline_min_samples"`
	BaselineWindowSize int           `yaml:"baseline_window_size"`
	BaselineMaxAge     time.Duration `yaml:"baseline_max_age"`

	PayWeekCloseDelay time.Duration `yaml:"pay_week_close_delay"`
	AnnotateWorkers   int           `yaml:"annotate_workers"`
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		HighConfidenceMaxDeviation:   0.10,
		MediumConfidenceMaxDeviation: 0.30,
		HighConfidenceFloor:          0.85,
		MediumConfidenceFloor:        0.50,
		LowConfidenceDecay:           5,
		LowConfidenceThreshold:       0.50,

		WeightTolerancePct:     0.05,
		WeightToleranceAbsTons: 1.0,
		MinOCRConfidence:       0.60,

		MatchWindow:    24 * time.Hour,
		DispatchWindow: 24 * time.Hour,
		GracePeriod:    48 * time.Hour,

		BaselineMinSamples: 3,
		BaselineWindowSize: 50,
		BaselineMaxAge:     90 * 24 * time.Hour,

		PayWeekCloseDelay: 24 * time.Hour,
		AnnotateWorkers:   8,
	}
}

// Validate checks the policy for internally inconsistent thresholds.
func (p Policy) Validate() error {
	var errs []error
	if p.HighConfidenceMaxDeviation <= 0 || p.MediumConfidenceMaxDeviation <= p.HighConfidenceMaxDeviation {
		errs = append(errs, fmt.Errorf("deviation bands must satisfy 0 < high (%v) < medium (%v)",
			p.HighConfidenceMaxDeviation, p.MediumConfidenceMaxDeviation))
	}
	if p.MediumConfidenceFloor <= 0 || p.HighConfidenceFloor <= p.MediumConfidenceFloor || p.HighConfidenceFloor > 1 {
		errs = append(errs, fmt.Errorf("score floors must satisfy 0 < medium (%v) < high (%v) <= 1",
			p.MediumConfidenceFloor, p.HighConfidenceFloor))
	}
	if p.LowConfidenceDecay <= 0 {
		errs = append(errs, errors.New("low_confidence_decay must be positive"))
	}
	if p.LowConfidenceThreshold < 0 || p.LowConfidenceThreshold > 1 {
		errs = append(errs, errors.New("low_confidence_threshold must be within [0,1]"))
	}
	if p.WeightTolerancePct < 0 || p.WeightToleranceAbsTons < 0 {
		errs = append(errs, errors.New("weight tolerances must not be negative"))
	}
	if p.MinOCRConfidence < 0 || p.MinOCRConfidence > 1 {
		errs = append(errs, errors.New("min_ocr_confidence must be within [0,1]"))
	}
	if p.MatchWindow <= 0 || p.DispatchWindow <= 0 || p.GracePeriod < 0 {
		errs = append(errs, errors.New("match/dispatch windows must be positive and grace period non-negative"))
	}
	if p.BaselineMinSamples < 1 || p.BaselineWindowSize < p.BaselineMinSamples {
		errs = append(errs, fmt.Errorf("baseline window (%d) must hold at least min samples (%d)",
			p.BaselineWindowSize, p.BaselineMinSamples))
	}
	if p.BaselineMaxAge <= 0 {
		errs = append(errs, errors.New("baseline_max_age must be positive"))
	}
	if p.PayWeekCloseDelay < 0 {
		errs = append(errs, errors.New("pay_week_close_delay must not be negative"))
	}
	if p.AnnotateWorkers < 1 {
		errs = append(errs, errors.New("annotate_workers must be >= 1"))
	}
	return errors.Join(errs...)
}
