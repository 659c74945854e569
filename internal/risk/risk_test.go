package risk

import (
	"math"
	"testing"

	"github.com/linnemanlabs/overwatch/internal/entity"
)

func defaultConfig() Config {
	return Config{HighThreshold: DefaultHighThreshold, CriticalThreshold: DefaultCriticalThreshold}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", defaultConfig(), false},
		{"high at zero", Config{HighThreshold: 0, CriticalThreshold: 0.9}, true},
		{"critical at one", Config{HighThreshold: 0.5, CriticalThreshold: 1}, true},
		{"inverted", Config{HighThreshold: 0.9, CriticalThreshold: 0.6}, true},
		{"equal", Config{HighThreshold: 0.7, CriticalThreshold: 0.7}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAssess_WeightedScore(t *testing.T) {
	t.Parallel()

	agg, err := New(defaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got := agg.Assess(entity.RiskFactors{
		Temporal:   0.6,
		Spatial:    0.9,
		Behavioral: 0.8,
		Contextual: 0.4,
	}, 0.85)

	// 0.2*0.6 + 0.3*0.9 + 0.35*0.8 + 0.15*0.4 = 0.73
	if math.Abs(got.RiskScore-0.73) > 1e-9 {
		t.Errorf("RiskScore = %v, want 0.73", got.RiskScore)
	}
	if got.RiskLevel != entity.RiskHigh {
		t.Errorf("RiskLevel = %q, want %q", got.RiskLevel, entity.RiskHigh)
	}
	if !RequiresHumanReview(got.RiskLevel) {
		t.Error("expected high level to require human review")
	}
	if got.RecommendedAction != "Supervisor review" {
		t.Errorf("RecommendedAction = %q, want %q", got.RecommendedAction, "Supervisor review")
	}
	if got.Timestamp.IsZero() {
		t.Error("expected assessment timestamp to be stamped")
	}
}

func TestAssess_Clamped(t *testing.T) {
	t.Parallel()

	agg, _ := New(defaultConfig())
	got := agg.Assess(entity.RiskFactors{Temporal: 5, Spatial: 5, Behavioral: 5, Contextual: 5}, 2)
	if got.RiskScore != 1 {
		t.Errorf("RiskScore = %v, want clamped to 1", got.RiskScore)
	}
	if got.Confidence != 1 {
		t.Errorf("Confidence = %v, want clamped to 1", got.Confidence)
	}
	if got.RiskLevel != entity.RiskCritical {
		t.Errorf("RiskLevel = %q, want %q", got.RiskLevel, entity.RiskCritical)
	}
}

func TestLevel_MonotonicInScore(t *testing.T) {
	t.Parallel()

	agg, _ := New(defaultConfig())
	order := map[entity.RiskLevel]int{
		entity.RiskLow:      0,
		entity.RiskMedium:   1,
		entity.RiskHigh:     2,
		entity.RiskCritical: 3,
	}

	prev := -1
	for score := 0.0; score <= 1.0; score += 0.01 {
		rank := order[agg.Level(score)]
		if rank < prev {
			t.Fatalf("level rank decreased at score %v", score)
		}
		prev = rank
	}
}

func TestLevel_MonotonicInEachFactor(t *testing.T) {
	t.Parallel()

	agg, _ := New(defaultConfig())
	order := map[entity.RiskLevel]int{
		entity.RiskLow:      0,
		entity.RiskMedium:   1,
		entity.RiskHigh:     2,
		entity.RiskCritical: 3,
	}

	base := entity.RiskFactors{Temporal: 0.5, Spatial: 0.5, Behavioral: 0.5, Contextual: 0.5}
	bump := []func(entity.RiskFactors, float64) entity.RiskFactors{
		func(f entity.RiskFactors, v float64) entity.RiskFactors { f.Temporal = v; return f },
		func(f entity.RiskFactors, v float64) entity.RiskFactors { f.Spatial = v; return f },
		func(f entity.RiskFactors, v float64) entity.RiskFactors { f.Behavioral = v; return f },
		func(f entity.RiskFactors, v float64) entity.RiskFactors { f.Contextual = v; return f },
	}

	for i, set := range bump {
		prev := -1
		for v := 0.0; v <= 1.0; v += 0.05 {
			got := agg.Assess(set(base, v), 1)
			rank := order[got.RiskLevel]
			if rank < prev {
				t.Fatalf("factor %d: level rank decreased at value %v", i, v)
			}
			prev = rank
		}
	}
}

func TestReasonCodes(t *testing.T) {
	t.Parallel()

	codes := ReasonCodes(entity.RiskFactors{Temporal: 0.9, Spatial: 0.1, Behavioral: 0.6, Contextual: 0.2})
	want := []string{"BEHAVIORAL_ANOMALY", "HIGH_RISK_TIME"}
	if len(codes) != len(want) {
		t.Fatalf("codes = %v, want %v", codes, want)
	}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("codes[%d] = %q, want %q", i, codes[i], want[i])
		}
	}
}

func TestSeverityFor(t *testing.T) {
	t.Parallel()

	if got := SeverityFor(entity.RiskCritical); got != entity.SeverityCritical {
		t.Errorf("SeverityFor(critical) = %q", got)
	}
	if got := SeverityFor(entity.RiskLow); got != entity.SeverityLow {
		t.Errorf("SeverityFor(low) = %q", got)
	}
}
