package payments

import (
	"errors"
	"testing"

	"fabline/internal/config"
	"fabline/internal/domain"
)

func defaultStaged() []config.StageDef {
	return []config.StageDef{
		{Label: "downpayment", Percentage: 30},
		{Label: "progress", Percentage: 40},
		{Label: "completion", Percentage: 30},
	}
}

func TestComputeStagedExact(t *testing.T) {
	stages, err := Compute(10000, domain.PlanStaged, defaultStaged())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(stages) != 3 {
		t.Fatalf("expected 3 stages, got %d", len(stages))
	}
	want := []int64{3000, 4000, 3000}
	var sum int64
	for i, s := range stages {
		if s.Amount != want[i] {
			t.Fatalf("stage %d amount %d, want %d", i, s.Amount, want[i])
		}
		if s.Status != domain.StagePending {
			t.Fatalf("stage %d status %s, want pending", i, s.Status)
		}
		sum += s.Amount
	}
	if sum != 10000 {
		t.Fatalf("amounts sum to %d", sum)
	}
}

func TestComputeStagedResidualOnFinalStage(t *testing.T) {
	for _, total := range []int64{10001, 10003, 99, 1, 52000, 333} {
		stages, err := Compute(total, domain.PlanStaged, defaultStaged())
		if err != nil {
			t.Fatalf("compute(%d): %v", total, err)
		}
		var sum int64
		for _, s := range stages {
			sum += s.Amount
		}
		if sum != total {
			t.Fatalf("compute(%d): amounts sum to %d", total, sum)
		}
	}
}

func TestComputeFull(t *testing.T) {
	for _, total := range []int64{1, 10000, 10001, 987654321} {
		stages, err := Compute(total, domain.PlanFull, defaultStaged())
		if err != nil {
			t.Fatalf("compute(%d): %v", total, err)
		}
		if len(stages) != 1 {
			t.Fatalf("expected single stage, got %d", len(stages))
		}
		if stages[0].Amount != total || stages[0].Percentage != 100 || stages[0].Label != "full" {
			t.Fatalf("unexpected full stage: %+v", stages[0])
		}
	}
}

func TestComputeRejectsNonPositiveTotal(t *testing.T) {
	for _, total := range []int64{0, -1, -10000} {
		if _, err := Compute(total, domain.PlanStaged, defaultStaged()); !errors.Is(err, ErrInvalidTotal) {
			t.Fatalf("compute(%d): expected ErrInvalidTotal, got %v", total, err)
		}
	}
}

func TestComputeRejectsUnknownPlan(t *testing.T) {
	if _, err := Compute(100, "installments", defaultStaged()); !errors.Is(err, ErrUnknownPlan) {
		t.Fatalf("expected ErrUnknownPlan, got %v", err)
	}
}

func TestComputeRejectsBadPercentages(t *testing.T) {
	defs := []config.StageDef{{Label: "a", Percentage: 50}, {Label: "b", Percentage: 40}}
	if _, err := Compute(100, domain.PlanStaged, defs); err == nil {
		t.Fatalf("expected error for percentages not summing to 100")
	}
}
