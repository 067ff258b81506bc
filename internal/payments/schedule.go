// Package payments derives a staged billing plan from an approved total.
// Compute is deterministic and side-effect-free; the engine persists its
// output once, at approval time.
package payments

import (
	"errors"
	"fmt"

	"fabline/internal/config"
	"fabline/internal/domain"
)

var (
	ErrInvalidTotal = errors.New("total amount must be positive")
	ErrUnknownPlan  = errors.New("unknown payment plan")
)

// Compute splits total across the staged definitions, or returns a single
// 100% stage for the full plan. Amounts use round-half-up; the final stage
// absorbs the rounding residual so the amounts always sum to total exactly.
func Compute(total int64, plan string, staged []config.StageDef) ([]domain.PaymentStage, error) {
	if total <= 0 {
		return nil, ErrInvalidTotal
	}
	switch plan {
	case domain.PlanFull:
		return []domain.PaymentStage{{
			Seq:        1,
			Label:      "full",
			Percentage: 100,
			Amount:     total,
			Status:     domain.StagePending,
		}}, nil
	case domain.PlanStaged:
		if len(staged) == 0 {
			return nil, fmt.Errorf("staged plan has no stage definitions")
		}
		sum := 0
		for _, def := range staged {
			sum += def.Percentage
		}
		if sum != 100 {
			return nil, fmt.Errorf("staged percentages sum to %d, must be 100", sum)
		}
		stages := make([]domain.PaymentStage, 0, len(staged))
		var allocated int64
		for i, def := range staged {
			amount := roundHalfUp(total, def.Percentage)
			if i == len(staged)-1 {
				amount = total - allocated
			}
			allocated += amount
			stages = append(stages, domain.PaymentStage{
				Seq:        i + 1,
				Label:      def.Label,
				Percentage: def.Percentage,
				Amount:     amount,
				Status:     domain.StagePending,
			})
		}
		return stages, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, plan)
	}
}

func roundHalfUp(total int64, pct int) int64 {
	return (total*int64(pct) + 50) / 100
}
