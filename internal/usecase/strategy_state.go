package usecase

import (
	"time"

	"SpinCast/internal/domain/models"
	"SpinCast/internal/domain/roulette"
)

// armThreshold is the number of consecutive triggers that activates a window.
const armThreshold = 2

// Advance moves a trigger-window state machine by one outcome.
func Advance(table roulette.TriggerWindow, st models.StrategyState, n int, at time.Time) models.StrategyState {
	next := step(table, st, n)
	next.UpdatedAt = at
	return next
}

func step(table roulette.TriggerWindow, st models.StrategyState, n int) models.StrategyState {
	switch st.Phase {
	case models.PhaseArmed:
		if !table.IsTrigger(n) {
			return inactive()
		}
		if st.Consec+1 >= armThreshold {
			return models.StrategyState{
				Phase:     models.PhaseActive,
				Remaining: table.Window,
				Trigger:   n,
				Targets:   table.TargetsFor(n),
			}
		}
		return models.StrategyState{Phase: models.PhaseArmed, Consec: st.Consec + 1, Trigger: n}

	case models.PhaseActive:
		if st.Remaining-1 > 0 {
			st.Remaining--
			return st
		}
		// window closed; n starts over from inactive
		return step(table, inactive(), n)

	default:
		if table.IsTrigger(n) {
			return models.StrategyState{Phase: models.PhaseArmed, Consec: 1, Trigger: n}
		}
		return inactive()
	}
}

func inactive() models.StrategyState {
	return models.StrategyState{Phase: models.PhaseInactive}
}
