package strategy

import "FlipTradeBot/internal/models"

// EntryDecision is the verdict of an entry filter.
type EntryDecision struct {
	Allowed bool
	Reason  string // If not allowed, explains why
}

// Targets are the exit levels for a new position.
type Targets struct {
	StopLoss    float64
	TakeProfits [models.LadderSize]float64
}

func allow() EntryDecision {
	return EntryDecision{Allowed: true}
}

// Helper function for rejected entries
func reject(reason string) EntryDecision {
	return EntryDecision{Allowed: false, Reason: reason}
}
