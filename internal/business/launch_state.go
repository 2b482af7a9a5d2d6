package business

import (
	"time"

	"launchpad/internal/models"
)

const (
	MsgNotStarted       = "Launch has not started yet."
	MsgEnded            = "Launch has ended."
	MsgMaxSupplyReached = "Max supply reached."
	MsgExceedsMaxSupply = "Mint amount exceeds max supply."
)

// EvaluateLaunchState derives the lifecycle state from time and supply.
// The window is half-open: live covers [start, end).
func EvaluateLaunchState(now, start, end time.Time, currentSupply, maxSupply uint64) models.LaunchStatus {
	if now.Before(start) {
		return models.LaunchStatusUpcoming
	}
	if currentSupply >= maxSupply {
		return models.LaunchStatusFinished
	}
	if !now.Before(end) {
		return models.LaunchStatusEnded
	}
	return models.LaunchStatusLive
}

// StateOf evaluates a launch snapshot at now
func StateOf(now time.Time, launch *models.Launch) models.LaunchStatus {
	return EvaluateLaunchState(now, launch.StartDate, launch.EndDate, launch.CurrentSupply, launch.MaxSupply)
}

// CheckPurchase gates a purchase of amount units against a fresh evaluation
// of the launch. It never mutates the launch.
func CheckPurchase(now time.Time, launch *models.Launch, amount uint64) error {
	switch StateOf(now, launch) {
	case models.LaunchStatusUpcoming:
		return StateError(MsgNotStarted)
	case models.LaunchStatusEnded:
		return StateError(MsgEnded)
	case models.LaunchStatusFinished:
		return StateError(MsgMaxSupplyReached)
	}

	if amount > launch.RemainingSupply() {
		return StateError(MsgExceedsMaxSupply)
	}
	return nil
}
