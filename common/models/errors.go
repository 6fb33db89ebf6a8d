package models

import "errors"

var (
	// ErrGameNotFound covers both missing and not-owned games
	ErrGameNotFound = errors.New("game not found")
	ErrJobNotFound  = errors.New("build job not found")

	// ErrBuildInProgress means the game already has a pending or processing job
	ErrBuildInProgress = errors.New("a build is already in progress")

	// ErrGameNotBuildable means the game is not in draft
	ErrGameNotBuildable = errors.New("game is not in draft status")

	ErrJobNotClaimable      = errors.New("build job is not pending")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrSuperseded           = errors.New("build job was superseded")
	ErrVisibilityNotAllowed = errors.New("game must be built before it can be public")
	ErrSlugTaken            = errors.New("slug already in use")
)
