package world

import (
	"errors"
	"fmt"
)

// ErrInvalidIntent matches every rejected intent through errors.Is.
var ErrInvalidIntent = errors.New("invalid intent")

// Rejection codes sent back to clients
const (
	CodeBadIntent             = "bad_intent"
	CodeUnknownPlayer         = "unknown_player"
	CodeDefeated              = "defeated"
	CodeGameOver              = "game_over"
	CodeUnknownEntity         = "unknown_entity"
	CodeNotOwner              = "not_owner"
	CodeInvalidPlacement      = "invalid_placement"
	CodeInsufficientResources = "insufficient_resources"
	CodeIncompatibleBuilding  = "incompatible_building"
	CodeQueueFull             = "queue_full"
	CodeBadQueueIndex         = "bad_queue_index"
	CodeUnknownTech           = "unknown_tech"
	CodeMissingPrerequisites  = "missing_prerequisites"
	CodeAlreadyResearched     = "already_researched"
	CodeConditionUnmet        = "condition_unmet"
	CodeUnknownAbility        = "unknown_ability"
	CodeAbilityCooldown       = "ability_cooldown"
	CodeNoResource            = "no_resource"
	CodeCannotGather          = "cannot_gather"
	CodeRateLimited           = "rate_limited"
)

type IntentError struct {
	Code string
	Err  error
}

func (e *IntentError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *IntentError) Unwrap() error {
	return e.Err
}

func (e *IntentError) Is(target error) bool {
	return target == ErrInvalidIntent
}

func intentErr(code, format string, args ...any) error {
	return &IntentError{Code: code, Err: fmt.Errorf(format, args...)}
}

func wrapIntent(code string, err error) error {
	return &IntentError{Code: code, Err: err}
}

// IntentCode pulls the rejection code out of err, empty if it is not an intent error.
func IntentCode(err error) string {
	var ie *IntentError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}

// RejectIntent builds an intent error from outside the world, e.g. the hub's rate limiter.
func RejectIntent(code string, err error) error {
	return wrapIntent(code, err)
}
