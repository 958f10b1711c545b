package models

import (
	"errors"
	"fmt"
)

// Validation errors. All are raised before any cost is incurred.
var (
	ErrMissingField          = errors.New("missing required field")
	ErrInvalidRole           = errors.New("invalid role")
	ErrInvalidStyle          = errors.New("invalid style")
	ErrUnsupportedModel      = errors.New("unsupported model")
	ErrInvalidFile           = errors.New("invalid file type")
	ErrFileTooLarge          = errors.New("file too large")
	ErrInvalidImageSignature = errors.New("file content does not match a supported image format")
	ErrReferencePhotoMissing = errors.New("reference photo missing for role")
	ErrBatchTooLarge         = errors.New("too many images requested")
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrFaceDetectionFailed = errors.New("face detection failed")

	ErrUploadFailed   = errors.New("upload failed")
	ErrProviderFailed = errors.New("provider failed")

	ErrUserNotFound      = errors.New("user not found")
	ErrJobNotFound       = errors.New("job not found")
	ErrJobClosed         = errors.New("job already closed")
	ErrTaskCountMismatch = errors.New("task count does not match total images")

	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrAlreadyApplied is returned when a ledger mutation for the same
	// user, reference and type has already been committed.
	ErrAlreadyApplied = errors.New("ledger mutation already applied")
)

// ValidationError names the field and value that failed a check.
type ValidationError struct {
	Kind  error
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("%s: %s=%q", e.Kind, e.Field, e.Value)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Field)
	}
	return e.Kind.Error()
}

func (e *ValidationError) Unwrap() error { return e.Kind }

type InsufficientCreditsError struct {
	Balance  int
	Required int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: balance %d, required %d", e.Balance, e.Required)
}

func (e *InsufficientCreditsError) Is(target error) bool { return target == ErrInsufficientCredits }

type FaceDetectionError struct {
	FaceCount int
	Message   string
}

func (e *FaceDetectionError) Error() string { return e.Message }

func (e *FaceDetectionError) Is(target error) bool { return target == ErrFaceDetectionFailed }

// GenerationError wraps an infrastructure failure that happened after credits
// moved. Stage is ErrUploadFailed or ErrProviderFailed.
type GenerationError struct {
	AttemptID string
	Stage     error
	Err       error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation %s: %v: %v", e.AttemptID, e.Stage, e.Err)
}

func (e *GenerationError) Is(target error) bool { return target == e.Stage }

func (e *GenerationError) Unwrap() error { return e.Err }
