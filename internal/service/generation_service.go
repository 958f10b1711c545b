package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/digkill/WeddingAI/internal/kie"
	"github.com/digkill/WeddingAI/internal/models"
)

const defaultGenerationTimeout = 5 * time.Minute

type GenerationOptions struct {
	// Timeout bounds the work after credits moved. It is independent of the
	// caller's context so compensation always runs.
	Timeout time.Duration
}

// GenerationService runs single-shot generations: one uploaded photo, one
// credit, one record.
type GenerationService struct {
	log       zerolog.Logger
	validator *RequestValidator
	ledger    Ledger
	faces     *FaceGate
	assets    AssetStore
	provider  Generator
	records   GenerationStore
	mirror    *AssetMirror
	opts      GenerationOptions
}

type GenerationOutcome struct {
	Generation *models.Generation `json:"generation"`
	Balance    int                `json:"balance"`
}

func NewGenerationService(
	log zerolog.Logger,
	validator *RequestValidator,
	ledger Ledger,
	faces *FaceGate,
	assets AssetStore,
	provider Generator,
	records GenerationStore,
	mirror *AssetMirror,
	opts GenerationOptions,
) *GenerationService {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultGenerationTimeout
	}
	return &GenerationService{
		log:       log.With().Str("component", "generation").Logger(),
		validator: validator,
		ledger:    ledger,
		faces:     faces,
		assets:    assets,
		provider:  provider,
		records:   records,
		mirror:    mirror,
		opts:      opts,
	}
}

func (s *GenerationService) Generate(ctx context.Context, user *models.User, req SingleRequest) (*GenerationOutcome, error) {
	return s.run(ctx, user, req, nil)
}

// GenerateStream is Generate with progress events. The terminal event is
// emitted by the caller from the returned values.
func (s *GenerationService) GenerateStream(ctx context.Context, user *models.User, req SingleRequest, emit Emitter) (*GenerationOutcome, error) {
	return s.run(ctx, user, req, emit)
}

func (s *GenerationService) run(ctx context.Context, user *models.User, req SingleRequest, emit Emitter) (*GenerationOutcome, error) {
	model, err := s.validator.ValidateSingle(req)
	if err != nil {
		return nil, err
	}
	req.ModelID = model.ID

	status, err := s.ledger.CheckBalance(ctx, user.ID, user)
	if err != nil {
		return nil, fmt.Errorf("check balance: %w", err)
	}
	if !status.HasCredits {
		return nil, &models.InsufficientCreditsError{Balance: status.Balance, Required: 1}
	}

	if model.RequiresReferenceFace {
		emit.emit(Event{Type: EventStatus, Message: "checking face"})
		if err := s.faces.Require(ctx, req.Image.Data, req.Image.ContentType); err != nil {
			return nil, err
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("attempt id: %w", err)
	}
	attemptID := id.String()

	balance, err := s.ledger.Deduct(ctx, user.ID, 1, Reference{
		Type:        models.RefGeneration,
		ID:          attemptID,
		Description: fmt.Sprintf("%s generation, %s", req.Style, model.ID),
	})
	if err != nil {
		return nil, err
	}
	log := s.log.With().Str("attempt_id", attemptID).Str("user_id", user.ID).Logger()

	// Credits moved. From here on, the caller going away must not stop the
	// attempt from either finishing or being compensated.
	work, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Timeout)
	defer cancel()

	record := &models.Generation{
		ID:      attemptID,
		UserID:  user.ID,
		AlbumID: req.AlbumID,
		Style:   req.Style,
		Role:    req.Role,
		ModelID: model.ID,
	}

	emit.emit(Event{Type: EventStatus, Message: "uploading"})
	original, err := s.assets.Upload(work, req.Image.Data, req.Image.ContentType, "originals/"+user.ID)
	if err != nil {
		return nil, s.compensate(work, log, record, models.ErrUploadFailed, "upload failed", err)
	}
	record.OriginalURL = original.URL

	emit.emit(Event{Type: EventStatus, Message: "generating"})
	result, err := s.provider.GenerateStream(work, kie.Request{
		ImageURLs: []string{original.URL},
		Style:     req.Style,
		Role:      req.Role,
		ModelID:   model.ID,
		Count:     model.ImagesPerRequest,
	}, func(index int, url string) {
		emit.emit(Event{Type: EventImage, Index: index, URL: url})
	})
	if err != nil {
		return nil, s.compensate(work, log, record, models.ErrProviderFailed, "provider failed", err)
	}

	now := time.Now().UTC()
	record.GeneratedURLs = s.mirror.Mirror(work, user.ID, result.URLs)
	record.Status = models.GenerationCompleted
	record.CreditsUsed = 1
	record.Cost = result.Cost
	record.ProviderJobID = result.ProviderJobID
	record.CompletedAt = &now
	if err := s.records.Insert(work, record); err != nil {
		// The image exists and the credit is spent; the ledger row still
		// names this attempt.
		log.Error().Err(err).Msg("failed to persist completed generation")
	}

	log.Info().Str("model", model.ID).Str("style", string(req.Style)).Int("balance", balance).Msg("generation completed")
	return &GenerationOutcome{Generation: record, Balance: balance}, nil
}

// compensate returns the credit of a failed attempt and records the failure.
// Errors along the way are logged; the original cause is what the caller
// gets.
func (s *GenerationService) compensate(ctx context.Context, log zerolog.Logger, record *models.Generation, stage error, reason string, cause error) error {
	log.Error().Err(cause).Str("stage", reason).Msg("generation failed, refunding")

	if _, err := s.ledger.Refund(ctx, record.UserID, 1, Reference{
		Type:        models.RefGeneration,
		ID:          record.ID,
		Description: reason,
	}); err != nil && !errors.Is(err, models.ErrAlreadyApplied) {
		log.Error().Err(err).Msg("refund failed")
	}

	now := time.Now().UTC()
	record.Status = models.GenerationFailed
	record.CreditsUsed = 0
	record.ErrorMessage = fmt.Sprintf("%s: %v", reason, cause)
	record.CompletedAt = &now
	if err := s.records.Insert(ctx, record); err != nil {
		log.Error().Err(err).Msg("failed to persist failed generation")
	}

	return &models.GenerationError{AttemptID: record.ID, Stage: stage, Err: cause}
}

// History lists a user's generation records, newest first.
func (s *GenerationService) History(ctx context.Context, filter models.GenerationFilter) ([]models.Generation, error) {
	return s.records.List(ctx, filter)
}
