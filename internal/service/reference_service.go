package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/digkill/WeddingAI/internal/models"
)

// ReferenceService manages the per-role reference photos batch jobs
// generate from.
type ReferenceService struct {
	log       zerolog.Logger
	validator *RequestValidator
	faces     *FaceGate
	assets    AssetStore
	photos    ReferencePhotoStore
}

type ReferenceUpload struct {
	Photo *models.ReferencePhoto `json:"photo"`
	// Warning is set when the photo is stored but face detection was not
	// satisfied. It is advice, not an error.
	Warning string `json:"warning,omitempty"`
}

func NewReferenceService(log zerolog.Logger, validator *RequestValidator, faces *FaceGate, assets AssetStore, photos ReferencePhotoStore) *ReferenceService {
	return &ReferenceService{
		log:       log.With().Str("component", "reference").Logger(),
		validator: validator,
		faces:     faces,
		assets:    assets,
		photos:    photos,
	}
}

// Upload stores a new reference photo and makes it the active one for its
// role, replacing any previous active photo.
func (s *ReferenceService) Upload(ctx context.Context, userID string, req ReferenceRequest) (*ReferenceUpload, error) {
	if err := s.validator.ValidateReference(req); err != nil {
		return nil, err
	}

	advice := s.faces.Advise(ctx, req.Image.Data, req.Image.ContentType)

	obj, err := s.assets.Upload(ctx, req.Image.Data, req.Image.ContentType, "references/"+userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUploadFailed, err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("reference id: %w", err)
	}
	photo := &models.ReferencePhoto{
		ID:          id.String(),
		UserID:      userID,
		Role:        req.Role,
		OriginalURL: obj.URL,
		StorageKey:  obj.Key,
	}
	out := &ReferenceUpload{Photo: photo}
	if advice != nil {
		photo.FaceDetected = advice.Success
		photo.FaceCount = advice.FaceCount
		out.Warning = advice.Error
	}

	if err := s.photos.Activate(ctx, photo); err != nil {
		if _, delErr := s.assets.Delete(context.WithoutCancel(ctx), []string{obj.Key}); delErr != nil {
			s.log.Warn().Err(delErr).Str("key", obj.Key).Msg("failed to remove orphaned reference upload")
		}
		return nil, fmt.Errorf("activate reference photo: %w", err)
	}

	s.log.Info().Str("user_id", userID).Str("role", string(req.Role)).Bool("face_detected", photo.FaceDetected).Msg("reference photo activated")
	return out, nil
}

func (s *ReferenceService) ListActive(ctx context.Context, userID string) ([]models.ReferencePhoto, error) {
	return s.photos.ListActive(ctx, userID)
}

// Resolve returns the active photo for every role, failing on the first
// role that has none.
func (s *ReferenceService) Resolve(ctx context.Context, userID string, roles []models.Role) (map[models.Role]models.ReferencePhoto, error) {
	out := make(map[models.Role]models.ReferencePhoto, len(roles))
	for _, role := range roles {
		photo, err := s.photos.FindActive(ctx, userID, role)
		if err != nil {
			return nil, fmt.Errorf("find reference photo: %w", err)
		}
		if photo == nil {
			return nil, &models.ValidationError{Kind: models.ErrReferencePhotoMissing, Field: "roles", Value: string(role)}
		}
		out[role] = *photo
	}
	return out, nil
}
