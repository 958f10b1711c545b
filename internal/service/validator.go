package service

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"github.com/digkill/WeddingAI/internal/models"
)

// DefaultMaxUploadBytes is the upload ceiling when none is configured.
const DefaultMaxUploadBytes = 10 << 20

var allowedImageTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
}

// ImageInput is an uploaded file as received from the client.
type ImageInput struct {
	Data        []byte
	ContentType string
	Filename    string
}

type SingleRequest struct {
	Image   ImageInput
	Style   models.Style `validate:"required"`
	Role    models.Role  `validate:"required"`
	ModelID string
	AlbumID string
}

type BatchRequest struct {
	AlbumID     string
	Styles      []models.Style `validate:"required,min=1,dive,required"`
	Roles       []models.Role  `validate:"required,min=1,dive,required"`
	ModelID     string
	TotalImages int `validate:"required,min=1"`
}

type ReferenceRequest struct {
	Role  models.Role `validate:"required"`
	Image ImageInput
}

// RequestValidator rejects malformed requests before anything is spent. It
// has no side effects.
type RequestValidator struct {
	validate       *validator.Validate
	maxUploadBytes int64
	maxBatchImages int
}

func NewRequestValidator(maxUploadBytes int64, maxBatchImages int) *RequestValidator {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &RequestValidator{
		validate:       validator.New(),
		maxUploadBytes: maxUploadBytes,
		maxBatchImages: maxBatchImages,
	}
}

// ValidateSingle checks a single-shot request. COUPLE is accepted because a
// single upload may show both partners.
func (v *RequestValidator) ValidateSingle(req SingleRequest) (models.GenerationModel, error) {
	if len(req.Image.Data) == 0 {
		return models.GenerationModel{}, missing("image")
	}
	if err := v.shape(req); err != nil {
		return models.GenerationModel{}, err
	}
	if !req.Role.Valid(true) {
		return models.GenerationModel{}, invalid(models.ErrInvalidRole, "role", string(req.Role))
	}
	if !req.Style.Valid() {
		return models.GenerationModel{}, invalid(models.ErrInvalidStyle, "style", string(req.Style))
	}
	model, err := v.model(req.ModelID, req.Role == models.RoleCouple)
	if err != nil {
		return models.GenerationModel{}, err
	}
	if err := v.ValidateImage(req.Image); err != nil {
		return models.GenerationModel{}, err
	}
	return model, nil
}

// ValidateBatch checks a batch request. Roles name the reference photos to
// use; COUPLE is derived from two roles and cannot be requested directly.
func (v *RequestValidator) ValidateBatch(req BatchRequest) (models.GenerationModel, error) {
	if err := v.shape(req); err != nil {
		return models.GenerationModel{}, err
	}
	seen := make(map[models.Role]bool, len(req.Roles))
	for _, role := range req.Roles {
		if !role.Valid(false) || seen[role] {
			return models.GenerationModel{}, invalid(models.ErrInvalidRole, "roles", string(role))
		}
		seen[role] = true
	}
	for _, style := range req.Styles {
		if !style.Valid() {
			return models.GenerationModel{}, invalid(models.ErrInvalidStyle, "styles", string(style))
		}
	}
	if v.maxBatchImages > 0 && req.TotalImages > v.maxBatchImages {
		return models.GenerationModel{}, invalid(models.ErrBatchTooLarge, "totalImages", strconv.Itoa(req.TotalImages))
	}
	return v.model(req.ModelID, len(req.Roles) > 1)
}

func (v *RequestValidator) ValidateReference(req ReferenceRequest) error {
	if len(req.Image.Data) == 0 {
		return missing("image")
	}
	if err := v.shape(req); err != nil {
		return err
	}
	if !req.Role.Valid(false) {
		return invalid(models.ErrInvalidRole, "role", string(req.Role))
	}
	return v.ValidateImage(req.Image)
}

// ValidateImage checks the declared type, the size and the actual leading
// bytes of an upload, in that order.
func (v *RequestValidator) ValidateImage(img ImageInput) error {
	declared := normalizeContentType(img.ContentType)
	if _, ok := allowedImageTypes[declared]; !ok {
		return invalid(models.ErrInvalidFile, "image", img.ContentType)
	}
	if int64(len(img.Data)) > v.maxUploadBytes {
		return invalid(models.ErrFileTooLarge, "image", strconv.Itoa(len(img.Data)))
	}
	sniffed := mimetype.Detect(img.Data)
	if _, ok := allowedImageTypes[normalizeContentType(sniffed.String())]; !ok {
		return invalid(models.ErrInvalidImageSignature, "image", sniffed.String())
	}
	return nil
}

func (v *RequestValidator) model(id string, couple bool) (models.GenerationModel, error) {
	model, ok := models.LookupModel(id)
	if !ok {
		return models.GenerationModel{}, invalid(models.ErrUnsupportedModel, "model", id)
	}
	if couple && !model.SupportsMultiReference {
		return models.GenerationModel{}, invalid(models.ErrUnsupportedModel, "model", model.ID)
	}
	return model, nil
}

func (v *RequestValidator) shape(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return missing(lowerFirst(fieldErrs[0].Field()))
	}
	return err
}

func missing(field string) error {
	return &models.ValidationError{Kind: models.ErrMissingField, Field: field}
}

func invalid(kind error, field, value string) error {
	return &models.ValidationError{Kind: kind, Field: field, Value: value}
}

func normalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "image/jpg" {
		return "image/jpeg"
	}
	return ct
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
