package service

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/WeddingAI/internal/models"
)

func validSingle() SingleRequest {
	return SingleRequest{
		Image: ImageInput{Data: pngBytes, ContentType: "image/png", Filename: "me.png"},
		Style: models.StyleClassic,
		Role:  models.RoleBride,
	}
}

func TestRequestValidator_ValidateSingle(t *testing.T) {
	v := NewRequestValidator(0, 20)

	tests := []struct {
		name   string
		mutate func(*SingleRequest)
		want   error
	}{
		{"missing image", func(r *SingleRequest) { r.Image.Data = nil }, models.ErrMissingField},
		{"missing style", func(r *SingleRequest) { r.Style = "" }, models.ErrMissingField},
		{"missing role", func(r *SingleRequest) { r.Role = "" }, models.ErrMissingField},
		{"unknown role", func(r *SingleRequest) { r.Role = "GUEST" }, models.ErrInvalidRole},
		{"unknown style", func(r *SingleRequest) { r.Style = "GOTHIC" }, models.ErrInvalidStyle},
		{"role checked before style", func(r *SingleRequest) { r.Role = "GUEST"; r.Style = "GOTHIC" }, models.ErrInvalidRole},
		{"unknown model", func(r *SingleRequest) { r.ModelID = "dall-e" }, models.ErrUnsupportedModel},
		{"couple on single reference model", func(r *SingleRequest) { r.Role = models.RoleCouple; r.ModelID = models.ModelFlux2 }, models.ErrUnsupportedModel},
		{"gif declared", func(r *SingleRequest) { r.Image.ContentType = "image/gif" }, models.ErrInvalidFile},
		{"text pretending to be png", func(r *SingleRequest) { r.Image.Data = []byte("hello, not an image at all") }, models.ErrInvalidImageSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validSingle()
			tt.mutate(&req)
			_, err := v.ValidateSingle(req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("valid request resolves the default model", func(t *testing.T) {
		model, err := v.ValidateSingle(validSingle())
		require.NoError(t, err)
		assert.Equal(t, models.DefaultModelID, model.ID)
	})

	t.Run("couple allowed on multi reference model", func(t *testing.T) {
		req := validSingle()
		req.Role = models.RoleCouple
		_, err := v.ValidateSingle(req)
		assert.NoError(t, err)
	})
}

func TestRequestValidator_ValidateImage(t *testing.T) {
	v := NewRequestValidator(64, 0)

	t.Run("size checked before signature", func(t *testing.T) {
		err := v.ValidateImage(ImageInput{Data: bytes.Repeat([]byte("x"), 65), ContentType: "image/jpeg"})
		assert.ErrorIs(t, err, models.ErrFileTooLarge)
	})

	t.Run("jpg alias and parameters accepted", func(t *testing.T) {
		jpeg := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, make([]byte, 16)...)
		assert.NoError(t, v.ValidateImage(ImageInput{Data: jpeg, ContentType: "image/jpg; charset=binary"}))
	})

	t.Run("declared png but jpeg content still passes", func(t *testing.T) {
		jpeg := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, make([]byte, 16)...)
		assert.NoError(t, v.ValidateImage(ImageInput{Data: jpeg, ContentType: "image/png"}))
	})

	t.Run("default limit is ten megabytes", func(t *testing.T) {
		d := NewRequestValidator(0, 0)
		big := append(append([]byte(nil), pngBytes...), make([]byte, DefaultMaxUploadBytes)...)
		assert.ErrorIs(t, d.ValidateImage(ImageInput{Data: big, ContentType: "image/png"}), models.ErrFileTooLarge)
	})
}

func TestRequestValidator_ValidateBatch(t *testing.T) {
	v := NewRequestValidator(0, 10)
	base := func() BatchRequest {
		return BatchRequest{
			Styles:      []models.Style{models.StyleClassic, models.StyleModern},
			Roles:       []models.Role{models.RoleBride},
			TotalImages: 4,
		}
	}

	_, err := v.ValidateBatch(base())
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*BatchRequest)
		want   error
	}{
		{"no styles", func(r *BatchRequest) { r.Styles = nil }, models.ErrMissingField},
		{"no roles", func(r *BatchRequest) { r.Roles = nil }, models.ErrMissingField},
		{"zero images", func(r *BatchRequest) { r.TotalImages = 0 }, models.ErrMissingField},
		{"couple requested directly", func(r *BatchRequest) { r.Roles = []models.Role{models.RoleCouple} }, models.ErrInvalidRole},
		{"duplicate role", func(r *BatchRequest) { r.Roles = []models.Role{models.RoleBride, models.RoleBride} }, models.ErrInvalidRole},
		{"unknown style", func(r *BatchRequest) { r.Styles = []models.Style{"GOTHIC"} }, models.ErrInvalidStyle},
		{"over the batch limit", func(r *BatchRequest) { r.TotalImages = 11 }, models.ErrBatchTooLarge},
		{"two roles on single reference model", func(r *BatchRequest) {
			r.Roles = []models.Role{models.RoleBride, models.RoleGroom}
			r.ModelID = models.ModelFlux2
		}, models.ErrUnsupportedModel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base()
			tt.mutate(&req)
			_, err := v.ValidateBatch(req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRequestValidator_ValidateReference(t *testing.T) {
	v := NewRequestValidator(0, 0)

	assert.NoError(t, v.ValidateReference(ReferenceRequest{Role: models.RoleGroom, Image: ImageInput{Data: pngBytes, ContentType: "image/png"}}))
	assert.ErrorIs(t, v.ValidateReference(ReferenceRequest{Role: models.RoleCouple, Image: ImageInput{Data: pngBytes, ContentType: "image/png"}}), models.ErrInvalidRole)
	assert.ErrorIs(t, v.ValidateReference(ReferenceRequest{Role: models.RoleGroom}), models.ErrMissingField)
}
