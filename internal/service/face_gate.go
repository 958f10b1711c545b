package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/digkill/WeddingAI/internal/facedetect"
	"github.com/digkill/WeddingAI/internal/models"
)

const faceServiceUnavailable = "We could not check your photo for a face right now. Please try again."

// FaceGate runs face detection either as a hard precondition or as advice.
type FaceGate struct {
	detector FaceDetector
	bypass   bool
	log      zerolog.Logger
}

// NewFaceGate gates on detector. With a nil detector every required check
// fails.
func NewFaceGate(detector FaceDetector, log zerolog.Logger) *FaceGate {
	return &FaceGate{detector: detector, log: log}
}

// NewBypassFaceGate passes every required check without detection. It is
// meant for local development only.
func NewBypassFaceGate(log zerolog.Logger) *FaceGate {
	return &FaceGate{bypass: true, log: log}
}

// Require fails unless the image shows exactly one face.
func (g *FaceGate) Require(ctx context.Context, data []byte, contentType string) error {
	if g.bypass {
		return nil
	}
	if g.detector == nil {
		g.log.Error().Msg("face detector not configured")
		return &models.FaceDetectionError{Message: faceServiceUnavailable}
	}
	res, err := g.detector.Detect(ctx, data, contentType)
	if err != nil {
		g.log.Error().Err(err).Msg("face detection unavailable")
		return &models.FaceDetectionError{Message: faceServiceUnavailable}
	}
	if !res.Success {
		return &models.FaceDetectionError{FaceCount: res.FaceCount, Message: res.Error}
	}
	return nil
}

// Advise runs detection and returns its outcome without failing the caller.
// A nil result means detection could not run.
func (g *FaceGate) Advise(ctx context.Context, data []byte, contentType string) *facedetect.Result {
	if g.detector == nil {
		return nil
	}
	res, err := g.detector.Detect(ctx, data, contentType)
	if err != nil {
		g.log.Warn().Err(err).Msg("advisory face detection failed")
		return nil
	}
	return res
}
