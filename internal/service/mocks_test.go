package service

import (
	"context"
	"io"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"

	"github.com/digkill/WeddingAI/internal/facedetect"
	"github.com/digkill/WeddingAI/internal/kie"
	"github.com/digkill/WeddingAI/internal/storage"
)

// pngBytes starts with the PNG signature, which is all content sniffing
// looks at.
var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

var testLog = zerolog.New(io.Discard)

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, req kie.Request) (*kie.Result, error) {
	return m.GenerateStream(ctx, req, nil)
}

func (m *MockGenerator) GenerateStream(ctx context.Context, req kie.Request, onImage func(int, string)) (*kie.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	res := args.Get(0).(*kie.Result)
	if onImage != nil {
		for i, u := range res.URLs {
			onImage(i, u)
		}
	}
	return res, args.Error(1)
}

type MockAssets struct {
	mock.Mock
}

func (m *MockAssets) Upload(ctx context.Context, data []byte, contentType, prefix string) (*storage.Object, error) {
	args := m.Called(ctx, data, contentType, prefix)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Object), args.Error(1)
}

func (m *MockAssets) Delete(ctx context.Context, keys []string) (int, error) {
	args := m.Called(ctx, keys)
	return args.Int(0), args.Error(1)
}

type MockDetector struct {
	mock.Mock
}

func (m *MockDetector) Detect(ctx context.Context, data []byte, contentType string) (*facedetect.Result, error) {
	args := m.Called(ctx, data, contentType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*facedetect.Result), args.Error(1)
}
