package facedetect

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		count   int
		success bool
		message string
	}{
		{0, false, "No face detected"},
		{1, true, ""},
		{3, false, "Detected 3 faces"},
	}
	for _, tt := range tests {
		res := Evaluate(tt.count)
		assert.Equal(t, tt.success, res.Success)
		assert.Equal(t, tt.count, res.FaceCount)
		if tt.message == "" {
			assert.Empty(t, res.Error)
		} else {
			assert.Contains(t, res.Error, tt.message)
		}
	}
}

func TestClient_Detect(t *testing.T) {
	t.Run("reads faceCount", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
			file, header, err := r.FormFile("image")
			if assert.NoError(t, err) {
				defer file.Close()
				assert.Equal(t, "image/png", header.Header.Get("Content-Type"))
				data, _ := io.ReadAll(file)
				assert.Equal(t, "png-bytes", string(data))
			}
			_, _ = w.Write([]byte(`{"faceCount":1}`))
		}))
		defer srv.Close()

		res, err := NewClient(srv.URL, "k", time.Second, zerolog.New(io.Discard)).Detect(context.Background(), []byte("png-bytes"), "image/png")
		require.NoError(t, err)
		assert.True(t, res.Success)
	})

	t.Run("falls back to faces array", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"faces":[{},{}]}`))
		}))
		defer srv.Close()

		res, err := NewClient(srv.URL, "", time.Second, zerolog.New(io.Discard)).Detect(context.Background(), []byte("x"), "image/jpeg")
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, 2, res.FaceCount)
	})

	t.Run("service error is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := NewClient(srv.URL, "", time.Second, zerolog.New(io.Discard)).Detect(context.Background(), []byte("x"), "image/jpeg")
		assert.Error(t, err)
	})
}
