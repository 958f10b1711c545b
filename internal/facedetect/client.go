// Package facedetect talks to the face detection service used to gate
// generation on models that need exactly one recognizable face.
package facedetect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/rs/zerolog"
)

// Result is the outcome of a detection. Success is true only for exactly
// one face; Error then carries a message fit for the end user.
type Result struct {
	Success   bool   `json:"success"`
	FaceCount int    `json:"faceCount"`
	Error     string `json:"error,omitempty"`
}

type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewClient(url, apiKey string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("component", "facedetect").Logger(),
	}
}

// Evaluate turns a raw face count into a Result.
func Evaluate(faceCount int) *Result {
	switch {
	case faceCount == 1:
		return &Result{Success: true, FaceCount: 1}
	case faceCount <= 0:
		return &Result{FaceCount: 0, Error: "No face detected in the photo. Please upload a clear photo showing one face."}
	default:
		return &Result{FaceCount: faceCount, Error: fmt.Sprintf("Detected %d faces in the photo. Please upload a photo with exactly one person.", faceCount)}
	}
}

// Detect uploads the image and returns the evaluated count. A transport or
// service error is returned as err; a wrong count is not an error.
func (c *Client) Detect(ctx context.Context, data []byte, contentType string) (*Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="image"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post face detection: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		c.log.Error().Int("status", resp.StatusCode).Bytes("body", raw).Msg("face detection failed")
		return nil, fmt.Errorf("face detection error: status=%d", resp.StatusCode)
	}

	var decoded struct {
		FaceCount *int       `json:"faceCount"`
		Faces     []struct{} `json:"faces"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode face detection response: %w", err)
	}
	count := len(decoded.Faces)
	if decoded.FaceCount != nil {
		count = *decoded.FaceCount
	}
	c.log.Debug().Int("face_count", count).Msg("face detection done")
	return Evaluate(count), nil
}
