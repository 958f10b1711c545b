package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
)

const maxMirroredBytes = 32 << 20

// AssetMirror copies provider-hosted results into our own storage so gallery
// links outlive the provider's retention. A nil mirror leaves URLs as they
// are.
type AssetMirror struct {
	assets AssetStore
	client *http.Client
	log    zerolog.Logger
}

func NewAssetMirror(assets AssetStore, log zerolog.Logger) *AssetMirror {
	return &AssetMirror{
		assets: assets,
		client: &http.Client{Timeout: 60 * time.Second},
		log:    log.With().Str("component", "mirror").Logger(),
	}
}

// Mirror returns the stored URL for every source URL, falling back to the
// source URL when a copy fails.
func (m *AssetMirror) Mirror(ctx context.Context, userID string, urls []string) []string {
	if m == nil {
		return urls
	}
	out := make([]string, len(urls))
	for i, src := range urls {
		stored, err := m.copy(ctx, userID, src)
		if err != nil {
			m.log.Warn().Err(err).Str("url", src).Msg("mirror failed, keeping provider url")
			out[i] = src
			continue
		}
		out[i] = stored
	}
	return out
}

func (m *AssetMirror) copy(ctx context.Context, userID, src string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("download: status=%d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMirroredBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	obj, err := m.assets.Upload(ctx, data, mimetype.Detect(data).String(), "generated/"+userID)
	if err != nil {
		return "", err
	}
	return obj.URL, nil
}
