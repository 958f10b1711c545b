package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/digkill/WeddingAI/internal/config"
	"github.com/digkill/WeddingAI/internal/models"
)

var (
	ErrTaskFailed  = errors.New("kie task failed")
	ErrTaskTimeout = errors.New("kie task timed out")
)

// Client drives the KIE asynchronous job API: create a task, then poll its
// record until it succeeds or fails.
type Client struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	limiter      *rate.Limiter
	pollAttempts int
	pollInterval time.Duration
	costPerImage decimal.Decimal
	log          zerolog.Logger
}

type Request struct {
	ImageURLs []string
	Style     models.Style
	Role      models.Role
	ModelID   string
	// Count is the number of images to produce. Zero means one.
	Count int
}

type Result struct {
	URLs          []string
	ProviderJobID string
	Cost          decimal.Decimal
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	attempts := cfg.KIEPollAttempts
	if attempts <= 0 {
		attempts = 60
	}
	interval := cfg.KIEPollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	cost, err := decimal.NewFromString(cfg.ProviderCostPerImage)
	if err != nil {
		cost = decimal.Zero
	}
	limit := rate.Inf
	if cfg.ProviderRatePerSecond > 0 {
		limit = rate.Limit(cfg.ProviderRatePerSecond)
	}

	return &Client{
		apiKey:       cfg.KIEAPIKey,
		baseURL:      strings.TrimRight(cfg.KIEBaseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		limiter:      rate.NewLimiter(limit, 1),
		pollAttempts: attempts,
		pollInterval: interval,
		costPerImage: cost,
		log:          log.With().Str("component", "kie").Logger(),
	}
}

func (c *Client) Generate(ctx context.Context, req Request) (*Result, error) {
	return c.GenerateStream(ctx, req, nil)
}

// GenerateStream behaves like Generate and additionally calls onImage for
// each result URL as soon as its task succeeds. URLs of a task that is still
// running or that fails are never reported.
func (c *Client) GenerateStream(ctx context.Context, req Request, onImage func(index int, url string)) (*Result, error) {
	model, ok := models.LookupModel(req.ModelID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedModel, req.ModelID)
	}
	if len(req.ImageURLs) == 0 {
		return nil, fmt.Errorf("kie: no input images")
	}
	count := req.Count
	if count <= 0 {
		count = 1
	}

	result := &Result{Cost: decimal.Zero}
	var taskIDs []string
	for len(result.URLs) < count {
		taskID, err := c.createTask(ctx, c.payload(model, req))
		if err != nil {
			return nil, fmt.Errorf("create task: %w", err)
		}
		taskIDs = append(taskIDs, taskID)

		record, err := c.pollTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		for _, u := range record.urls {
			if len(result.URLs) == count {
				break
			}
			if onImage != nil {
				onImage(len(result.URLs), u)
			}
			result.URLs = append(result.URLs, u)
		}
		if record.cost != nil {
			result.Cost = result.Cost.Add(*record.cost)
		} else {
			result.Cost = result.Cost.Add(c.costPerImage.Mul(decimal.NewFromInt(int64(len(record.urls)))))
		}
	}
	result.ProviderJobID = strings.Join(taskIDs, ",")
	return result, nil
}

func (c *Client) payload(model models.GenerationModel, req Request) map[string]any {
	input := map[string]any{
		"prompt":       BuildPrompt(req.Style, req.Role),
		"aspect_ratio": "3:4",
		"resolution":   "2K",
	}
	switch model.ID {
	case models.ModelFlux2:
		input["input_urls"] = req.ImageURLs[:1]
	default:
		input["image_input"] = req.ImageURLs
		input["output_format"] = "png"
	}
	return map[string]any{
		"model": model.ProviderModel,
		"input": input,
	}
}

func (c *Client) endpoint(path string, query url.Values) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	ref.RawQuery = query.Encode()
	return base.ResolveReference(ref).String(), nil
}

func (c *Client) do(ctx context.Context, method, fullURL string, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s kie: %w", strings.ToLower(method), err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		c.log.Error().Int("status", resp.StatusCode).Str("url", fullURL).Str("body", truncateBody(rawBody)).Msg("kie request failed")
		return fmt.Errorf("kie error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}
	if err := json.Unmarshal(rawBody, out); err != nil {
		return fmt.Errorf("decode kie response: %w (body=%s)", err, truncateBody(rawBody))
	}
	return nil
}

func (c *Client) createTask(ctx context.Context, payload map[string]any) (string, error) {
	fullURL, err := c.endpoint("/api/v1/jobs/createTask", nil)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	var resp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, fullURL, body, &resp); err != nil {
		return "", err
	}
	if resp.Code != 200 {
		return "", fmt.Errorf("create task failed: code=%d msg=%s", resp.Code, resp.Msg)
	}
	if resp.Data.TaskID == "" {
		return "", fmt.Errorf("empty taskId in response")
	}
	c.log.Info().Str("task_id", resp.Data.TaskID).Interface("model", payload["model"]).Msg("kie task created")
	return resp.Data.TaskID, nil
}

type taskRecord struct {
	urls []string
	cost *decimal.Decimal
}

type recordInfo struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		TaskID     string           `json:"taskId"`
		State      string           `json:"state"`
		ResultJSON string           `json:"resultJson"`
		FailCode   string           `json:"failCode"`
		FailMsg    string           `json:"failMsg"`
		CostUSD    *decimal.Decimal `json:"costUsd"`
	} `json:"data"`
}

func (c *Client) pollTask(ctx context.Context, taskID string) (*taskRecord, error) {
	fullURL, err := c.endpoint("/api/v1/jobs/recordInfo", url.Values{"taskId": {taskID}})
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		var info recordInfo
		if err := c.do(ctx, http.MethodGet, fullURL, nil, &info); err != nil {
			return nil, fmt.Errorf("get task status: %w", err)
		}
		if info.Code != 200 {
			return nil, fmt.Errorf("get task status failed: code=%d msg=%s", info.Code, info.Msg)
		}

		switch info.Data.State {
		case "success":
			urls, err := parseResultURLs(info.Data.ResultJSON)
			if err != nil {
				return nil, err
			}
			if len(urls) == 0 {
				return nil, fmt.Errorf("no resultUrls in result")
			}
			c.log.Info().Str("task_id", taskID).Int("attempt", attempt+1).Msg("kie task completed")
			return &taskRecord{urls: urls, cost: info.Data.CostUSD}, nil
		case "fail":
			msg := info.Data.FailMsg
			if msg == "" {
				msg = "unknown error"
			}
			c.log.Error().Str("task_id", taskID).Str("fail_code", info.Data.FailCode).Str("fail_msg", msg).Msg("kie task failed")
			return nil, fmt.Errorf("%w: %s (code: %s)", ErrTaskFailed, msg, info.Data.FailCode)
		case "waiting", "generating", "processing", "queued", "queueing":
			if attempt%10 == 0 {
				c.log.Debug().Str("task_id", taskID).Int("attempt", attempt+1).Int("max_attempts", c.pollAttempts).Msg("kie task waiting")
			}
		default:
			return nil, fmt.Errorf("unknown task state: %s", info.Data.State)
		}

		if attempt < c.pollAttempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.pollInterval):
			}
		}
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrTaskTimeout, c.pollAttempts)
}

func parseResultURLs(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var result struct {
		ResultURLs []string `json:"resultUrls"`
	}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("parse resultJson: %w", err)
	}
	return result.ResultURLs, nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
