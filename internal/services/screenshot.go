package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lotsentry/lotsentry-backend/internal/logger"
	"github.com/lotsentry/lotsentry-backend/internal/utils"
)

// ScreenshotService captures a full-page render of a URL via the external
// capture collaborator and returns a durable image reference for the visual
// tier. Capture mechanics (browser pool, viewport, waits) live behind the
// collaborator endpoint.
type ScreenshotService interface {
	Capture(ctx context.Context, url string) (string, error)
}

type screenshotService struct {
	log        *logger.Logger
	httpClient *http.Client
	apiURL     string
	bucket     BucketService
}

func NewScreenshotService(log *logger.Logger, bucket BucketService) (ScreenshotService, error) {
	serviceLog := log.With("service", "ScreenshotService")
	apiURL := utils.GetEnv("SCREENSHOT_API_URL", "", log)
	if apiURL == "" {
		return nil, fmt.Errorf("missing env var SCREENSHOT_API_URL")
	}
	timeoutSec := utils.GetEnvAsInt("SCREENSHOT_TIMEOUT_SECONDS", 60, log)
	return &screenshotService{
		log:        serviceLog,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		apiURL:     apiURL,
		bucket:     bucket,
	}, nil
}

type captureRequest struct {
	URL      string `json:"url"`
	FullPage bool   `json:"full_page"`
}

func (s *screenshotService) Capture(ctx context.Context, url string) (string, error) {
	body, err := json.Marshal(captureRequest{URL: url, FullPage: true})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("Failed to build capture request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("Failed to capture screenshot for %q: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("screenshot capture for %q returned status %d: %s", url, resp.StatusCode, string(raw))
	}

	png, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("Failed to read screenshot body: %w", err)
	}

	key := screenshotKey(url)
	if err := s.bucket.UploadObject(ctx, key, "image/png", bytes.NewReader(png)); err != nil {
		return "", err
	}

	ref := s.bucket.PublicURL(key)
	s.log.Info("Screenshot captured", "url", url, "ref", ref, "bytes", len(png))
	return ref, nil
}

func screenshotKey(url string) string {
	slug := strings.TrimPrefix(strings.TrimPrefix(url, "https://"), "http://")
	slug = strings.ReplaceAll(slug, "/", "_")
	if len(slug) > 80 {
		slug = slug[:80]
	}
	return fmt.Sprintf("screenshots/%s_%s_%s.png", slug, time.Now().UTC().Format("20060102_150405"), uuid.NewString()[:8])
}
