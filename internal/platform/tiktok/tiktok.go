// Package tiktok uploads a video through the TikTok Open API as a
// single multipart POST.
package tiktok

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"castline/internal/platform"
	"castline/internal/status"
	logx "castline/pkg/logx"
)

const defaultEndpoint = "https://open.tiktokapis.com/v2/post/publish/"

type Config struct {
	AccessToken string
	// Endpoint overrides the API URL, mainly for tests.
	Endpoint string
	// RatePerMin caps outgoing publish calls. 0 disables limiting.
	RatePerMin int
}

type Uploader struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) *Uploader {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	var lim *rate.Limiter
	if cfg.RatePerMin > 0 {
		lim = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMin)/60.0), 1)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Uploader{
		cfg:     cfg,
		client:  &http.Client{Timeout: 5 * time.Minute},
		limiter: lim,
		log:     log,
	}
}

func (u *Uploader) Name() string { return "tiktok" }

func (u *Uploader) Upload(ctx context.Context, job platform.Job) (string, error) {
	token := job.Meta["access_token"]
	if token == "" {
		token = u.cfg.AccessToken
	}
	if token == "" {
		return "", platform.Precondf(platform.PrecondCredentials, "tiktok access token not provided")
	}
	videoPath := job.Meta[status.KeyVideoPath]
	if videoPath == "" {
		return "", platform.Precondf(platform.PrecondRequest, "no video file specified for tiktok upload")
	}

	f, err := os.Open(videoPath)
	if err != nil {
		return "", platform.Precondf(platform.PrecondAsset, "open video %s: %v", videoPath, err)
	}
	defer f.Close()

	body, contentType, err := buildMultipart(f, filepath.Base(videoPath), job.Meta[status.KeyCaption])
	if err != nil {
		return "", err
	}

	if u.limiter != nil {
		if err := u.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.Endpoint, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tiktok upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("tiktok upload: http %d: %s", resp.StatusCode, snippet)
	}

	var out struct {
		Data struct {
			PublishID string `json:"publish_id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("tiktok upload: decode response: %w", err)
	}
	u.log.Info("tiktok upload succeeded",
		logx.Int64("project_id", job.ProjectID),
		logx.Int64("entry_id", job.EntryID),
		logx.String("publish_id", out.Data.PublishID))
	return out.Data.PublishID, nil
}

// buildMultipart assembles the request in memory. Streaming via a pipe
// would save memory for very large files, but the Open API flow here
// mirrors a plain form upload and keeps error handling simple.
func buildMultipart(video io.Reader, filename, caption string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("caption", caption); err != nil {
		return nil, "", err
	}
	part, err := w.CreateFormFile("video", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, video); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
