// Package instagram uploads a video through the Graph API two-step
// flow: create a media container, then publish it.
package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"castline/internal/platform"
	"castline/internal/status"
	logx "castline/pkg/logx"
)

const defaultBaseURL = "https://graph.facebook.com/v17.0"

type Config struct {
	AccessToken string
	UserID      string
	// BaseURL overrides the Graph API root, mainly for tests.
	BaseURL string
	// RatePerMin caps outgoing Graph calls. 0 disables limiting.
	RatePerMin int
}

type Uploader struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) *Uploader {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
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

func (u *Uploader) Name() string { return "instagram" }

func (u *Uploader) Upload(ctx context.Context, job platform.Job) (string, error) {
	token := job.Meta["access_token"]
	if token == "" {
		token = u.cfg.AccessToken
	}
	userID := job.Meta["ig_user_id"]
	if userID == "" {
		userID = u.cfg.UserID
	}
	if token == "" || userID == "" {
		return "", platform.Precondf(platform.PrecondCredentials, "missing instagram credentials")
	}
	videoPath := job.Meta[status.KeyVideoPath]
	if videoPath == "" {
		return "", platform.Precondf(platform.PrecondRequest, "no video file specified for instagram upload")
	}

	creationID, err := u.createContainer(ctx, userID, token, videoPath, job.Meta)
	if err != nil {
		return "", err
	}
	mediaID, err := u.publish(ctx, userID, token, creationID)
	if err != nil {
		return "", err
	}

	u.log.Info("instagram upload succeeded",
		logx.Int64("project_id", job.ProjectID),
		logx.Int64("entry_id", job.EntryID),
		logx.String("media_id", mediaID))
	return mediaID, nil
}

func (u *Uploader) createContainer(ctx context.Context, userID, token, videoPath string, meta map[string]string) (string, error) {
	video, err := os.Open(videoPath)
	if err != nil {
		return "", platform.Precondf(platform.PrecondAsset, "open video %s: %v", videoPath, err)
	}
	defer video.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("caption", meta[status.KeyCaption]); err != nil {
		return "", err
	}
	if err := w.WriteField("access_token", token); err != nil {
		return "", err
	}
	part, err := w.CreateFormFile("video_file", filepath.Base(videoPath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, video); err != nil {
		return "", err
	}
	if thumb := meta[status.KeyThumbnailPath]; thumb != "" {
		tf, err := os.Open(thumb)
		if err != nil {
			return "", platform.Precondf(platform.PrecondAsset, "open thumbnail %s: %v", thumb, err)
		}
		cover, err := w.CreateFormFile("cover_photo", filepath.Base(thumb))
		if err == nil {
			_, err = io.Copy(cover, tf)
		}
		tf.Close()
		if err != nil {
			return "", err
		}
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	id, err := u.post(ctx, u.cfg.BaseURL+"/"+userID+"/media", &buf, w.FormDataContentType())
	if err != nil {
		return "", fmt.Errorf("instagram create container: %w", err)
	}
	return id, nil
}

func (u *Uploader) publish(ctx context.Context, userID, token, creationID string) (string, error) {
	form := url.Values{}
	form.Set("creation_id", creationID)
	form.Set("access_token", token)

	id, err := u.post(ctx, u.cfg.BaseURL+"/"+userID+"/media_publish",
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return "", fmt.Errorf("instagram publish: %w", err)
	}
	return id, nil
}

func (u *Uploader) post(ctx context.Context, endpoint string, body io.Reader, contentType string) (string, error) {
	if u.limiter != nil {
		if err := u.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := u.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("http %d: %s", resp.StatusCode, snippet)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.ID, nil
}
