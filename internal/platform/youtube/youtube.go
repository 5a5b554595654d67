// Package youtube uploads a video through the YouTube Data API:
// resumable insert, then an optional thumbnail set.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"os"

	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"castline/internal/creds"
	"castline/internal/platform"
	"castline/internal/status"
	logx "castline/pkg/logx"
)

type Uploader struct {
	provider creds.Provider
	log      logx.Logger

	// opts are appended to the service client options, mainly for tests
	// (endpoint override, HTTP client injection).
	opts []option.ClientOption
}

func New(provider creds.Provider, log logx.Logger, opts ...option.ClientOption) *Uploader {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Uploader{provider: provider, log: log, opts: opts}
}

func (u *Uploader) Name() string { return "youtube" }

func (u *Uploader) Upload(ctx context.Context, job platform.Job) (string, error) {
	ts, err := u.provider.TokenSource(ctx)
	if err != nil {
		if errors.Is(err, creds.ErrNoCredentials) {
			return "", platform.Precondf(platform.PrecondCredentials, "google credentials are not available")
		}
		return "", err
	}

	videoPath := job.Meta[status.KeyVideoPath]
	if videoPath == "" {
		return "", platform.Precondf(platform.PrecondRequest, "no video file specified for youtube upload")
	}
	f, err := os.Open(videoPath)
	if err != nil {
		return "", platform.Precondf(platform.PrecondAsset, "open video %s: %v", videoPath, err)
	}
	defer f.Close()

	svc, err := yt.NewService(ctx, append([]option.ClientOption{option.WithTokenSource(ts)}, u.opts...)...)
	if err != nil {
		return "", fmt.Errorf("youtube service: %w", err)
	}

	title := job.Meta[status.KeyTitle]
	if title == "" {
		title = job.Meta[status.KeyCaption]
	}
	video := &yt.Video{
		Snippet: &yt.VideoSnippet{
			Title:       title,
			Description: job.Meta[status.KeyDescription],
		},
		Status: &yt.VideoStatus{PrivacyStatus: "private"},
	}

	resp, err := svc.Videos.Insert([]string{"snippet", "status"}, video).Media(f).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("youtube insert: %w", err)
	}

	if thumb := job.Meta[status.KeyThumbnailPath]; thumb != "" {
		tf, err := os.Open(thumb)
		if err != nil {
			// The video is already up; a missing thumbnail is logged, not fatal.
			u.log.Warn("thumbnail skipped", logx.Int64("entry_id", job.EntryID), logx.Err(err))
		} else {
			_, err = svc.Thumbnails.Set(resp.Id).Media(tf).Context(ctx).Do()
			tf.Close()
			if err != nil {
				u.log.Warn("thumbnail set failed", logx.Int64("entry_id", job.EntryID), logx.Err(err))
			}
		}
	}

	u.log.Info("youtube upload succeeded",
		logx.Int64("project_id", job.ProjectID),
		logx.Int64("entry_id", job.EntryID),
		logx.String("video_id", resp.Id))
	return resp.Id, nil
}
