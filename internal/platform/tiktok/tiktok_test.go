package tiktok

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"castline/internal/platform"
	"castline/internal/status"
	logx "castline/pkg/logx"
)

func writeVideo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("fake video bytes"), 0o644); err != nil {
		t.Fatalf("write video: %v", err)
	}
	return path
}

func TestUpload(t *testing.T) {
	t.Parallel()
	var gotAuth, gotCaption string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotCaption = r.FormValue("caption")
		if _, _, err := r.FormFile("video"); err != nil {
			t.Errorf("video part: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"publish_id":"pub-42"}}`))
	}))
	defer srv.Close()

	u := New(Config{AccessToken: "secret", Endpoint: srv.URL}, logx.Nop())
	id, err := u.Upload(context.Background(), platform.Job{
		ProjectID: 1,
		EntryID:   2,
		Meta: map[string]string{
			status.KeyVideoPath: writeVideo(t),
			status.KeyCaption:   "first short",
		},
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if id != "pub-42" {
		t.Fatalf("id = %q", id)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotCaption != "first short" {
		t.Fatalf("caption = %q", gotCaption)
	}
}

func TestUploadMetadataTokenWins(t *testing.T) {
	t.Parallel()
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"data":{"publish_id":"x"}}`))
	}))
	defer srv.Close()

	u := New(Config{AccessToken: "config-token", Endpoint: srv.URL}, logx.Nop())
	_, err := u.Upload(context.Background(), platform.Job{
		Meta: map[string]string{
			status.KeyVideoPath: writeVideo(t),
			"access_token":      "entry-token",
		},
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if gotAuth != "Bearer entry-token" {
		t.Fatalf("auth header = %q, want entry token", gotAuth)
	}
}

func TestUploadPreconditions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		meta map[string]string
		kind platform.PrecondKind
	}{
		{
			name: "missing token",
			cfg:  Config{},
			meta: map[string]string{status.KeyVideoPath: "/tmp/x.mp4"},
			kind: platform.PrecondCredentials,
		},
		{
			name: "missing video path",
			cfg:  Config{AccessToken: "t"},
			meta: map[string]string{},
			kind: platform.PrecondRequest,
		},
		{
			name: "unreadable video",
			cfg:  Config{AccessToken: "t"},
			meta: map[string]string{status.KeyVideoPath: "/does/not/exist.mp4"},
			kind: platform.PrecondAsset,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			u := New(tt.cfg, logx.Nop())
			_, err := u.Upload(context.Background(), platform.Job{Meta: tt.meta})
			var pe *platform.PrecondError
			if !errors.As(err, &pe) {
				t.Fatalf("err = %v, want PrecondError", err)
			}
			if pe.Kind != tt.kind {
				t.Fatalf("kind = %v, want %v", pe.Kind, tt.kind)
			}
		})
	}
}

func TestUploadServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	u := New(Config{AccessToken: "t", Endpoint: srv.URL}, logx.Nop())
	_, err := u.Upload(context.Background(), platform.Job{
		Meta: map[string]string{status.KeyVideoPath: writeVideo(t)},
	})
	if err == nil {
		t.Fatal("expected error for http 429")
	}
	var pe *platform.PrecondError
	if errors.As(err, &pe) {
		t.Fatalf("transient server error must not be a precondition failure: %v", err)
	}
}
