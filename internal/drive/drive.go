// Package drive resolves remote project folders and materializes
// their assets locally before validation and dispatch.
package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"castline/internal/creds"
	logx "castline/pkg/logx"
)

const folderMIMEType = "application/vnd.google-apps.folder"

// ErrNotFound reports that a path or folder does not exist remotely.
var ErrNotFound = errors.New("drive folder not found")

type Folder struct {
	ID   string
	Name string
}

type Client struct {
	svc *gdrive.Service
	log logx.Logger
}

func New(ctx context.Context, provider creds.Provider, log logx.Logger, opts ...option.ClientOption) (*Client, error) {
	ts, err := provider.TokenSource(ctx)
	if err != nil {
		return nil, err
	}
	svc, err := gdrive.NewService(ctx, append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("drive service: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{svc: svc, log: log}, nil
}

// ResolvePath walks a '/'-separated path from the drive root and
// returns the folder id it names, or ErrNotFound.
func (c *Client) ResolvePath(ctx context.Context, path string) (string, error) {
	folderID := "root"
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part == "" {
			continue
		}
		id, err := c.findChildFolder(ctx, folderID, part)
		if err != nil {
			return "", err
		}
		if id == "" {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		folderID = id
	}
	return folderID, nil
}

// ListChildFolders enumerates the direct child folders of folderID.
func (c *Client) ListChildFolders(ctx context.Context, folderID string) ([]Folder, error) {
	query := fmt.Sprintf("'%s' in parents and mimeType='%s' and trashed=false", folderID, folderMIMEType)

	var out []Folder
	call := c.svc.Files.List().Q(query).Spaces("drive").Fields("nextPageToken, files(id, name)")
	err := call.Pages(ctx, func(page *gdrive.FileList) error {
		for _, f := range page.Files {
			out = append(out, Folder{ID: f.Id, Name: f.Name})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DownloadFolder mirrors the whole remote folder into dest,
// recursively.
func (c *Client) DownloadFolder(ctx context.Context, folderID, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	query := fmt.Sprintf("'%s' in parents and trashed=false", folderID)
	call := c.svc.Files.List().Q(query).Spaces("drive").Fields("nextPageToken, files(id, name, mimeType)")
	return call.Pages(ctx, func(page *gdrive.FileList) error {
		for _, f := range page.Files {
			target := filepath.Join(dest, f.Name)
			if f.MimeType == folderMIMEType {
				if err := c.DownloadFolder(ctx, f.Id, target); err != nil {
					return err
				}
				continue
			}
			if err := c.downloadFile(ctx, f.Id, target); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Client) findChildFolder(ctx context.Context, parentID, name string) (string, error) {
	query := fmt.Sprintf("'%s' in parents and mimeType='%s' and name='%s' and trashed=false",
		parentID, folderMIMEType, strings.ReplaceAll(name, "'", "\\'"))
	list, err := c.svc.Files.List().Q(query).Spaces("drive").Fields("files(id,name)").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(list.Files) == 0 {
		return "", nil
	}
	return list.Files[0].Id, nil
}

func (c *Client) downloadFile(ctx context.Context, fileID, dest string) error {
	resp, err := c.svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return fmt.Errorf("download %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("download %s: %w", fileID, err)
	}
	c.log.Debug("file downloaded", logx.String("dest", dest))
	return f.Close()
}
