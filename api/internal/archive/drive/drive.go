// Package drive archives card photos to a Google Drive folder.
package drive

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"card-ledger/api/internal/archive"
)

// Scope needed to create files in a folder shared with the service account.
const Scope = drive.DriveScope

const contentType = "image/jpeg"

type Client struct {
	svc      *drive.Service
	folderID string
}

func New(ctx context.Context, folderID string, opts ...option.ClientOption) (*Client, error) {
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("drive: new service: %w", err)
	}
	return &Client{svc: svc, folderID: folderID}, nil
}

// Upload creates name in the target folder and returns its web view link.
func (c *Client) Upload(ctx context.Context, name string, image []byte) (archive.Reference, error) {
	if name == "" {
		return archive.Reference{}, archive.ErrEmptyName
	}
	if len(image) == 0 {
		return archive.Reference{}, errors.New("drive: empty image")
	}

	meta := &drive.File{Name: name}
	if c.folderID != "" {
		meta.Parents = []string{c.folderID}
	}

	f, err := c.svc.Files.Create(meta).
		Media(bytes.NewReader(image), googleapi.ContentType(contentType)).
		Fields("id", "webViewLink").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return archive.Reference{}, fmt.Errorf("drive: create %s: %w", name, err)
	}
	return archive.Reference{ID: f.Id, Link: f.WebViewLink}, nil
}
