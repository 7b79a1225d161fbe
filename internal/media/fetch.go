package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/Yashground/video-processing-app-sub000/internal/constants"
	"github.com/Yashground/video-processing-app-sub000/internal/httpclient"
)

// Fetcher downloads remote source resources into the work directory.
type Fetcher struct {
	client  *httpclient.Client
	workDir string
}

func NewFetcher(client *httpclient.Client, workDir string) *Fetcher {
	if client == nil {
		client = httpclient.NewClient(nil, constants.MinRequestInterval)
	}
	return &Fetcher{
		client:  client,
		workDir: workDir,
	}
}

// Fetch downloads url into the work directory under name and returns the
// local path and size.
func (f *Fetcher) Fetch(ctx context.Context, url, name string) (string, int64, error) {
	if err := os.MkdirAll(f.workDir, constants.DirPermissions); err != nil {
		return "", 0, fmt.Errorf("failed to create work dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, err
	}

	resp, err := f.client.Do(ctx, req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to fetch source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("source fetch returned status %d", resp.StatusCode)
	}

	path := filepath.Join(f.workDir, name)
	tmp := path + ".part"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, constants.FilePermissions)
	if err != nil {
		return "", 0, err
	}

	size, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", 0, fmt.Errorf("failed to write source: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", 0, err
	}

	return path, size, nil
}
