package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"media-relay/api/internal/dispatch"
)

// maxDownload is the Bot API limit for getFile.
const maxDownload = 20 << 20

var httpClient = &http.Client{Timeout: 60 * time.Second}

func fileLoader(files FileURLer, fileID string) dispatch.Loader {
	return func(ctx context.Context) ([]byte, error) {
		if files == nil {
			return nil, fmt.Errorf("no file resolver")
		}
		url, err := files.GetFileDirectURL(fileID)
		if err != nil {
			return nil, fmt.Errorf("get file: %w", err)
		}
		return download(ctx, url)
	}
}

func download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload+1))
	if err != nil {
		return nil, err
	}
	if len(b) > maxDownload {
		return nil, fmt.Errorf("file larger than %d bytes", maxDownload)
	}
	return b, nil
}
