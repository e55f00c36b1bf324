package organizer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"listenarr/internal/fileutil"
)

// placeCoverArt copies a local cached cover if one was discovered, otherwise
// downloads the remote cover URL with a bounded size and timeout. Cover
// failures never affect overall success.
func (o *Organizer) placeCoverArt(ctx context.Context, found discovery, meta Metadata, targetDir string) (string, []string) {
	if found.cover != "" {
		target := filepath.Join(targetDir, "cover"+strings.ToLower(filepath.Ext(found.cover)))
		if _, err := os.Stat(target); err == nil {
			return target, nil
		}
		if err := fileutil.CopyFileAtomic(found.cover, target); err != nil {
			return "", []string{fmt.Sprintf("copy cover art: %v", err)}
		}
		return target, nil
	}

	if meta.CoverURL == "" {
		return "", nil
	}
	target := filepath.Join(targetDir, "cover.jpg")
	if _, err := os.Stat(target); err == nil {
		return target, nil
	}
	if err := o.downloadCover(ctx, meta.CoverURL, target); err != nil {
		return "", []string{fmt.Sprintf("download cover art: %v", err)}
	}
	return target, nil
}

func (o *Organizer) downloadCover(ctx context.Context, coverURL, target string) error {
	downloadCtx := ctx
	if o.cfg.CoverTimeout > 0 {
		var cancel context.CancelFunc
		downloadCtx, cancel = context.WithTimeout(ctx, o.cfg.CoverTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(downloadCtx, http.MethodGet, coverURL, nil)
	if err != nil {
		return fmt.Errorf("build cover request: %w", err)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch cover: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cover fetch returned status %d", resp.StatusCode)
	}

	maxBytes := o.cfg.CoverMaxBytes
	if maxBytes <= 0 {
		maxBytes = 8 << 20
	}

	temp, err := os.CreateTemp(filepath.Dir(target), ".cover-*")
	if err != nil {
		return fmt.Errorf("create cover temp file: %w", err)
	}
	tempName := temp.Name()
	defer func() { _ = os.Remove(tempName) }()

	written, err := io.Copy(temp, io.LimitReader(resp.Body, maxBytes+1))
	closeErr := temp.Close()
	if err != nil {
		return fmt.Errorf("write cover: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("close cover temp file: %w", closeErr)
	}
	if written > maxBytes {
		return fmt.Errorf("cover exceeds %d byte limit", maxBytes)
	}
	if err := os.Rename(tempName, target); err != nil {
		return fmt.Errorf("finalize cover: %w", err)
	}
	return nil
}
