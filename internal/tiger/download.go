package tiger

import (
	"archive/zip"
	"context"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Downloader fetches and unpacks TIGER/Line archives into a cache directory.
// Archives already on disk are reused.
type Downloader struct {
	client *http.Client
	dir    string
}

// NewDownloader creates a Downloader caching under dir. A nil client gets a
// ten minute timeout.
func NewDownloader(dir string, client *http.Client) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Downloader{client: client, dir: dir}
}

// Fetch downloads the ZIP at rawURL (unless cached), extracts it and returns
// the path of the .shp file inside.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) (string, error) {
	zipName := path.Base(rawURL)
	if !strings.HasSuffix(strings.ToLower(zipName), ".zip") {
		return "", eris.Errorf("tiger: %s is not a zip archive", rawURL)
	}
	log := zap.L().With(
		zap.String("component", "tiger.download"),
		zap.String("file", zipName),
	)

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", eris.Wrap(err, "tiger: create download dir")
	}

	zipPath := filepath.Join(d.dir, zipName)
	if info, err := os.Stat(zipPath); err == nil && info.Size() > 0 {
		log.Debug("archive cached")
	} else {
		log.Info("downloading block shapefile")
		if err := d.download(ctx, rawURL, zipPath); err != nil {
			return "", err
		}
	}

	extractDir := strings.TrimSuffix(zipPath, filepath.Ext(zipPath))
	if err := unzip(zipPath, extractDir); err != nil {
		return "", err
	}
	return findFileByExt(extractDir, ".shp")
}

// download writes the response body to a temp file and renames it into place
// so an interrupted transfer never leaves a partial archive in the cache.
func (d *Downloader) download(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return eris.Wrap(err, "tiger: build download request")
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return eris.Wrapf(err, "tiger: download %s", rawURL)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("tiger: download %s returned status %d", rawURL, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return eris.Wrap(err, "tiger: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		return eris.Wrapf(err, "tiger: write %s", dest)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "tiger: close temp file")
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return eris.Wrapf(err, "tiger: move archive to %s", dest)
	}
	return nil
}

// unzip extracts the regular files of an archive into destDir, flattening
// any directories in entry names.
func unzip(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return eris.Wrapf(err, "tiger: open %s", zipPath)
	}
	defer r.Close() //nolint:errcheck

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return eris.Wrap(err, "tiger: create extract dir")
	}
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := extractEntry(f, filepath.Join(destDir, filepath.Base(f.Name))); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return eris.Wrapf(err, "tiger: open zip entry %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(dest)
	if err != nil {
		return eris.Wrapf(err, "tiger: create %s", dest)
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return eris.Wrapf(err, "tiger: extract %s", f.Name)
	}
	return out.Close()
}

func findFileByExt(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrapf(err, "tiger: read %s", dir)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ext) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", eris.Errorf("tiger: no %s file in %s", ext, dir)
}
