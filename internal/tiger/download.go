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

	"github.com/sells-group/coalition-geo/internal/resilience"
)

// Fetcher resolves an import source to a local .shp path. Sources may be a
// .shp file, a local .zip, or an http(s) URL to a TIGER/Line .zip.
type Fetcher struct {
	TempDir string
	Client  *http.Client
	Retry   resilience.Policy
}

// NewFetcher returns a Fetcher extracting into tempDir.
func NewFetcher(tempDir string) *Fetcher {
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "coalition-geo")
	}
	return &Fetcher{
		TempDir: tempDir,
		Client:  &http.Client{Timeout: 10 * time.Minute},
		Retry:   resilience.Policy{MaxAttempts: 3, InitialBackoff: 2 * time.Second, MaxBackoff: 30 * time.Second},
	}
}

// Fetch returns the path of the shapefile named by src.
func (f *Fetcher) Fetch(ctx context.Context, src string) (string, error) {
	lower := strings.ToLower(src)
	switch {
	case strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://"):
		return f.download(ctx, src)
	case strings.HasSuffix(lower, ".zip"):
		return f.unpack(src)
	case strings.HasSuffix(lower, ".shp"):
		if _, err := os.Stat(src); err != nil {
			return "", eris.Wrapf(err, "tiger: stat %s", src)
		}
		return src, nil
	default:
		return "", eris.Errorf("tiger: unsupported source %q (want .shp, .zip or URL)", src)
	}
}

func (f *Fetcher) download(ctx context.Context, url string) (string, error) {
	log := zap.L().With(zap.String("component", "tiger.download"), zap.String("url", url))

	if err := os.MkdirAll(f.TempDir, 0o755); err != nil {
		return "", eris.Wrap(err, "tiger: create temp dir")
	}
	zipPath := filepath.Join(f.TempDir, path.Base(url))

	if info, err := os.Stat(zipPath); err == nil && info.Size() > 0 {
		log.Debug("zip already downloaded", zap.String("path", zipPath))
	} else {
		log.Info("downloading boundary file")
		policy := f.Retry
		policy.OnRetry = resilience.LogRetries("tiger", "download")
		if _, err := resilience.Do(ctx, policy, func(ctx context.Context) error {
			return f.downloadFile(ctx, url, zipPath)
		}); err != nil {
			_ = os.Remove(zipPath)
			return "", eris.Wrapf(err, "tiger: download %s", url)
		}
	}
	return f.unpack(zipPath)
}

func (f *Fetcher) downloadFile(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return eris.Wrap(err, "build request")
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return resilience.NewTransientError(err, 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("download returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}

	out, err := os.Create(dest)
	if err != nil {
		return eris.Wrap(err, "create file")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, resp.Body); err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "write file"), 0)
	}
	return nil
}

// unpack extracts zipPath beside itself and returns the .shp inside.
func (f *Fetcher) unpack(zipPath string) (string, error) {
	base := strings.TrimSuffix(filepath.Base(zipPath), filepath.Ext(zipPath))
	dir := filepath.Join(f.TempDir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrap(err, "tiger: create extract dir")
	}
	if err := extractZIP(zipPath, dir); err != nil {
		return "", eris.Wrapf(err, "tiger: extract %s", zipPath)
	}
	shpPath, err := findFileByExt(dir, ".shp")
	if err != nil {
		return "", eris.Wrap(err, "tiger: find .shp file")
	}
	return shpPath, nil
}

// extractZIP flattens the archive into destDir.
func extractZIP(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return eris.Wrap(err, "open zip")
	}
	defer r.Close() //nolint:errcheck

	for _, zf := range r.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		if err := extractEntry(zf, filepath.Join(destDir, filepath.Base(zf.Name))); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(zf *zip.File, dest string) error {
	rc, err := zf.Open()
	if err != nil {
		return eris.Wrapf(err, "open zip entry %s", zf.Name)
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(dest)
	if err != nil {
		return eris.Wrapf(err, "create %s", dest)
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, rc); err != nil {
		return eris.Wrapf(err, "extract %s", zf.Name)
	}
	return nil
}

func findFileByExt(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrap(err, "read directory")
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", eris.Errorf("no %s file found in %s", ext, dir)
}
