package clients

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/civicdata-io/civic-engine/pkg/config"
	"github.com/civicdata-io/civic-engine/pkg/retry"
)

// uscodeTitleCount is the number of titles in the United States Code.
const uscodeTitleCount = 54

// USCodeDownloadClient downloads USLM XML release-point archives from
// uscode.house.gov and extracts the XML payload.
type USCodeDownloadClient struct {
	baseURL             string
	defaultReleasePoint string
	httpClient          *http.Client
	retryCfg            *retry.Config
	logger              *zap.Logger
}

// NewUSCodeDownloadClient builds a client from configuration.
func NewUSCodeDownloadClient(cfg config.USCodeConfig, logger *zap.Logger) *USCodeDownloadClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &USCodeDownloadClient{
		baseURL:             cfg.BaseURL,
		defaultReleasePoint: cfg.DefaultReleasePoint,
		httpClient:          &http.Client{Timeout: timeout},
		retryCfg: &retry.Config{
			MaxRetries:   2,
			InitialDelay: 2 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		logger: logger.Named("uscode_download"),
	}
}

// AvailableTitles lists every USC title number, 1 through 54.
func (c *USCodeDownloadClient) AvailableTitles() []int {
	titles := make([]int, uscodeTitleCount)
	for i := range titles {
		titles[i] = i + 1
	}
	return titles
}

// DefaultReleasePoint is the configured "{congress}-{release}" tag.
func (c *USCodeDownloadClient) DefaultReleasePoint() string {
	return c.defaultReleasePoint
}

// BuildDownloadURL returns the archive URL for a title at a release point.
// Release points are tagged "{congress}-{release}".
func (c *USCodeDownloadClient) BuildDownloadURL(title int, releasePoint string) (string, error) {
	congress, _, ok := strings.Cut(releasePoint, "-")
	if !ok || congress == "" {
		return "", fmt.Errorf("invalid release point %q, expected {congress}-{release}", releasePoint)
	}
	return fmt.Sprintf("%s/releasepoints/us/pl/%s/%s/xml_usc%02d@%s.zip",
		c.baseURL, congress, releasePoint, title, releasePoint), nil
}

// DownloadTitle downloads one title's release-point archive and returns a
// reader over the extracted USLM XML. The caller must close the reader, which
// also removes the backing temp file.
func (c *USCodeDownloadClient) DownloadTitle(ctx context.Context, title int, releasePoint string) (io.ReadCloser, error) {
	if title < 1 || title > uscodeTitleCount {
		return nil, fmt.Errorf("invalid title number %d, expected 1-%d", title, uscodeTitleCount)
	}
	if releasePoint == "" {
		releasePoint = c.defaultReleasePoint
	}

	downloadURL, err := c.BuildDownloadURL(title, releasePoint)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Downloading US Code title",
		zap.Int("title", title),
		zap.String("release_point", releasePoint),
		zap.String("url", downloadURL))

	tmp, err := os.CreateTemp("", fmt.Sprintf("usc%02d-*.zip", title))
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	if err := c.downloadTo(ctx, downloadURL, tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, err
	}

	xml, err := openArchiveXML(tmp)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to open archive for title %d: %w", title, err)
	}

	return &tempFileReadCloser{Reader: xml, file: tmp}, nil
}

func (c *USCodeDownloadClient) downloadTo(ctx context.Context, downloadURL string, dst *os.File) error {
	return retry.DoIfRetryable(ctx, c.retryCfg, func() error {
		if err := dst.Truncate(0); err != nil {
			return fmt.Errorf("failed to reset temp file: %w", err)
		}
		if _, err := dst.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to reset temp file: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("download failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("uscode.house.gov returned status %d for %s", resp.StatusCode, downloadURL)
		}

		// An expired release point serves an HTML error page instead of a
		// 404, so sniff the leading bytes before trusting the payload.
		head := make([]byte, 512)
		n, _ := io.ReadFull(resp.Body, head)
		if looksLikeHTML(head[:n]) {
			return fmt.Errorf("received an HTML page instead of a zip archive from %s; the release point is likely outdated, check %s/download.shtml", downloadURL, c.baseURL)
		}

		if _, err := dst.Write(head[:n]); err != nil {
			return fmt.Errorf("failed to write archive: %w", err)
		}
		if _, err := io.Copy(dst, resp.Body); err != nil {
			return fmt.Errorf("failed to write archive: %w", err)
		}
		return nil
	})
}

// openArchiveXML opens the first .xml entry in the downloaded zip.
func openArchiveXML(f *os.File) (io.ReadCloser, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	r, err := zip.NewReader(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("not a valid zip archive: %w", err)
	}

	for _, entry := range r.File {
		if strings.HasSuffix(strings.ToLower(entry.Name), ".xml") {
			return entry.Open()
		}
	}
	return nil, fmt.Errorf("archive contains no XML entry")
}

func looksLikeHTML(head []byte) bool {
	trimmed := bytes.ToLower(bytes.TrimSpace(head))
	return bytes.HasPrefix(trimmed, []byte("<!doctype html")) || bytes.HasPrefix(trimmed, []byte("<html"))
}

// tempFileReadCloser closes the inner XML reader and removes the backing
// temp archive in one Close.
type tempFileReadCloser struct {
	io.Reader
	file *os.File
}

func (t *tempFileReadCloser) Close() error {
	if closer, ok := t.Reader.(io.Closer); ok {
		closer.Close()
	}
	name := t.file.Name()
	err := t.file.Close()
	os.Remove(name)
	return err
}
