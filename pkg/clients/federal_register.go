// Package clients holds HTTP clients for the authoritative upstream sources:
// the Federal Register API and uscode.house.gov downloads.
package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/civicdata-io/civic-engine/pkg/apperrors"
	"github.com/civicdata-io/civic-engine/pkg/config"
	"github.com/civicdata-io/civic-engine/pkg/importer"
	"github.com/civicdata-io/civic-engine/pkg/retry"
)

// syncDocumentTypes are the Federal Register document types the sync covers.
var syncDocumentTypes = []string{"RULE", "PRORULE", "NOTICE", "PRESDOCU"}

// FRAgency is an agency reference attached to a Federal Register document.
type FRAgency struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	ShortName string `json:"short_name"`
	Slug      string `json:"slug"`
}

// FRDocument is one Federal Register document as returned by the API.
type FRDocument struct {
	DocumentNumber  string     `json:"document_number" validate:"required"`
	Title           string     `json:"title" validate:"required"`
	Type            string     `json:"type"`
	Abstract        string     `json:"abstract"`
	PublicationDate string     `json:"publication_date"`
	HTMLURL         string     `json:"html_url"`
	Agencies        []FRAgency `json:"agencies"`
}

func (d *FRDocument) Ref() string {
	if d.DocumentNumber == "" {
		return "document ?"
	}
	return d.DocumentNumber
}

// ParsedPublicationDate returns the publication date, nil when absent or
// unparsable.
func (d *FRDocument) ParsedPublicationDate() *time.Time {
	if d.PublicationDate == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", d.PublicationDate)
	if err != nil {
		return nil
	}
	return &t
}

type documentPage struct {
	Count       int           `json:"count"`
	TotalPages  int           `json:"total_pages"`
	NextPageURL string        `json:"next_page_url"`
	Results     []*FRDocument `json:"results"`
}

// FederalRegisterClient fetches documents from the Federal Register API with
// retry and a per-request timeout.
type FederalRegisterClient struct {
	baseURL    string
	perPage    int
	httpClient *http.Client
	retryCfg   *retry.Config
	logger     *zap.Logger
}

// NewFederalRegisterClient builds a client from configuration.
func NewFederalRegisterClient(cfg config.FederalRegisterConfig, logger *zap.Logger) *FederalRegisterClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	perPage := cfg.PerPage
	if perPage <= 0 {
		perPage = 100
	}

	return &FederalRegisterClient{
		baseURL:    cfg.BaseURL,
		perPage:    perPage,
		httpClient: &http.Client{Timeout: timeout},
		retryCfg: &retry.Config{
			MaxRetries:   3,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		logger: logger.Named("federal_register"),
	}
}

// FetchDocument fetches a single document by document number. Returns
// apperrors.ErrNotFound when the Federal Register does not know the number.
func (c *FederalRegisterClient) FetchDocument(ctx context.Context, documentNumber string) (*FRDocument, error) {
	endpoint := fmt.Sprintf("%s/documents/%s.json", c.baseURL, url.PathEscape(documentNumber))

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var doc FRDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse document response: %w", err)
	}
	return &doc, nil
}

// DocumentsSince returns a source that pages through every rule, proposed
// rule, notice, and presidential document published on or after since.
func (c *FederalRegisterClient) DocumentsSince(since time.Time) importer.Source[*FRDocument] {
	return &DocumentSource{client: c, since: since, page: 1}
}

func (c *FederalRegisterClient) fetchPage(ctx context.Context, since time.Time, page int) (*documentPage, error) {
	params := url.Values{}
	params.Set("conditions[publication_date][gte]", since.Format("2006-01-02"))
	for _, docType := range syncDocumentTypes {
		params.Add("conditions[type][]", docType)
	}
	params.Set("per_page", strconv.Itoa(c.perPage))
	params.Set("page", strconv.Itoa(page))
	params.Set("order", "oldest")

	endpoint := c.baseURL + "/documents.json?" + params.Encode()

	c.logger.Debug("Fetching Federal Register documents page",
		zap.Int("page", page),
		zap.String("since", since.Format("2006-01-02")))

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var result documentPage
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse documents response: %w", err)
	}
	return &result, nil
}

// get performs one GET with retry on transient failures.
func (c *FederalRegisterClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	var body []byte

	err := retry.DoIfRetryable(ctx, c.retryCfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return apperrors.ErrNotFound
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("federal register API returned status %d", resp.StatusCode)
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch %s: %w", endpoint, err)
	}

	return body, nil
}

// DocumentSource streams documents page by page, satisfying the pipeline's
// source contract: io.EOF at the end, a structural error when the API cannot
// be read at all.
type DocumentSource struct {
	client *FederalRegisterClient
	since  time.Time

	page    int
	total   int
	done    bool
	buffer  []*FRDocument
	fetched int
}

var _ importer.Source[*FRDocument] = (*DocumentSource)(nil)

// Next returns the next document, fetching further pages on demand.
func (s *DocumentSource) Next(ctx context.Context) (*FRDocument, error) {
	for len(s.buffer) == 0 {
		if s.done {
			return nil, io.EOF
		}

		page, err := s.client.fetchPage(ctx, s.since, s.page)
		if err != nil {
			return nil, &importer.SourceFormatError{Msg: "failed to fetch federal register documents", Err: err}
		}

		s.total = page.Count
		s.fetched += len(page.Results)
		s.buffer = page.Results

		if len(page.Results) == 0 || page.NextPageURL == "" || s.page >= page.TotalPages {
			s.done = true
		}
		s.page++
	}

	doc := s.buffer[0]
	s.buffer = s.buffer[1:]
	return doc, nil
}

// Total reports the API's total match count from the last fetched page.
func (s *DocumentSource) Total() int { return s.total }
