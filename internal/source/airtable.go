package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"table-monitor/internal/models"
)

const (
	DefaultAirtableEndpoint = "https://api.airtable.com/v0"
	DefaultAirtablePageSize = 100
)

// AirtableConfig holds the credentials and tuning of the Airtable REST API
type AirtableConfig struct {
	BaseID   string
	APIKey   string
	Endpoint string
	PageSize int
	Timeout  time.Duration
}

// AirtableSource lists records through the Airtable REST API, following
// offset pagination until the table is exhausted.
type AirtableSource struct {
	cfg    AirtableConfig
	client *http.Client
	logger *logrus.Logger
}

type airtablePage struct {
	Records []struct {
		ID     string                 `json:"id"`
		Fields map[string]interface{} `json:"fields"`
	} `json:"records"`
	Offset string `json:"offset"`
}

// NewAirtableSource creates an Airtable source
func NewAirtableSource(cfg AirtableConfig, logger *logrus.Logger) *AirtableSource {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultAirtableEndpoint
	}
	if cfg.PageSize <= 0 || cfg.PageSize > DefaultAirtablePageSize {
		cfg.PageSize = DefaultAirtablePageSize
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &AirtableSource{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Fetch lists every record of table
func (s *AirtableSource) Fetch(ctx context.Context, table string) ([]models.Record, error) {
	var records []models.Record
	offset := ""
	for {
		page, err := s.fetchPage(ctx, table, offset)
		if err != nil {
			return nil, err
		}
		for _, r := range page.Records {
			fields := r.Fields
			if fields == nil {
				fields = map[string]interface{}{}
			}
			records = append(records, models.Record{ID: r.ID, Fields: fields})
		}
		if page.Offset == "" {
			break
		}
		offset = page.Offset
	}
	s.logger.Debugf("Fetched %d records from %s", len(records), table)
	return records, nil
}

func (s *AirtableSource) fetchPage(ctx context.Context, table, offset string) (*airtablePage, error) {
	query := url.Values{}
	query.Set("pageSize", strconv.Itoa(s.cfg.PageSize))
	if offset != "" {
		query.Set("offset", offset)
	}
	endpoint := fmt.Sprintf("%s/%s/%s?%s",
		strings.TrimRight(s.cfg.Endpoint, "/"),
		url.PathEscape(s.cfg.BaseID),
		url.PathEscape(table),
		query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", table, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list records of %s: %w", table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("listing records of %s returned %s: %s", table, resp.Status, strings.TrimSpace(string(body)))
	}

	var page airtablePage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode records of %s: %w", table, err)
	}
	return &page, nil
}

// Close is a no-op; the HTTP client holds no resources that need releasing
func (s *AirtableSource) Close() error {
	return nil
}
