// Package sam implements the source adapter for the SAM.gov opportunities
// API, a keyed REST endpoint paginated by offset and limit.
package sam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/tenderwatch/crawler/internal/clock"
	"github.com/tenderwatch/crawler/internal/config"
	"github.com/tenderwatch/crawler/internal/httpx"
	"github.com/tenderwatch/crawler/internal/normalize"
	"github.com/tenderwatch/crawler/internal/source"
	"github.com/tenderwatch/crawler/internal/tender"
)

// APIURL is the production opportunities search endpoint.
const APIURL = "https://api.sam.gov/opportunities/v2/search"

// samDateLayout is the posted-date format the API expects.
const samDateLayout = "01/02/2006"

// maskedKey replaces the API key wherever it would otherwise leak into
// logs or error text.
const maskedKey = "****"

// Client crawls SAM.gov opportunities.
type Client struct {
	httpClient *httpx.Client
	settings   config.SAMSettings
	clock      clock.Clock
	logger     *zap.Logger
	apiURL     string

	// lookupEnv is swappable in tests.
	lookupEnv func(string) (string, bool)
}

// New builds a SAM client with fully merged settings.
func New(httpClient *httpx.Client, settings config.SAMSettings, clk clock.Clock, logger *zap.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		settings:   settings,
		clock:      clk,
		logger:     logger,
		apiURL:     APIURL,
		lookupEnv:  os.LookupEnv,
	}
}

// Site identifies this adapter.
func (c *Client) Site() tender.Site {
	return tender.SiteSAM
}

// Crawl pages through the posted-date window. A missing API key skips the
// source with zero records instead of failing the run.
func (c *Client) Crawl(ctx context.Context) ([]tender.Tender, error) {
	apiKey, ok := c.lookupEnv(c.settings.APIKeyEnv)
	if !ok || strings.TrimSpace(apiKey) == "" {
		c.logger.Warn("SAM API key not set, skipping source",
			zap.String("env_var", c.settings.APIKeyEnv))
		return nil, nil
	}

	c.logger.Info("starting SAM crawl", zap.Strings("keywords", c.settings.Keywords))

	var tenders []tender.Tender
	offset := 0
	total := -1
	for page := 0; page < c.settings.MaxPages; page++ {
		records, pageTotal, err := c.fetchPage(ctx, apiKey, offset)
		if err != nil {
			return nil, c.maskError(err, apiKey)
		}
		if pageTotal >= 0 {
			total = pageTotal
		}

		for _, record := range records {
			if t, ok := normalize.FromSAM(record); ok {
				tenders = append(tenders, t)
			}
		}

		offset += len(records)
		if len(records) < c.settings.Limit {
			break
		}
		if total >= 0 && offset >= total {
			break
		}
	}

	c.logger.Info("SAM crawl finished",
		zap.Int("fetched", offset),
		zap.Int("normalized", len(tenders)))
	return tenders, nil
}

func (c *Client) fetchPage(ctx context.Context, apiKey string, offset int) ([]map[string]any, int, error) {
	now := c.clock.Now()
	lookback := c.settings.LookbackDays
	if lookback <= 0 {
		lookback = 1
	}

	params := url.Values{}
	params.Set("api_key", apiKey)
	params.Set("postedFrom", now.AddDate(0, 0, -lookback).Format(samDateLayout))
	params.Set("postedTo", now.Format(samDateLayout))
	params.Set("limit", strconv.Itoa(c.settings.Limit))
	params.Set("offset", strconv.Itoa(offset))
	if joined := strings.Join(c.settings.Keywords, " "); joined != "" {
		params.Set("q", joined)
	}
	if c.settings.NoticeType != "" {
		params.Set("noticeType", c.settings.NoticeType)
	}
	if c.settings.SetAside != "" {
		params.Set("setAside", c.settings.SetAside)
	}
	if c.settings.NAICS != "" {
		params.Set("naics", c.settings.NAICS)
	}
	if c.settings.Sort != "" {
		params.Set("sort", c.settings.Sort)
	}

	resp, err := c.httpClient.Get(ctx, c.apiURL+"?"+params.Encode())
	if err != nil {
		return nil, -1, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, -1, httpx.ErrorFromResponse(resp)
	}
	defer resp.Body.Close()

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, -1, fmt.Errorf("decode opportunities response: %w", err)
	}

	records := extractOpportunities(payload)
	total := source.FirstInt(payload, []string{"totalRecords", "total"}, -1)
	return records, total, nil
}

// extractOpportunities prefers the endpoint's own container key and falls
// back to the generic ones.
func extractOpportunities(payload map[string]any) []map[string]any {
	if list, ok := payload["opportunitiesData"].([]any); ok {
		records := make([]map[string]any, 0, len(list))
		for _, item := range list {
			if record, ok := item.(map[string]any); ok {
				records = append(records, record)
			}
		}
		return records
	}
	return source.ExtractRecords(payload)
}

// maskError scrubs the API key from an error before it can reach a log or
// a crawl report. Status errors keep their status code.
func (c *Client) maskError(err error, apiKey string) error {
	if err == nil || apiKey == "" {
		return err
	}

	var se *httpx.StatusError
	if errors.As(err, &se) {
		return &httpx.StatusError{
			StatusCode: se.StatusCode,
			URL:        maskKey(se.URL, apiKey),
			Body:       maskKey(se.Body, apiKey),
		}
	}
	if masked := maskKey(err.Error(), apiKey); masked != err.Error() {
		return errors.New(masked)
	}
	return err
}

func maskKey(text, apiKey string) string {
	if apiKey == "" {
		return text
	}
	masked := strings.ReplaceAll(text, apiKey, maskedKey)
	// Query strings carry the key URL-encoded.
	if escaped := url.QueryEscape(apiKey); escaped != apiKey {
		masked = strings.ReplaceAll(masked, escaped, maskedKey)
	}
	return masked
}
