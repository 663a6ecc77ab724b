// Package ted implements the source adapter for the TED Search API v3.
package ted

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/tenderwatch/crawler/internal/clock"
	"github.com/tenderwatch/crawler/internal/config"
	"github.com/tenderwatch/crawler/internal/httpx"
	"github.com/tenderwatch/crawler/internal/normalize"
	"github.com/tenderwatch/crawler/internal/source"
	"github.com/tenderwatch/crawler/internal/tender"
)

// APIURL is the production search endpoint.
const APIURL = "https://api.ted.europa.eu/v3/notices/search"

// tokenParams is the priority order in which the continuation token is
// offered to the server; the protocol is ambiguous about the parameter
// name, and treating the token as a literal page number is the last resort.
var tokenParams = []string{"page-token", "next-page-token", "iteration-token", "page"}

// Client crawls TED notices in page or iteration mode.
type Client struct {
	httpClient *httpx.Client
	settings   config.TEDSettings
	clock      clock.Clock
	logger     *zap.Logger
	apiURL     string
}

// New builds a TED client. The settings are expected to be fully merged
// (defaults plus overrides) by the caller.
func New(httpClient *httpx.Client, settings config.TEDSettings, clk clock.Clock, logger *zap.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		settings:   settings,
		clock:      clk,
		logger:     logger,
		apiURL:     APIURL,
	}
}

// Site identifies this adapter.
func (c *Client) Site() tender.Site {
	return tender.SiteTED
}

// Crawl executes one search according to the configured mode and returns
// the normalized records.
func (c *Client) Crawl(ctx context.Context) ([]tender.Tender, error) {
	query := c.settings.EffectiveQuery(c.clock.Now())
	c.logger.Info("starting TED crawl",
		zap.String("query", query),
		zap.String("mode", c.settings.Mode))

	var records []map[string]any
	if c.settings.Mode == "iteration" {
		it := c.Iterate(ctx, query)
		for {
			record, ok, err := it.Next(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			records = append(records, record)
		}
	} else {
		page, err := c.SearchPage(ctx, query, c.settings.Page)
		if err != nil {
			return nil, err
		}
		records = page.Records
	}

	tenders := make([]tender.Tender, 0, len(records))
	for _, record := range records {
		if t, ok := normalize.FromTED(record); ok {
			tenders = append(tenders, t)
		}
	}
	c.logger.Info("TED crawl finished",
		zap.Int("raw_records", len(records)),
		zap.Int("normalized", len(tenders)))
	return tenders, nil
}

// Page is one batch returned by the search endpoint, echoing the request
// parameters alongside the extracted records.
type Page struct {
	Query         string
	Page          int
	Limit         int
	Count         int
	Total         int // -1 when the server did not declare one
	Records       []map[string]any
	NextPageToken string
}

// SearchPage executes a single page-mode request.
func (c *Client) SearchPage(ctx context.Context, query string, page int) (Page, error) {
	if page <= 0 {
		page = 1
	}
	payload, err := c.request(ctx, query, map[string]any{"page": page})
	if err != nil {
		return Page{}, err
	}
	return c.buildPage(payload, query), nil
}

// Iterate returns a lazy, forward-only sequence over all notices matching
// the query. The sequence is non-restartable: the caller drains it once.
func (c *Client) Iterate(ctx context.Context, query string) *Iterator {
	return &Iterator{client: c, query: query}
}

// Iterator walks the continuation-token flow batch by batch.
type Iterator struct {
	client *Client
	query  string
	token  string
	buf    []map[string]any
	pos    int
	opened bool
	done   bool
}

// Next yields the next raw record. The boolean is false once the sequence
// is exhausted; after that Next keeps returning false without issuing
// further requests.
func (it *Iterator) Next(ctx context.Context) (map[string]any, bool, error) {
	for it.pos >= len(it.buf) {
		if it.done {
			return nil, false, nil
		}
		if err := it.fetch(ctx); err != nil {
			it.done = true
			return nil, false, err
		}
	}
	record := it.buf[it.pos]
	it.pos++
	return record, true, nil
}

func (it *Iterator) fetch(ctx context.Context) error {
	var (
		payload map[string]any
		err     error
	)
	if !it.opened {
		// The first batch is requested token-less on page one.
		payload, err = it.client.request(ctx, it.query, map[string]any{"page": 1})
	} else {
		if it.token == "" {
			it.done = true
			return nil
		}
		payload, err = it.client.requestWithToken(ctx, it.query, it.token)
	}
	if err != nil {
		return err
	}

	page := it.client.buildPage(payload, it.query)
	it.opened = true
	it.buf = page.Records
	it.pos = 0
	it.token = page.NextPageToken
	if it.token == "" {
		it.done = true
	}
	return nil
}

// request posts the search body once, retrying with the default projection
// when the server rejects the configured field list.
func (c *Client) request(ctx context.Context, query string, extra map[string]any) (map[string]any, error) {
	fields := c.settings.Fields
	if len(fields) == 0 {
		fields = config.DefaultTEDFields
	}

	payload, err := c.post(ctx, c.body(query, fields, extra))
	if err == nil {
		return payload, nil
	}

	// A 400 naming an unsupported field means the projection, not the
	// query, is at fault; one retry with the default field set salvages
	// the crawl.
	if isUnsupportedFieldError(err) && !sameFields(fields, config.DefaultTEDFields) {
		c.logger.Warn("field projection rejected, retrying with default fields", zap.Error(err))
		return c.post(ctx, c.body(query, config.DefaultTEDFields, extra))
	}
	return nil, err
}

// requestWithToken tries each candidate token parameter in priority order.
// A client-error status moves on to the next candidate; any other failure
// is surfaced immediately. When every candidate fails with a client error
// the last one observed is returned.
func (c *Client) requestWithToken(ctx context.Context, query, token string) (map[string]any, error) {
	fields := c.settings.Fields
	if len(fields) == 0 {
		fields = config.DefaultTEDFields
	}

	var lastErr error
	for _, param := range tokenParams {
		extra := map[string]any{param: token}
		payload, err := c.post(ctx, c.body(query, fields, extra))
		if err == nil {
			return payload, nil
		}
		if param != "page" && httpx.IsStatus(err, http.StatusBadRequest, http.StatusUnprocessableEntity) {
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

func (c *Client) body(query string, fields []string, extra map[string]any) map[string]any {
	body := map[string]any{
		"q":      query,
		"fields": strings.Join(fields, ","),
		"limit":  c.settings.Limit,
		"sort":   c.settings.SortField,
		"order":  strings.ToLower(c.settings.SortOrder),
	}
	for key, value := range extra {
		body[key] = value
	}
	return body
}

func (c *Client) post(ctx context.Context, body map[string]any) (map[string]any, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode search body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpx.ErrorFromResponse(resp)
	}
	defer resp.Body.Close()

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return payload, nil
}

func (c *Client) buildPage(payload map[string]any, query string) Page {
	records := source.ExtractRecords(payload)
	return Page{
		Query:         query,
		Page:          source.FirstInt(payload, []string{"page", "currentPage"}, c.settings.Page),
		Limit:         source.FirstInt(payload, []string{"limit", "pageSize"}, c.settings.Limit),
		Count:         source.FirstInt(payload, []string{"count"}, len(records)),
		Total:         source.FirstInt(payload, []string{"total", "totalResults", "totalNoticeCount"}, -1),
		Records:       records,
		NextPageToken: extractToken(payload),
	}
}

// extractToken finds the continuation token under any of its known shapes.
func extractToken(payload map[string]any) string {
	for _, key := range []string{"nextPageToken", "next-page-token", "iterationToken"} {
		if token, ok := payload[key].(string); ok && token != "" {
			return token
		}
	}
	for _, key := range []string{"nextPage", "next-page"} {
		nested, ok := payload[key].(map[string]any)
		if !ok {
			continue
		}
		for _, inner := range []string{"token", "pageToken"} {
			if token, ok := nested[inner].(string); ok && token != "" {
				return token
			}
		}
	}
	return ""
}

func isUnsupportedFieldError(err error) bool {
	if !httpx.IsStatus(err, http.StatusBadRequest) {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "field")
}

func sameFields(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
