// Package ungm implements the source adapter for the UNGM public notice
// search, which hides its search POST behind an anti-forgery token and
// answers with either an HTML table or JSON depending on server mood.
package ungm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/tenderwatch/crawler/internal/clock"
	"github.com/tenderwatch/crawler/internal/config"
	"github.com/tenderwatch/crawler/internal/httpx"
	"github.com/tenderwatch/crawler/internal/normalize"
	"github.com/tenderwatch/crawler/internal/source"
	"github.com/tenderwatch/crawler/internal/tender"
)

// BaseURL is the production site root.
const BaseURL = "https://www.ungm.org"

const (
	noticePath = "/Public/Notice"
	searchPath = "/Public/Notice/Search"

	tokenCookieName = "__RequestVerificationToken"
	ungmDateLayout  = "02-Jan-2006"
)

// formTokenExprs locate the anti-forgery token embedded in a bootstrap
// page, whether it sits in a form input or an inline script.
var formTokenExprs = []*regexp.Regexp{
	regexp.MustCompile(`name="__RequestVerificationToken"[^>]*value="([^"]+)"`),
	regexp.MustCompile(`__RequestVerificationToken"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`__RequestVerificationToken'\s*:\s*'([^']+)'`),
}

// Client crawls UNGM notices.
type Client struct {
	httpClient *httpx.Client
	settings   config.UNGMSettings
	clock      clock.Clock
	logger     *zap.Logger
	baseURL    string
}

// New builds a UNGM client with fully merged settings.
func New(httpClient *httpx.Client, settings config.UNGMSettings, clk clock.Clock, logger *zap.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		settings:   settings,
		clock:      clk,
		logger:     logger,
		baseURL:    BaseURL,
	}
}

// Site identifies this adapter.
func (c *Client) Site() tender.Site {
	return tender.SiteUNGM
}

// tokens holds the two anti-forgery credentials a bootstrap can yield.
type tokens struct {
	form   string
	cookie string
}

func (t tokens) complete() bool {
	return t.form != "" && t.cookie != ""
}

// headerValue is what goes into the RequestVerificationToken header. The
// cookie:form combination is the server's preferred shape; the bare form
// token is the fallback.
func (t tokens) headerValue(combined bool) string {
	if combined && t.cookie != "" {
		return t.cookie + ":" + t.form
	}
	return t.form
}

// Crawl bootstraps the anti-forgery token, posts the search, and extracts
// records from whichever response shape came back.
func (c *Client) Crawl(ctx context.Context) ([]tender.Tender, error) {
	c.logger.Info("starting UNGM crawl", zap.Strings("keywords", c.settings.Keywords))

	tk, err := c.bootstrap(ctx)
	if err != nil {
		return nil, err
	}

	body, shape, err := c.search(ctx, tk, true)
	if err != nil {
		return nil, err
	}

	keywords := lowerKeywords(c.settings.Keywords)
	var tenders []tender.Tender
	switch shape {
	case shapeJSON:
		tenders, err = c.extractJSON(body, keywords)
	default:
		tenders, err = c.extractHTML(body, keywords)
	}
	if err != nil {
		return nil, err
	}

	c.logger.Info("UNGM crawl finished",
		zap.String("shape", string(shape)),
		zap.Int("normalized", len(tenders)))
	return tenders, nil
}

// bootstrap fetches the bootstrap URLs in order, harvesting the form token
// from the page body and the cookie token from the response cookies. It
// stops early once both are present and fails only when no form token was
// found anywhere.
func (c *Client) bootstrap(ctx context.Context) (tokens, error) {
	var tk tokens
	for _, path := range []string{noticePath, searchPath} {
		pageURL := c.baseURL + path
		resp, err := c.httpClient.Get(ctx, pageURL)
		if err != nil {
			c.logger.Warn("bootstrap fetch failed", zap.String("url", pageURL), zap.Error(err))
			continue
		}
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			c.logger.Warn("bootstrap read failed", zap.String("url", pageURL), zap.Error(err))
			continue
		}

		if resp.StatusCode == http.StatusNotFound && isPlaceholderNotFound(resp.Request.URL.String(), body) {
			c.logger.Debug("bootstrap hit not-found placeholder, skipping", zap.String("url", pageURL))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			c.logger.Warn("bootstrap returned unexpected status",
				zap.String("url", pageURL), zap.Int("status", resp.StatusCode))
			continue
		}

		if tk.form == "" {
			tk.form = extractFormToken(body)
		}
		if tk.cookie == "" {
			tk.cookie = c.cookieToken(resp)
		}
		if tk.complete() {
			break
		}
	}

	if tk.form == "" {
		return tokens{}, fmt.Errorf("ungm bootstrap: no verification token found")
	}
	return tk, nil
}

func (c *Client) cookieToken(resp *http.Response) string {
	for _, cookie := range resp.Cookies() {
		if strings.HasPrefix(cookie.Name, tokenCookieName) && cookie.Value != "" {
			return cookie.Value
		}
	}
	if u, err := url.Parse(c.baseURL); err == nil {
		for _, cookie := range c.httpClient.Cookies(u) {
			if strings.HasPrefix(cookie.Name, tokenCookieName) && cookie.Value != "" {
				return cookie.Value
			}
		}
	}
	return ""
}

func extractFormToken(body []byte) string {
	for _, expr := range formTokenExprs {
		if match := expr.FindSubmatch(body); match != nil {
			return string(match[1])
		}
	}
	return ""
}

// responseShape tags the one-time HTML/JSON decision for a search response.
type responseShape string

const (
	shapeHTML responseShape = "html"
	shapeJSON responseShape = "json"
)

// search posts the filter payload. The first attempt uses the combined
// cookie:form header; a failed attempt falls back to the form token alone,
// and a not-found placeholder triggers a single re-bootstrap before the
// error becomes fatal.
func (c *Client) search(ctx context.Context, tk tokens, allowRebootstrap bool) ([]byte, responseShape, error) {
	body, shape, err := c.postSearch(ctx, tk, tk.cookie != "")
	if err != nil && tk.cookie != "" {
		c.logger.Warn("combined token header rejected, retrying with form token", zap.Error(err))
		body, shape, err = c.postSearch(ctx, tk, false)
	}
	if err == nil {
		return body, shape, nil
	}

	if allowRebootstrap && isPlaceholderError(err) {
		c.logger.Warn("search hit not-found placeholder, re-bootstrapping once", zap.Error(err))
		fresh, berr := c.bootstrap(ctx)
		if berr != nil {
			return nil, "", berr
		}
		return c.search(ctx, fresh, false)
	}
	return nil, "", err
}

func (c *Client) postSearch(ctx context.Context, tk tokens, combined bool) ([]byte, responseShape, error) {
	payload := c.searchPayload(tk.form)
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("encode search payload: %w", err)
	}

	searchURL := c.baseURL + searchPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, searchURL, bytes.NewReader(encoded))
	if err != nil {
		return nil, "", fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Referer", c.baseURL+noticePath)
	req.Header.Set("Origin", c.baseURL)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("RequestVerificationToken", tk.headerValue(combined))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", httpx.ErrorFromResponse(resp)
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, "", fmt.Errorf("read search response: %w", err)
	}
	return body, detectShape(resp.Header.Get("Content-Type"), body), nil
}

// searchPayload mirrors the fixed filter schema the endpoint expects.
func (c *Client) searchPayload(formToken string) map[string]any {
	now := c.clock.Now()
	lookback := c.settings.LookbackDays
	if lookback <= 0 {
		lookback = 1
	}
	joined := strings.Join(c.settings.Keywords, " ")

	return map[string]any{
		"PageIndex":                  0,
		"PageSize":                   c.settings.PageSize,
		"Title":                      joined,
		"Description":                joined,
		"Reference":                  "",
		"PublishedFrom":              now.AddDate(0, 0, -lookback).Format(ungmDateLayout),
		"PublishedTo":                now.Format(ungmDateLayout),
		"DeadlineFrom":               "",
		"DeadlineTo":                 "",
		"Countries":                  []any{},
		"Agencies":                   []any{},
		"UNSPSCs":                    []any{},
		"NoticeTypes":                []any{},
		"SortField":                  "DatePublished",
		"SortAscending":              false,
		"NoticeSearchTotalLabelId":   "noticeSearchTotal",
		"TypeOfCompetitions":         []any{},
		"__RequestVerificationToken": formToken,
	}
}

// detectShape inspects the Content-Type header and, when inconclusive,
// sniffs the first non-whitespace byte of the body.
func detectShape(contentType string, body []byte) responseShape {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "json") {
		return shapeJSON
	}
	if strings.Contains(ct, "html") {
		return shapeHTML
	}
	for _, b := range body {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '{', '[':
			return shapeJSON
		default:
			return shapeHTML
		}
	}
	return shapeHTML
}

func (c *Client) extractJSON(body []byte, keywords []string) ([]tender.Tender, error) {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	var records []map[string]any
	switch v := payload.(type) {
	case map[string]any:
		records = source.ExtractRecords(v)
	case []any:
		for _, item := range v {
			if record, ok := item.(map[string]any); ok {
				records = append(records, record)
			}
		}
	}

	tenders := make([]tender.Tender, 0, len(records))
	for _, record := range records {
		t, ok := normalize.FromUNGMJSON(record)
		if !ok {
			continue
		}
		if !matchesKeywords(t.Title, keywords) {
			continue
		}
		tenders = append(tenders, t)
	}
	return tenders, nil
}

// extractHTML selects the repeating row elements and reads a fixed set of
// positional cells per row: title, deadline, published date, agency,
// notice type, reference, country. Rows with fewer cells are skipped.
func (c *Client) extractHTML(body []byte, keywords []string) ([]tender.Tender, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}

	var tenders []tender.Tender
	doc.Find(".tableRow").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find(".tableCell").Map(func(_ int, cell *goquery.Selection) string {
			return strings.TrimSpace(cell.Text())
		})
		if len(cells) < 8 {
			return
		}

		title := cells[1]
		reference := cells[6]
		if title == "" || reference == "" {
			return
		}
		if !matchesKeywords(title, keywords) {
			return
		}

		detail := ""
		if href, ok := row.Find("a").First().Attr("href"); ok {
			detail = c.absoluteURL(href)
		}

		tenders = append(tenders, tender.Tender{
			Site:          tender.SiteUNGM,
			ReferenceNo:   reference,
			Title:         title,
			DeadlineDate:  normalize.ParseDate(cells[2]),
			PublishedDate: normalize.ParseDate(cells[3]),
			Organization:  cells[4],
			NoticeType:    cells[5],
			Country:       cells[7],
			DetailURL:     detail,
		})
	})
	return tenders, nil
}

func (c *Client) absoluteURL(href string) string {
	if href == "" {
		return ""
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// matchesKeywords keeps a record when no filter is configured or the
// lower-cased title contains at least one token as a substring.
func matchesKeywords(title string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	lowered := strings.ToLower(title)
	for _, keyword := range keywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}

func lowerKeywords(keywords []string) []string {
	lowered := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		if trimmed := strings.TrimSpace(strings.ToLower(keyword)); trimmed != "" {
			lowered = append(lowered, trimmed)
		}
	}
	return lowered
}

// isPlaceholderNotFound recognizes the site's "not found" placeholder page
// by its URL or body markers.
func isPlaceholderNotFound(requestURL string, body []byte) bool {
	if strings.Contains(strings.ToLower(requestURL), "notfound") {
		return true
	}
	lowered := strings.ToLower(string(body))
	return strings.Contains(lowered, "page not found") ||
		strings.Contains(lowered, "notfound")
}

func isPlaceholderError(err error) bool {
	if !httpx.IsStatus(err, http.StatusNotFound) {
		return false
	}
	lowered := strings.ToLower(err.Error())
	return strings.Contains(lowered, "not found") || strings.Contains(lowered, "notfound")
}
