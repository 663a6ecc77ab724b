package sam

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tenderwatch/crawler/internal/config"
	"github.com/tenderwatch/crawler/internal/httpx"
	"github.com/tenderwatch/crawler/internal/tender"
)

const testKey = "super-secret-key"

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestClient(t *testing.T, srvURL string, settings config.SAMSettings, key string) *Client {
	t.Helper()
	httpClient, err := httpx.New(httpx.Config{MaxAttempts: 1}, zap.NewNop())
	require.NoError(t, err)

	client := New(httpClient, settings, fixedClock{now: time.Date(2025, 9, 16, 0, 0, 0, 0, time.UTC)}, zap.NewNop())
	client.apiURL = srvURL
	client.lookupEnv = func(name string) (string, bool) {
		if key == "" {
			return "", false
		}
		assert.Equal(t, settings.APIKeyEnv, name)
		return key, true
	}
	return client
}

func opportunity(ref, title string) map[string]any {
	return map[string]any{
		"solicitationNumber": ref,
		"title":              title,
		"postedDate":         "2025-09-15",
		"type":               "Solicitation",
		"fullParentPathName": "GENERAL SERVICES ADMINISTRATION",
		"uiLink":             "https://sam.gov/opp/" + ref + "/view",
	}
}

func TestCrawlSinglePage(t *testing.T) {
	t.Parallel()

	var query map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = map[string]string{}
		for key, values := range r.URL.Query() {
			query[key] = values[0]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"totalRecords":      2,
			"opportunitiesData": []any{opportunity("SOL-1", "PCR reagents"), opportunity("SOL-2", "Diagnostic panels")},
		})
	}))
	defer srv.Close()

	settings := config.DefaultSAMSettings()
	settings.NoticeType = "Solicitation"
	settings.SetAside = "SBA"
	settings.NAICS = "325413"
	client := newTestClient(t, srv.URL, settings, testKey)
	tenders, err := client.Crawl(context.Background())
	require.NoError(t, err)

	require.Len(t, tenders, 2)
	assert.Equal(t, tender.SiteSAM, tenders[0].Site)
	assert.Equal(t, "SOL-1", tenders[0].ReferenceNo)
	assert.Equal(t, "GENERAL SERVICES ADMINISTRATION", tenders[0].Organization)
	assert.Equal(t, "https://sam.gov/opp/SOL-1/view", tenders[0].DetailURL)

	assert.Equal(t, testKey, query["api_key"])
	assert.Equal(t, "08/17/2025", query["postedFrom"])
	assert.Equal(t, "09/16/2025", query["postedTo"])
	assert.Equal(t, "100", query["limit"])
	assert.Equal(t, "0", query["offset"])
	assert.Equal(t, "PCR reagent diagnostic", query["q"])
	assert.Equal(t, "Solicitation", query["noticeType"])
	assert.Equal(t, "SBA", query["setAside"])
	assert.Equal(t, "325413", query["naics"])
	assert.Equal(t, "-modifiedDate", query["sort"])
}

func TestCrawlMissingKeySkipsSource(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected without an API key")
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, config.DefaultSAMSettings(), "")
	tenders, err := client.Crawl(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tenders)
}

func TestCrawlPaginatesUntilShortPage(t *testing.T) {
	t.Parallel()

	var offsets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offsets = append(offsets, r.URL.Query().Get("offset"))
		var data []any
		if len(offsets) == 1 {
			for i := 0; i < 2; i++ {
				data = append(data, opportunity("SOL-A", "first page"))
			}
		} else {
			data = append(data, opportunity("SOL-B", "short page"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"totalRecords":      3,
			"opportunitiesData": data,
		})
	}))
	defer srv.Close()

	settings := config.DefaultSAMSettings()
	settings.Limit = 2
	settings.Keywords = nil
	client := newTestClient(t, srv.URL, settings, testKey)

	tenders, err := client.Crawl(context.Background())
	require.NoError(t, err)
	assert.Len(t, tenders, 3)
	assert.Equal(t, []string{"0", "2"}, offsets)
}

func TestCrawlStopsAtDeclaredTotal(t *testing.T) {
	t.Parallel()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(map[string]any{
			"totalRecords":      2,
			"opportunitiesData": []any{opportunity("SOL-1", "one"), opportunity("SOL-2", "two")},
		})
	}))
	defer srv.Close()

	settings := config.DefaultSAMSettings()
	settings.Limit = 2
	client := newTestClient(t, srv.URL, settings, testKey)

	tenders, err := client.Crawl(context.Background())
	require.NoError(t, err)
	assert.Len(t, tenders, 2)
	assert.Equal(t, 1, calls)
}

func TestCrawlStopsAtMaxPages(t *testing.T) {
	t.Parallel()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(map[string]any{
			"opportunitiesData": []any{opportunity("SOL-1", "one"), opportunity("SOL-2", "two")},
		})
	}))
	defer srv.Close()

	settings := config.DefaultSAMSettings()
	settings.Limit = 2
	settings.MaxPages = 3
	client := newTestClient(t, srv.URL, settings, testKey)

	tenders, err := client.Crawl(context.Background())
	require.NoError(t, err)
	assert.Len(t, tenders, 6)
	assert.Equal(t, 3, calls)
}

func TestCrawlMasksAPIKeyInErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid key `+r.URL.Query().Get("api_key")+`"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, config.DefaultSAMSettings(), testKey)
	_, err := client.Crawl(context.Background())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), testKey)
	assert.Contains(t, err.Error(), "****")
	assert.Equal(t, http.StatusForbidden, httpx.StatusOf(err))
}

func TestMaskKeyHandlesEncodedForm(t *testing.T) {
	t.Parallel()

	key := "key with spaces"
	text := "bad request: api_key=key+with+spaces raw=key with spaces"
	masked := maskKey(text, key)
	assert.NotContains(t, masked, key)
	assert.NotContains(t, masked, "key+with+spaces")
}
