package ungm

import (
	"context"
	"encoding/json"
	"io"
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

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestClient(t *testing.T, srvURL string, settings config.UNGMSettings) *Client {
	t.Helper()
	httpClient, err := httpx.New(httpx.Config{MaxAttempts: 1}, zap.NewNop())
	require.NoError(t, err)

	client := New(httpClient, settings, fixedClock{now: time.Date(2025, 9, 16, 0, 0, 0, 0, time.UTC)}, zap.NewNop())
	client.baseURL = srvURL
	return client
}

const bootstrapPage = `<html><body>
<form><input name="__RequestVerificationToken" type="hidden" value="FORM-TOKEN" /></form>
</body></html>`

func writeBootstrap(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: "__RequestVerificationToken", Value: "COOKIE-TOKEN", Path: "/"})
	_, _ = io.WriteString(w, bootstrapPage)
}

const searchHTML = `<div>
<div class="tableRow">
  <div class="tableCell"><a href="/Public/Notice/12345"></a></div>
  <div class="tableCell">PCR reagent supply</div>
  <div class="tableCell">30-Sep-2025</div>
  <div class="tableCell">15-Sep-2025</div>
  <div class="tableCell">UNICEF</div>
  <div class="tableCell">RFQ</div>
  <div class="tableCell">RFQ-2025-001</div>
  <div class="tableCell">Denmark</div>
</div>
<div class="tableRow">
  <div class="tableCell"></div>
  <div class="tableCell">Office furniture</div>
  <div class="tableCell">30-Sep-2025</div>
  <div class="tableCell">15-Sep-2025</div>
  <div class="tableCell">UNDP</div>
  <div class="tableCell">ITB</div>
  <div class="tableCell">ITB-2025-002</div>
  <div class="tableCell">Kenya</div>
</div>
<div class="tableRow">
  <div class="tableCell">too few cells</div>
</div>
</div>`

func TestCrawlHTMLResponse(t *testing.T) {
	t.Parallel()

	var searchToken string
	var searchHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			writeBootstrap(w)
		case r.Method == http.MethodPost:
			var payload map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			searchToken, _ = payload["__RequestVerificationToken"].(string)
			searchHeader = r.Header.Get("RequestVerificationToken")
			assert.Equal(t, "XMLHttpRequest", r.Header.Get("X-Requested-With"))
			assert.EqualValues(t, 0, payload["PageIndex"])
			assert.EqualValues(t, 100, payload["PageSize"])
			assert.Equal(t, "PCR reagent diagnostic", payload["Title"])
			assert.Equal(t, "15-Sep-2025", payload["PublishedFrom"])
			assert.Equal(t, "16-Sep-2025", payload["PublishedTo"])
			assert.Equal(t, "DatePublished", payload["SortField"])
			assert.Equal(t, false, payload["SortAscending"])
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = io.WriteString(w, searchHTML)
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, config.DefaultUNGMSettings())
	tenders, err := client.Crawl(context.Background())
	require.NoError(t, err)

	// The furniture row fails the keyword filter, the short row is skipped.
	require.Len(t, tenders, 1)
	got := tenders[0]
	assert.Equal(t, tender.SiteUNGM, got.Site)
	assert.Equal(t, "RFQ-2025-001", got.ReferenceNo)
	assert.Equal(t, "PCR reagent supply", got.Title)
	assert.Equal(t, "UNICEF", got.Organization)
	assert.Equal(t, "RFQ", got.NoticeType)
	assert.Equal(t, "Denmark", got.Country)
	assert.Equal(t, srv.URL+"/Public/Notice/12345", got.DetailURL)
	require.NotNil(t, got.DeadlineDate)
	assert.Equal(t, time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC), *got.DeadlineDate)
	require.NotNil(t, got.PublishedDate)
	assert.Equal(t, time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC), *got.PublishedDate)

	assert.Equal(t, "FORM-TOKEN", searchToken)
	assert.Equal(t, "COOKIE-TOKEN:FORM-TOKEN", searchHeader)
}

func TestCrawlJSONResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			writeBootstrap(w)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"notices": []any{
				map[string]any{
					"reference":     "RFQ-77",
					"title":         "Diagnostic kits",
					"agency":        "WHO",
					"country":       "Switzerland",
					"datePublished": "/Date(1757894400000)/",
				},
				map[string]any{
					"reference": "ITB-88",
					"title":     "Road construction",
				},
			},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, config.DefaultUNGMSettings())
	tenders, err := client.Crawl(context.Background())
	require.NoError(t, err)

	require.Len(t, tenders, 1)
	assert.Equal(t, "RFQ-77", tenders[0].ReferenceNo)
	assert.Equal(t, "WHO", tenders[0].Organization)
	require.NotNil(t, tenders[0].PublishedDate)
}

func TestCrawlJSONSniffedWithoutContentType(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			writeBootstrap(w)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = io.WriteString(w, `  {"results":[{"reference":"R-1","title":"PCR plates"}]}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, config.DefaultUNGMSettings())
	tenders, err := client.Crawl(context.Background())
	require.NoError(t, err)
	require.Len(t, tenders, 1)
	assert.Equal(t, "R-1", tenders[0].ReferenceNo)
}

func TestBootstrapSkipsNotFoundPlaceholder(t *testing.T) {
	t.Parallel()

	var bootstrapCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			bootstrapCalls++
			if bootstrapCalls == 1 {
				w.WriteHeader(http.StatusNotFound)
				_, _ = io.WriteString(w, "<html>Page not found</html>")
				return
			}
			writeBootstrap(w)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []any{map[string]any{"reference": "R-2", "title": "reagent pack"}},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, config.DefaultUNGMSettings())
	tenders, err := client.Crawl(context.Background())
	require.NoError(t, err)
	require.Len(t, tenders, 1)
	assert.Equal(t, 2, bootstrapCalls)
}

func TestBootstrapFailsWithoutFormToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "<html>no token here</html>")
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, config.DefaultUNGMSettings())
	_, err := client.Crawl(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no verification token")
}

func TestFormTokenFromInlineScript(t *testing.T) {
	t.Parallel()

	body := []byte(`<script>var antiForgery = {"__RequestVerificationToken": "SCRIPT-TOKEN"};</script>`)
	assert.Equal(t, "SCRIPT-TOKEN", extractFormToken(body))

	single := []byte(`var t = {'__RequestVerificationToken': 'SQ-TOKEN'};`)
	assert.Equal(t, "SQ-TOKEN", extractFormToken(single))
}

func TestSearchFallsBackToFormTokenHeader(t *testing.T) {
	t.Parallel()

	var headers []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			writeBootstrap(w)
			return
		}
		header := r.Header.Get("RequestVerificationToken")
		headers = append(headers, header)
		if header != "FORM-TOKEN" {
			http.Error(w, "bad token", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []any{map[string]any{"reference": "R-3", "title": "diagnostic swabs"}},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, config.DefaultUNGMSettings())
	tenders, err := client.Crawl(context.Background())
	require.NoError(t, err)
	require.Len(t, tenders, 1)
	require.Len(t, headers, 2)
	assert.Equal(t, "COOKIE-TOKEN:FORM-TOKEN", headers[0])
	assert.Equal(t, "FORM-TOKEN", headers[1])
}

func TestSearchRebootstrapsOnPlaceholderOnce(t *testing.T) {
	t.Parallel()

	var posts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			writeBootstrap(w)
			return
		}
		posts++
		// Both header variants of the first search round hit the placeholder.
		if posts <= 2 {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, "Page not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []any{map[string]any{"reference": "R-4", "title": "PCR consumables"}},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, config.DefaultUNGMSettings())
	tenders, err := client.Crawl(context.Background())
	require.NoError(t, err)
	require.Len(t, tenders, 1)
}

func TestCrawlNoKeywordFilterKeepsEverything(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			writeBootstrap(w)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []any{
				map[string]any{"reference": "A", "title": "Anything at all"},
				map[string]any{"reference": "B", "title": "Something else"},
			},
		})
	}))
	defer srv.Close()

	settings := config.DefaultUNGMSettings()
	settings.Keywords = []string{}
	client := newTestClient(t, srv.URL, settings)

	tenders, err := client.Crawl(context.Background())
	require.NoError(t, err)
	assert.Len(t, tenders, 2)
}

func TestBuildDeeplink(t *testing.T) {
	t.Parallel()

	url := BuildDeeplink(DeeplinkInput{
		Countries:   []string{"dk", " ke ", ""},
		UNSPSCCodes: []string{"41000000"},
		Keywords:    []string{"PCR", "", "reagent"},
	})
	assert.Equal(t,
		"https://www.ungm.org/Public/Notice?Country=DK&Country=KE&Unspsc=41000000&searchText=PCR+reagent",
		url)

	assert.Equal(t, "https://www.ungm.org/Public/Notice", BuildDeeplink(DeeplinkInput{}))
}

func TestDatasetsSyncAndCacheFallback(t *testing.T) {
	t.Parallel()

	var fail bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		switch r.URL.Path {
		case countryAPIPath:
			_ = json.NewEncoder(w).Encode([]any{
				map[string]any{"countryCode": "dk", "countryName": "Denmark"},
				map[string]any{"countryName": "missing code, skipped"},
			})
		case unspscAPIPath:
			assert.Equal(t, "segment", r.URL.Query().Get("level"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"items": []any{
					map[string]any{"segment": "41000000", "segmentTitle": "Lab equipment", "level": "segment"},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	httpClient, err := httpx.New(httpx.Config{MaxAttempts: 1}, zap.NewNop())
	require.NoError(t, err)
	datasets := NewDatasets(httpClient, t.TempDir(), zap.NewNop())
	datasets.baseURL = srv.URL

	countries, err := datasets.SyncCountries(context.Background())
	require.NoError(t, err)
	require.Len(t, countries, 1)
	assert.Equal(t, Country{Code: "DK", Name: "Denmark"}, countries[0])

	segments, err := datasets.SyncUNSPSCSegments(context.Background())
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, "41000000", segments[0].Code)
	assert.Equal(t, "Lab equipment", segments[0].Title)

	// The endpoint goes dark; the cache written above still serves.
	fail = true
	countries, err = datasets.SyncCountries(context.Background())
	require.NoError(t, err)
	require.Len(t, countries, 1)
	assert.Equal(t, "DK", countries[0].Code)
}

func TestDatasetsNoCacheSurfacesError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	httpClient, err := httpx.New(httpx.Config{MaxAttempts: 1}, zap.NewNop())
	require.NoError(t, err)
	datasets := NewDatasets(httpClient, t.TempDir(), zap.NewNop())
	datasets.baseURL = srv.URL

	_, err = datasets.SyncCountries(context.Background())
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, httpx.StatusOf(err))
}
