package ungm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/tenderwatch/crawler/internal/httpx"
	"github.com/tenderwatch/crawler/internal/normalize"
)

const (
	countryAPIPath = "/Public/Api/Country"
	unspscAPIPath  = "/Public/Api/UNSPSC"

	countryCacheFile = "countries.json"
	unspscCacheFile  = "unspsc_segments.json"
)

// Country is one entry of the country helper dataset.
type Country struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// UNSPSC is one segment entry of the UNSPSC helper dataset.
type UNSPSC struct {
	Code  string `json:"code"`
	Title string `json:"title"`
	Level string `json:"level,omitempty"`
}

// Datasets downloads the helper datasets the deeplink filters refer to,
// keeping a JSON file cache that serves as a fallback when the site is
// unreachable.
type Datasets struct {
	httpClient *httpx.Client
	logger     *zap.Logger
	cacheDir   string
	baseURL    string
}

// NewDatasets builds a dataset syncer caching under cacheDir.
func NewDatasets(httpClient *httpx.Client, cacheDir string, logger *zap.Logger) *Datasets {
	return &Datasets{
		httpClient: httpClient,
		logger:     logger,
		cacheDir:   cacheDir,
		baseURL:    BaseURL,
	}
}

// SyncCountries refreshes and returns the country dataset. Malformed
// entries are skipped, not fatal.
func (d *Datasets) SyncCountries(ctx context.Context) ([]Country, error) {
	records, err := d.fetchDataset(ctx, countryAPIPath, nil, countryCacheFile)
	if err != nil {
		return nil, err
	}

	countries := make([]Country, 0, len(records))
	for _, record := range records {
		code := normalize.PickString(record, "code", "countryCode", "isoCode")
		name := normalize.PickString(record, "name", "countryName", "description")
		if code == "" || name == "" {
			d.logger.Debug("skipping malformed country entry")
			continue
		}
		countries = append(countries, Country{Code: strings.ToUpper(code), Name: name})
	}
	return countries, nil
}

// SyncUNSPSCSegments refreshes and returns the segment-level UNSPSC dataset.
func (d *Datasets) SyncUNSPSCSegments(ctx context.Context) ([]UNSPSC, error) {
	records, err := d.fetchDataset(ctx, unspscAPIPath, url.Values{"level": {"segment"}}, unspscCacheFile)
	if err != nil {
		return nil, err
	}

	segments := make([]UNSPSC, 0, len(records))
	for _, record := range records {
		code := normalize.PickString(record, "code", "segment", "segmentCode")
		title := normalize.PickString(record, "title", "name", "segmentTitle")
		if code == "" || title == "" {
			d.logger.Debug("skipping malformed UNSPSC entry")
			continue
		}
		segments = append(segments, UNSPSC{
			Code:  code,
			Title: title,
			Level: normalize.PickString(record, "level", "segmentLevel"),
		})
	}
	return segments, nil
}

// fetchDataset downloads one dataset and refreshes its cache file. On any
// download or decode failure it falls back to the cached copy; the error is
// surfaced only when no cache exists either.
func (d *Datasets) fetchDataset(ctx context.Context, path string, params url.Values, cacheFile string) ([]map[string]any, error) {
	records, err := d.download(ctx, path, params)
	if err == nil {
		d.writeCache(cacheFile, records)
		return records, nil
	}

	d.logger.Warn("dataset download failed, trying cache",
		zap.String("path", path), zap.Error(err))
	cached, cacheErr := d.readCache(cacheFile)
	if cacheErr != nil {
		return nil, err
	}
	return cached, nil
}

func (d *Datasets) download(ctx context.Context, path string, params url.Values) ([]map[string]any, error) {
	datasetURL := d.baseURL + path
	if len(params) > 0 {
		datasetURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, datasetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build dataset request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, httpx.ErrorFromResponse(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read dataset response: %w", err)
	}
	return decodeDataset(body)
}

// decodeDataset accepts either a bare list or a list wrapped under one of
// the usual container keys.
func decodeDataset(body []byte) ([]map[string]any, error) {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}

	switch v := payload.(type) {
	case []any:
		return recordList(v), nil
	case map[string]any:
		for _, key := range []string{"items", "results", "data"} {
			if list, ok := v[key].([]any); ok {
				return recordList(list), nil
			}
		}
		return nil, fmt.Errorf("unexpected dataset payload shape")
	default:
		return nil, fmt.Errorf("expected list dataset payload")
	}
}

func recordList(list []any) []map[string]any {
	records := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if record, ok := item.(map[string]any); ok {
			records = append(records, record)
		}
	}
	return records
}

func (d *Datasets) cachePath(file string) string {
	return filepath.Join(d.cacheDir, file)
}

func (d *Datasets) writeCache(file string, records []map[string]any) {
	if d.cacheDir == "" {
		return
	}
	if err := os.MkdirAll(d.cacheDir, 0o755); err != nil {
		d.logger.Warn("cannot create cache dir", zap.String("dir", d.cacheDir), zap.Error(err))
		return
	}
	encoded, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		d.logger.Warn("cannot encode dataset cache", zap.Error(err))
		return
	}
	if err := os.WriteFile(d.cachePath(file), encoded, 0o644); err != nil {
		d.logger.Warn("cannot write dataset cache", zap.String("file", file), zap.Error(err))
		return
	}
	d.logger.Info("dataset cache updated", zap.String("file", file), zap.Int("records", len(records)))
}

func (d *Datasets) readCache(file string) ([]map[string]any, error) {
	if d.cacheDir == "" {
		return nil, os.ErrNotExist
	}
	body, err := os.ReadFile(d.cachePath(file))
	if err != nil {
		return nil, err
	}
	var records []map[string]any
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("decode dataset cache: %w", err)
	}
	return records, nil
}
