package cmd

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tenderwatch/crawler/internal/config"
	"github.com/tenderwatch/crawler/internal/source/ungm"
	"github.com/tenderwatch/crawler/internal/store"
	"github.com/tenderwatch/crawler/internal/tender"
)

type fakeApp struct {
	report  tender.CrawlReport
	crawled int
	closed  bool
}

func (f *fakeApp) Close() { f.closed = true }

func (f *fakeApp) Logger() *zap.Logger { return zap.NewNop() }

func (f *fakeApp) Store() store.TenderStore { return nil }

func (f *fakeApp) Config() config.Config { return config.Config{} }

func (f *fakeApp) Datasets() *ungm.Datasets { return nil }

func (f *fakeApp) Crawl(context.Context) tender.CrawlReport {
	f.crawled++
	return f.report
}

func withFakeApp(t *testing.T, fake *fakeApp) {
	t.Helper()
	original := newApp
	newApp = func(context.Context) (App, error) { return fake, nil }
	t.Cleanup(func() { newApp = original })
}

func TestCrawlCommandPrintsReport(t *testing.T) {
	fake := &fakeApp{report: tender.CrawlReport{
		RunID:  "run-42",
		Counts: map[tender.Site]int{tender.SiteTED: 3},
	}}
	withFakeApp(t, fake)

	root := newRootCmd()
	var out strings.Builder
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"crawl"})

	require.NoError(t, root.Execute())
	assert.Equal(t, 1, fake.crawled)
	assert.True(t, fake.closed)
	assert.Contains(t, out.String(), "run-42")
	assert.Contains(t, out.String(), `"TED": 3`)
}

func TestRootCommandListsSubcommands(t *testing.T) {
	root := newRootCmd()
	names := make([]string, 0, len(root.Commands()))
	for _, sub := range root.Commands() {
		names = append(names, sub.Name())
	}
	assert.Contains(t, names, "crawl")
	assert.Contains(t, names, "serve")
}
