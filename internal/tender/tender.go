// Package tender defines the canonical notice record shared across subsystems.
package tender

import "time"

// Site is the short code identifying the origin of a notice.
type Site string

// Known sources. The crawl order in the orchestrator follows this sequence.
const (
	SiteTED  Site = "TED"
	SiteUNGM Site = "UNGM"
	SiteSAM  Site = "SAM"
)

// Valid reports whether s is one of the known source codes.
func (s Site) Valid() bool {
	switch s {
	case SiteTED, SiteUNGM, SiteSAM:
		return true
	}
	return false
}

// Tender is the canonical procurement notice persisted by the store.
// (Site, ReferenceNo) is the uniqueness key; every other field is a
// last-write-wins merge. Absent timestamps are nil, not zero values.
type Tender struct {
	Site          Site       `json:"site" db:"site"`
	ReferenceNo   string     `json:"reference_no" db:"reference_no"`
	Title         string     `json:"title" db:"title"`
	Description   string     `json:"description" db:"description"`
	PublishedDate *time.Time `json:"published_date,omitempty" db:"published_date"`
	DeadlineDate  *time.Time `json:"deadline_date,omitempty" db:"deadline_date"`
	Organization  string     `json:"organization" db:"organization"`
	NoticeType    string     `json:"notice_type" db:"notice_type"`
	Country       string     `json:"country" db:"country"`
	DetailURL     string     `json:"detail_url" db:"detail_url"`

	// LastUpdated is stamped by the persistence gateway on every write.
	LastUpdated time.Time `json:"last_updated" db:"last_updated"`
}

// Key returns the uniqueness key for logging and dedup maps.
func (t Tender) Key() string {
	return string(t.Site) + "/" + t.ReferenceNo
}

// CrawlReport aggregates the outcome of one orchestration run.
type CrawlReport struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Counts    map[Site]int  `json:"counts"`

	// Failures maps a source to the reason its crawl returned zero or
	// aborted. A source absent from this map completed normally.
	Failures map[Site]string `json:"failures,omitempty"`
}

// Total sums the per-source counts.
func (r CrawlReport) Total() int {
	total := 0
	for _, n := range r.Counts {
		total += n
	}
	return total
}
