// Package store declares the persistence interface for canonical tenders.
package store

import (
	"context"
	"time"

	"github.com/tenderwatch/crawler/internal/tender"
)

// Filter narrows a tender listing.
type Filter struct {
	// Site restricts to one source when non-empty.
	Site tender.Site
	// Keyword matches the title case-insensitively as a substring.
	Keyword string
	// PublishedFrom keeps only records published on or after this instant.
	PublishedFrom *time.Time
	// Limit and Offset page the result. Limit <= 0 falls back to a default.
	Limit  int
	Offset int
}

// TenderStore persists canonical tender records.
type TenderStore interface {
	// Upsert inserts the record or overwrites every non-key field of the
	// existing row with the same (site, reference_no), stamping
	// last_updated either way.
	Upsert(ctx context.Context, t tender.Tender) error
	// List returns one page of tenders plus the total count matching the
	// filter, newest publications first.
	List(ctx context.Context, filter Filter) ([]tender.Tender, int, error)
	// Close releases the underlying resources.
	Close()
}
