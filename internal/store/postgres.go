package store

import (
	"context"
	"fmt"
	"regexp"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tenderwatch/crawler/internal/clock"
	"github.com/tenderwatch/crawler/internal/tender"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultListLimit = 50

// PostgresConfig controls the Postgres connection pool behind the store.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore keeps tenders in a single Postgres table keyed by
// (site, reference_no).
type PostgresStore struct {
	pool  pgxPool
	table string
	clock clock.Clock
}

// NewPostgresStore connects a pool using the provided config.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, clk clock.Clock) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "tenders"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresStore{pool: pool, table: table, clock: clk}, nil
}

// NewPostgresStoreWithPool constructs a store from an existing pool,
// primarily for testing.
func NewPostgresStoreWithPool(pool pgxPool, table string, clk clock.Clock) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "tenders"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresStore{pool: pool, table: table, clock: clk}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Upsert inserts or overwrites the row for the record's key, stamping
// last_updated with the current time on both paths.
func (s *PostgresStore) Upsert(ctx context.Context, t tender.Tender) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("tender store is not configured")
	}
	if t.Site == "" || t.ReferenceNo == "" {
		return fmt.Errorf("tender key (site, reference_no) is required")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	site,
	reference_no,
	title,
	description,
	published_date,
	deadline_date,
	organization,
	notice_type,
	country,
	detail_url,
	last_updated
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
ON CONFLICT (site, reference_no) DO UPDATE SET
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	published_date = EXCLUDED.published_date,
	deadline_date = EXCLUDED.deadline_date,
	organization = EXCLUDED.organization,
	notice_type = EXCLUDED.notice_type,
	country = EXCLUDED.country,
	detail_url = EXCLUDED.detail_url,
	last_updated = EXCLUDED.last_updated`, s.table)

	args := []any{
		string(t.Site),
		t.ReferenceNo,
		t.Title,
		t.Description,
		t.PublishedDate,
		t.DeadlineDate,
		t.Organization,
		t.NoticeType,
		t.Country,
		t.DetailURL,
		s.clock.Now(),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert tender: %w", err)
	}
	return nil
}

// List pages through stored tenders, newest publications first, and
// reports the total match count alongside.
func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]tender.Tender, int, error) {
	if s == nil || s.pool == nil {
		return nil, 0, fmt.Errorf("tender store is not configured")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	builder := sq.Select(
		"site", "reference_no", "title", "description",
		"published_date", "deadline_date", "organization",
		"notice_type", "country", "detail_url", "last_updated",
	).
		From(s.table).
		PlaceholderFormat(sq.Dollar)
	countBuilder := sq.Select("COUNT(*)").From(s.table).PlaceholderFormat(sq.Dollar)

	if filter.Site != "" {
		builder = builder.Where(sq.Eq{"site": string(filter.Site)})
		countBuilder = countBuilder.Where(sq.Eq{"site": string(filter.Site)})
	}
	if filter.Keyword != "" {
		pattern := "%" + filter.Keyword + "%"
		builder = builder.Where(sq.ILike{"title": pattern})
		countBuilder = countBuilder.Where(sq.ILike{"title": pattern})
	}
	if filter.PublishedFrom != nil {
		builder = builder.Where(sq.GtOrEq{"published_date": *filter.PublishedFrom})
		countBuilder = countBuilder.Where(sq.GtOrEq{"published_date": *filter.PublishedFrom})
	}

	builder = builder.
		OrderBy("published_date DESC NULLS LAST", "reference_no ASC").
		Limit(uint64(limit)).
		Offset(uint64(offset))

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tenders: %w", err)
	}
	defer rows.Close()

	var tenders []tender.Tender
	for rows.Next() {
		var t tender.Tender
		if err := rows.Scan(
			&t.Site, &t.ReferenceNo, &t.Title, &t.Description,
			&t.PublishedDate, &t.DeadlineDate, &t.Organization,
			&t.NoticeType, &t.Country, &t.DetailURL, &t.LastUpdated,
		); err != nil {
			return nil, 0, fmt.Errorf("scan tender row: %w", err)
		}
		tenders = append(tenders, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate tender rows: %w", err)
	}

	countQuery, countArgs, err := countBuilder.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := s.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tenders: %w", err)
	}
	return tenders, total, nil
}
