package postgres

import (
	"context"
	"embed"
	"fmt"
	"sort"

	"github.com/adwski/waypoint/backend/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	maxConns = 10
	minConns = 1
)

// Store keeps reviews in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	config.MaxConns = maxConns
	config.MinConns = minConns

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate applies embedded migrations that are not recorded in schema_migrations yet.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if err = s.apply(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) apply(ctx context.Context, name string) error {
	var applied bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)", name).Scan(&applied)
	if err != nil {
		return fmt.Errorf("check migration %s: %w", name, err)
	}
	if applied {
		return nil
	}

	sql, err := migrations.ReadFile("migrations/" + name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("execute migration %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		return nil
	})
}

func (s *Store) Insert(ctx context.Context, review model.Review) (model.Review, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO reviews (user_id, lat, lon, rating, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		review.UserID, review.Lat, review.Lon, review.Rating, review.Comment, review.CreatedAt,
	).Scan(&review.ID, &review.CreatedAt)
	if err != nil {
		return model.Review{}, fmt.Errorf("insert review: %w", err)
	}
	return review, nil
}

// QueryByLocation returns reviews at the given rounded point, newest first.
func (s *Store) QueryByLocation(ctx context.Context, lat, lon float64) ([]model.Review, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, lat, lon, rating, comment, created_at
		FROM reviews
		WHERE lat = $1 AND lon = $2
		ORDER BY created_at DESC, id DESC`,
		lat, lon,
	)
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	reviews, err := pgx.CollectRows(rows, pgx.RowToStructByPos[model.Review])
	if err != nil {
		return nil, fmt.Errorf("scan reviews: %w", err)
	}
	return reviews, nil
}

func (s *Store) Close() {
	s.pool.Close()
}
