package stores

import (
	"context"
	"database/sql"
	"fmt"

	"price-feed/src/logger"
	"price-feed/src/models"

	_ "github.com/lib/pq"
)

// -----------------------------------------------------------------------------
// Postgres Reference Store
// -----------------------------------------------------------------------------

// PostgresReferenceStore implements interfaces.IReferenceStore against the
// brokerage's symbol table. The manager treats it as the external
// reference-data collaborator and tolerates its failures.
type PostgresReferenceStore struct {
	Name   string
	Logger *logger.Logger
	db     *sql.DB
}

// -----------------------------------------------------------------------------

// NewPostgresReferenceStore opens the database and verifies connectivity.
func NewPostgresReferenceStore(config *models.MPostgresConfig, log *logger.Logger) (*PostgresReferenceStore, error) {
	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresReferenceStore{
		Name:   "PostgresReferenceStore",
		Logger: log,
		db:     db,
	}, nil
}

// -----------------------------------------------------------------------------

// Load fetches the complete reference-entry set.
func (s *PostgresReferenceStore) Load(ctx context.Context) ([]models.MReferenceEntry, error) {
	const query = `
		SELECT symbol, market_type, display_name, pip_value, min_lot, max_lot, is_active, display_order
		FROM symbols
		ORDER BY display_order, symbol`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reference query failed: %w", err)
	}
	defer rows.Close()

	var entries []models.MReferenceEntry
	for rows.Next() {
		var entry models.MReferenceEntry
		var marketType string
		if err := rows.Scan(&entry.Symbol, &marketType, &entry.Name, &entry.PipValue,
			&entry.MinLot, &entry.MaxLot, &entry.IsActive, &entry.DisplayOrder); err != nil {
			return nil, fmt.Errorf("reference row scan failed: %w", err)
		}
		entry.Type = models.MFeedType(marketType)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reference rows failed: %w", err)
	}

	s.Logger.Debug("%s : loaded %d reference rows", s.Name, len(entries))
	return entries, nil
}

// -----------------------------------------------------------------------------

// Close releases the database handle.
func (s *PostgresReferenceStore) Close() error {
	return s.db.Close()
}
