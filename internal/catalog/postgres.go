package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"partnerscope/internal/common/config"
	"partnerscope/internal/common/logger"
	"partnerscope/internal/models"
)

const companiesQuery = `
	SELECT id, name,
	       COALESCE(website, ''), COALESCE(industry, ''), COALESCE(location, ''),
	       COALESCE(size, ''), COALESCE(founded, 0), COALESCE(employee_count, 0),
	       COALESCE(funding_total, ''), COALESCE(last_funding, ''),
	       COALESCE(description, ''), COALESCE(keywords, '')
	FROM curated_companies
	ORDER BY name`

// PostgresSource reads the curated table from a single Postgres table.
type PostgresSource struct {
	db     *sql.DB
	logger logger.Logger
}

// OpenPostgres connects using the configured DSN and verifies the
// connection before returning a source.
func OpenPostgres(cfg config.PostgresConfig, log logger.Logger) (*PostgresSource, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return NewPostgresSource(db, log), nil
}

// NewPostgresSource wraps an existing handle, used by tests with sqlmock.
func NewPostgresSource(db *sql.DB, log logger.Logger) *PostgresSource {
	return &PostgresSource{
		db:     db,
		logger: log.With(map[string]interface{}{"component": "catalog-postgres"}),
	}
}

func (s *PostgresSource) Companies(ctx context.Context) ([]Company, error) {
	rows, err := s.db.QueryContext(ctx, companiesQuery)
	if err != nil {
		return nil, fmt.Errorf("query curated companies: %w", err)
	}
	defer rows.Close()

	var companies []Company
	for rows.Next() {
		var c Company
		var keywords string
		err := rows.Scan(
			&c.ID, &c.Name,
			&c.Info.Website, &c.Info.Industry, &c.Info.Location,
			&c.Info.Size, &c.Info.Founded, &c.Info.EmployeeCount,
			&c.Info.FundingTotal, &c.Info.LastFunding,
			&c.Info.Description, &keywords,
		)
		if err != nil {
			return nil, fmt.Errorf("scan curated company: %w", err)
		}
		for _, k := range strings.Split(keywords, ";") {
			if k = strings.TrimSpace(strings.ToLower(k)); k != "" {
				c.Keywords = append(c.Keywords, k)
			}
		}
		if c.ID == "" {
			c.ID = "cur-" + models.NormalizeName(c.Name)
		}
		companies = append(companies, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate curated companies: %w", err)
	}

	s.logger.Debug("curated table loaded", map[string]interface{}{"count": len(companies)})
	return companies, nil
}

// Close releases the underlying pool.
func (s *PostgresSource) Close() error {
	return s.db.Close()
}
