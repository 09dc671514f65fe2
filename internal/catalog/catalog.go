// Package catalog loads the pre-curated company table and scores rows
// against a startup profile.
package catalog

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"partnerscope/internal/models"
)

// Company is one curated table row.
type Company struct {
	ID       string
	Name     string
	Info     models.CandidateInfo
	Keywords []string
}

// Source produces the curated company set.
type Source interface {
	Companies(ctx context.Context) ([]Company, error)
}

// CSVSource reads companies from a header-mapped CSV export. Rows are cached
// after the first load; the table is read-only at runtime.
type CSVSource struct {
	path   string
	cached []Company
}

func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

func (s *CSVSource) Companies(ctx context.Context) ([]Company, error) {
	if s.cached != nil {
		return s.cached, nil
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open curated table %s: %w", s.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read curated table header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}

	field := func(row []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var companies []Company
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read curated table row: %w", err)
		}

		name := field(row, "name")
		if name == "" {
			continue
		}

		founded, _ := strconv.Atoi(field(row, "founded"))
		employees, _ := strconv.Atoi(field(row, "employee_count"))

		c := Company{
			ID:   field(row, "id"),
			Name: name,
			Info: models.CandidateInfo{
				Website:       field(row, "website"),
				Industry:      field(row, "industry"),
				Location:      field(row, "location"),
				Size:          field(row, "size"),
				Founded:       founded,
				EmployeeCount: employees,
				FundingTotal:  field(row, "funding_total"),
				LastFunding:   field(row, "last_funding"),
				Description:   field(row, "description"),
			},
		}
		if kw := field(row, "keywords"); kw != "" {
			for _, k := range strings.Split(kw, ";") {
				if k = strings.TrimSpace(k); k != "" {
					c.Keywords = append(c.Keywords, strings.ToLower(k))
				}
			}
		}
		if c.ID == "" {
			c.ID = "cur-" + models.NormalizeName(name)
		}
		companies = append(companies, c)
	}

	s.cached = companies
	return companies, nil
}

// Candidate converts a curated row into a session candidate.
func (c Company) Candidate(match *models.MatchAssessment) models.Candidate {
	return models.Candidate{
		ID:         c.ID,
		Name:       c.Name,
		Info:       c.Info,
		Provenance: models.ProvenanceCurated,
		Match:      match,
	}
}
