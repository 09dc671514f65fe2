package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partnerscope/internal/models"
)

const curatedCSV = `id,name,website,industry,location,founded,employee_count,funding_total,description,keywords
cur-acme,Acme Robotics,https://acme.example.com,Robotics,"Tokyo, Japan",2015,120,$30M,"Industrial robot arms for electronics assembly",robotics;automation
,Beta Analytics,https://beta.example.com,Data Analytics,"Berlin, Germany",2018,40,,"Streaming analytics platform",analytics;data
cur-nameless,,https://ignored.example.com,Misc,,2010,5,,,
`

func writeCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "companies.csv")
	require.NoError(t, os.WriteFile(path, []byte(curatedCSV), 0o644))
	return path
}

func TestCSVSourceParsesRows(t *testing.T) {
	src := NewCSVSource(writeCSV(t))
	companies, err := src.Companies(context.Background())
	require.NoError(t, err)
	require.Len(t, companies, 2, "nameless rows are skipped")

	acme := companies[0]
	assert.Equal(t, "cur-acme", acme.ID)
	assert.Equal(t, "Robotics", acme.Info.Industry)
	assert.Equal(t, 2015, acme.Info.Founded)
	assert.Equal(t, 120, acme.Info.EmployeeCount)
	assert.Equal(t, []string{"robotics", "automation"}, acme.Keywords)

	beta := companies[1]
	assert.Equal(t, "cur-beta analytics", beta.ID, "missing ids derive from the name")
}

func TestCSVSourceCaches(t *testing.T) {
	path := writeCSV(t)
	src := NewCSVSource(path)
	first, err := src.Companies(context.Background())
	require.NoError(t, err)

	// Removing the file does not invalidate the cache.
	require.NoError(t, os.Remove(path))
	second, err := src.Companies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCSVSourceMissingFile(t *testing.T) {
	src := NewCSVSource(filepath.Join(t.TempDir(), "absent.csv"))
	_, err := src.Companies(context.Background())
	assert.Error(t, err)
}

func TestCompanyCandidateConversion(t *testing.T) {
	c := Company{ID: "cur-x", Name: "X Labs", Info: models.CandidateInfo{Industry: "Biotech"}}
	match := &models.MatchAssessment{MatchScore: 72, RecommendedAction: "pursue"}

	cand := c.Candidate(match)
	assert.Equal(t, "cur-x", cand.ID)
	assert.Equal(t, models.ProvenanceCurated, cand.Provenance)
	assert.Equal(t, 72.0, cand.Match.MatchScore)
}
