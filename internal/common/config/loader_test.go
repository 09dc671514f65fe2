package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
app:
  name: partnerscope
  environment: test
llm:
  api_key: test-key
catalog:
  csv_path: ./data/curated_companies.csv
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "partnerscope", cfg.App.Name)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "https://api.openai.com/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "gpt-4.1", cfg.LLM.Models.Evaluation)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Models.Refinement)
	assert.Equal(t, 8, cfg.LLM.AnalystWorkers)
	assert.Equal(t, 16, cfg.LLM.MaxConcurrent)
	assert.Equal(t, 7200000, cfg.Session.TTL)
	assert.Equal(t, 5, cfg.Session.HistoryDepth)
	assert.Equal(t, 300000, cfg.Search.Ceiling)
}

func TestLoadFromFileExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "expanded-key")
	path := writeConfigFile(t, `
llm:
  api_key: ${TEST_LLM_KEY}
catalog:
  csv_path: ./data/curated_companies.csv
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "expanded-key", cfg.LLM.APIKey)
}

func TestValidateConfig(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	assert.Error(t, validateConfig(cfg), "api key is required")

	cfg.LLM.APIKey = "k"
	assert.Error(t, validateConfig(cfg), "a catalog source is required")

	cfg.Catalog.CSVPath = "companies.csv"
	assert.NoError(t, validateConfig(cfg))

	cfg.LLM.AnalystWorkers = cfg.LLM.MaxConcurrent + 1
	assert.Error(t, validateConfig(cfg))
}

func TestPostgresConfig(t *testing.T) {
	pg := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "partners", SSLMode: "disable"}
	assert.True(t, pg.Enabled())
	assert.Contains(t, pg.GetDSN(), "dbname=partners")

	assert.False(t, PostgresConfig{Host: "db"}.Enabled())
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, GetDuration(1500))
	assert.Equal(t, time.Duration(0), GetDuration(0))
}
