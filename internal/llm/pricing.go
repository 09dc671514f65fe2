package llm

import (
	"fmt"

	"github.com/spf13/viper"
)

// ModelPrice holds per-1M-token rates for one model id.
type ModelPrice struct {
	InputPerM  float64 `mapstructure:"input_per_m"`
	OutputPerM float64 `mapstructure:"output_per_m"`
}

// PriceTable maps model ids to rates plus the flat web-search call rate.
// Read-only after load.
type PriceTable struct {
	Models           map[string]ModelPrice `mapstructure:"models"`
	WebSearchPerCall float64               `mapstructure:"web_search_per_call"`
}

// DefaultPriceTable covers the models the engine ships configured with.
func DefaultPriceTable() *PriceTable {
	return &PriceTable{
		Models: map[string]ModelPrice{
			"gpt-4o-mini": {InputPerM: 0.15, OutputPerM: 0.60},
			"gpt-4.1":     {InputPerM: 2.00, OutputPerM: 8.00},
		},
		WebSearchPerCall: 0.01,
	}
}

// LoadPriceTable reads the YAML price table, falling back to defaults when no
// path is configured. Unknown models cost zero rather than failing a call.
func LoadPriceTable(path string) (*PriceTable, error) {
	if path == "" {
		return DefaultPriceTable(), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read price table %s: %w", path, err)
	}

	var table PriceTable
	if err := v.Unmarshal(&table); err != nil {
		return nil, fmt.Errorf("failed to unmarshal price table: %w", err)
	}
	if table.Models == nil {
		table.Models = map[string]ModelPrice{}
	}
	return &table, nil
}

// TokenCost converts provider-reported usage into dollars for a model.
func (t *PriceTable) TokenCost(model string, inputTokens, outputTokens int) (inputCost, outputCost float64) {
	price, ok := t.Models[model]
	if !ok {
		return 0, 0
	}
	inputCost = float64(inputTokens) / 1_000_000 * price.InputPerM
	outputCost = float64(outputTokens) / 1_000_000 * price.OutputPerM
	return inputCost, outputCost
}

// WebSearchCost prices a number of web-search tool invocations.
func (t *PriceTable) WebSearchCost(calls int) float64 {
	return float64(calls) * t.WebSearchPerCall
}
