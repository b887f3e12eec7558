package pricing

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/meterlab/tokenmeter/internal/core/usage"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// rawModelPrice is the YAML shape of one model's price card. Prices are USD
// per million tokens, kept as strings so decimal parsing controls precision.
type rawModelPrice struct {
	Model         string `yaml:"model"`
	Input         string `yaml:"input"`
	CacheCreation string `yaml:"cache_creation"`
	CacheRead     string `yaml:"cache_read"`
	Output        string `yaml:"output"`
}

type rawPriceFile struct {
	Models []rawModelPrice `yaml:"models"`
}

// ModelPrice holds parsed per-million-token rates for one model.
type ModelPrice struct {
	Input         decimal.Decimal
	CacheCreation decimal.Decimal
	CacheRead     decimal.Decimal
	Output        decimal.Decimal
}

// Table maps model identifiers to their price cards. A nil or empty table is
// valid and simply prices nothing.
type Table struct {
	models map[string]ModelPrice
}

var million = decimal.NewFromInt(1_000_000)

// Load reads a price table from a YAML file. A missing file is not an error:
// pricing is optional and the service runs without cost estimates.
func Load(path string) (*Table, error) {
	if path == "" {
		return &Table{models: map[string]ModelPrice{}}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("[Pricing] No price table found, cost estimates disabled", "path", path)
			return &Table{models: map[string]ModelPrice{}}, nil
		}
		return nil, fmt.Errorf("failed to read price table %s: %w", path, err)
	}

	return Parse(data)
}

// Parse builds a table from raw YAML. Every price string must parse as a
// decimal; an empty string means zero.
func Parse(data []byte) (*Table, error) {
	var raw rawPriceFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse price table: %w", err)
	}

	models := make(map[string]ModelPrice, len(raw.Models))
	for i, m := range raw.Models {
		if m.Model == "" {
			return nil, fmt.Errorf("price table entry %d: missing model name", i)
		}
		if _, ok := models[m.Model]; ok {
			return nil, fmt.Errorf("price table entry %d: duplicate model %q", i, m.Model)
		}

		price := ModelPrice{}
		var err error
		if price.Input, err = parseRate(m.Input); err != nil {
			return nil, fmt.Errorf("price table model %q: input: %w", m.Model, err)
		}
		if price.CacheCreation, err = parseRate(m.CacheCreation); err != nil {
			return nil, fmt.Errorf("price table model %q: cache_creation: %w", m.Model, err)
		}
		if price.CacheRead, err = parseRate(m.CacheRead); err != nil {
			return nil, fmt.Errorf("price table model %q: cache_read: %w", m.Model, err)
		}
		if price.Output, err = parseRate(m.Output); err != nil {
			return nil, fmt.Errorf("price table model %q: output: %w", m.Model, err)
		}

		models[m.Model] = price
	}

	slog.Info("[Pricing] Loaded price table", "models", len(models))
	return &Table{models: models}, nil
}

func parseRate(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	rate, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid rate %q: %w", s, err)
	}
	if rate.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative rate %q", s)
	}
	return rate, nil
}

// Price returns the price card for a model.
func (t *Table) Price(model string) (ModelPrice, bool) {
	if t == nil {
		return ModelPrice{}, false
	}
	p, ok := t.models[model]
	return p, ok
}

// Len reports the number of priced models.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.models)
}

// Estimate computes the USD cost of the given totals at the model's rates.
// Returns false when the model is not priced.
func (t *Table) Estimate(model string, totals usage.Totals) (decimal.Decimal, bool) {
	price, ok := t.Price(model)
	if !ok {
		return decimal.Zero, false
	}

	cost := decimal.NewFromInt(totals.InputTokens).Mul(price.Input).
		Add(decimal.NewFromInt(totals.CacheCreationTokens).Mul(price.CacheCreation)).
		Add(decimal.NewFromInt(totals.CacheReadTokens).Mul(price.CacheRead)).
		Add(decimal.NewFromInt(totals.OutputTokens).Mul(price.Output)).
		Div(million)

	return cost, true
}
