package config

import (
	"os"
	"path/filepath"
	"testing"

	ledgerdomain "github.com/rafaelgcostaa/adslibrary/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadPricingDefaultsWhenMissing(t *testing.T) {
	holder, err := loadPricing(zap.NewNop(), []string{t.TempDir()}, false)
	require.NoError(t, err)

	price, ok := holder.Get().Price(ledgerdomain.ActionSearch)
	require.True(t, ok)
	assert.Equal(t, "2.50", price.String())

	price, ok = holder.Get().Price(ledgerdomain.ActionImageGeneration)
	require.True(t, ok)
	assert.Equal(t, ledgerdomain.Credits(500), price)

	_, ok = holder.Get().Price("favorite")
	assert.False(t, ok)
}

func TestLoadPricingFromFile(t *testing.T) {
	dir := t.TempDir()
	writePricing(t, dir, `
pricing:
  actions:
    search: "1.25"
    video_generation: "12.00"
`)

	holder, err := loadPricing(zap.NewNop(), []string{dir}, false)
	require.NoError(t, err)

	prices := holder.Get().Prices()
	assert.Len(t, prices, 2)
	assert.Equal(t, ledgerdomain.Credits(125), prices[ledgerdomain.ActionSearch])
	assert.Equal(t, ledgerdomain.Credits(1200), prices["video_generation"])
}

func TestLoadPricingRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"too many decimals": "pricing:\n  actions:\n    search: \"2.505\"\n",
		"zero price":        "pricing:\n  actions:\n    search: \"0\"\n",
		"not a number":      "pricing:\n  actions:\n    search: \"cheap\"\n",
		"empty":             "pricing:\n  actions: {}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writePricing(t, dir, body)
			_, err := loadPricing(zap.NewNop(), []string{dir}, false)
			assert.Error(t, err)
		})
	}
}

func TestPricesReturnsCopy(t *testing.T) {
	holder := NewStaticPricingHolder(DefaultPrices())
	prices := holder.Get().Prices()
	prices[ledgerdomain.ActionSearch] = 1

	price, _ := holder.Get().Price(ledgerdomain.ActionSearch)
	assert.Equal(t, ledgerdomain.Credits(250), price)
}

func writePricing(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "pricing.yml"), []byte(body), 0o600); err != nil {
		t.Fatalf("write pricing: %v", err)
	}
}
