package config

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	ledgerdomain "github.com/rafaelgcostaa/adslibrary/internal/ledger/domain"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var pricingConfigPaths = []string{
	"/etc/adslibrary", // System config
	".",               // Current directory (dev mode)
}

// DefaultPrices is the price list used when no pricing.yml is present.
func DefaultPrices() map[ledgerdomain.ActionType]ledgerdomain.Credits {
	return map[ledgerdomain.ActionType]ledgerdomain.Credits{
		ledgerdomain.ActionSearch:          ledgerdomain.MustParseCredits("2.50"),
		ledgerdomain.ActionImageGeneration: ledgerdomain.MustParseCredits("5.00"),
		ledgerdomain.ActionTextGeneration:  ledgerdomain.MustParseCredits("3.00"),
	}
}

// Pricing is an immutable snapshot of the price list.
type Pricing struct {
	prices map[ledgerdomain.ActionType]ledgerdomain.Credits
}

func NewPricing(prices map[ledgerdomain.ActionType]ledgerdomain.Credits) Pricing {
	return Pricing{prices: maps.Clone(prices)}
}

// Price returns the cost of one action.
func (p Pricing) Price(action ledgerdomain.ActionType) (ledgerdomain.Credits, bool) {
	price, ok := p.prices[action]
	return price, ok
}

// Prices returns a copy of the whole price list.
func (p Pricing) Prices() map[ledgerdomain.ActionType]ledgerdomain.Credits {
	return maps.Clone(p.prices)
}

// PricingHolder serves the current price list and swaps it atomically
// when pricing.yml changes on disk.
type PricingHolder struct {
	current atomic.Pointer[Pricing]
}

// NewPricingHolder loads pricing.yml from the standard config paths and
// watches it for changes. Missing files fall back to DefaultPrices.
func NewPricingHolder(log *zap.Logger) (*PricingHolder, error) {
	return loadPricing(log, pricingConfigPaths, true)
}

// NewStaticPricingHolder returns a holder that never reloads.
func NewStaticPricingHolder(prices map[ledgerdomain.ActionType]ledgerdomain.Credits) *PricingHolder {
	holder := &PricingHolder{}
	p := NewPricing(prices)
	holder.current.Store(&p)
	return holder
}

func loadPricing(log *zap.Logger, paths []string, watch bool) (*PricingHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.pricing")

	v := viper.New()
	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("ADSLIBRARY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &PricingHolder{}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		defaults := NewPricing(DefaultPrices())
		holder.current.Store(&defaults)
		log.Info("pricing file not found, using defaults")
		return holder, nil
	}

	pricing, err := decodePricing(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(&pricing)
	log.Info("pricing loaded", zap.String("file", v.ConfigFileUsed()), zap.Int("actions", len(pricing.prices)))

	if watch {
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodePricing(v)
			if err != nil {
				log.Warn("invalid pricing ignored", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(&updated)
			log.Info("pricing reloaded", zap.String("file", e.Name), zap.Int("actions", len(updated.prices)))
		})
		v.WatchConfig()
	}

	return holder, nil
}

func (h *PricingHolder) Get() Pricing {
	return *h.current.Load()
}

func decodePricing(v *viper.Viper) (Pricing, error) {
	raw := v.GetStringMapString("pricing.actions")
	if len(raw) == 0 {
		return Pricing{}, errors.New("pricing.actions cannot be empty")
	}

	prices := make(map[ledgerdomain.ActionType]ledgerdomain.Credits, len(raw))
	for action, value := range raw {
		action = strings.ToLower(strings.TrimSpace(action))
		if action == "" {
			return Pricing{}, errors.New("pricing.actions has an empty action name")
		}
		price, err := ledgerdomain.ParseCredits(value)
		if err != nil {
			return Pricing{}, fmt.Errorf("pricing.actions.%s: %w", action, err)
		}
		if price <= 0 {
			return Pricing{}, fmt.Errorf("pricing.actions.%s must be positive", action)
		}
		prices[ledgerdomain.ActionType(action)] = price
	}
	return Pricing{prices: prices}, nil
}
