package pricing

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Zone is one manually maintained shipping rate: base cost plus a per-kg
// component, matched by region code.
type Zone struct {
	Name      string
	Regions   []string
	BaseCost  decimal.Decimal
	CostPerKg decimal.Decimal
}

// CarrierQuoter supplies external carrier rates. It is opaque to pricing:
// implementations make their own network calls and pick their own carriers.
type CarrierQuoter interface {
	CheapestQuote(ctx context.Context, regionCode string, weightKg decimal.Decimal) (decimal.Decimal, error)
}

type ShippingInput struct {
	RegionCode string
	// Pickup and quote orders skip shipping entirely.
	Pickup bool
	// FreeShippingThreshold comes from tenant policy; nil disables it.
	FreeShippingThreshold *decimal.Decimal
}

type ShippingCalculator struct {
	zones  []Zone
	quoter CarrierQuoter
}

func NewShippingCalculator(zones []Zone, quoter CarrierQuoter) *ShippingCalculator {
	return &ShippingCalculator{zones: zones, quoter: quoter}
}

// LoadZones reads the ops-maintained zone table from a YAML file. Costs are
// written as strings in the file and parsed as exact decimals.
func LoadZones(path string) ([]Zone, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read shipping zones file: %w", err)
	}

	var doc struct {
		Zones []struct {
			Name      string   `yaml:"name"`
			Regions   []string `yaml:"regions"`
			BaseCost  string   `yaml:"base_cost"`
			CostPerKg string   `yaml:"cost_per_kg"`
		} `yaml:"zones"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse shipping zones file: %w", err)
	}

	zones := make([]Zone, 0, len(doc.Zones))
	for _, raw := range doc.Zones {
		zone := Zone{Name: raw.Name, Regions: raw.Regions}
		if zone.BaseCost, err = decimal.NewFromString(raw.BaseCost); err != nil {
			return nil, fmt.Errorf("zone %q: invalid base_cost %q: %w", raw.Name, raw.BaseCost, err)
		}
		// Legacy zone rows sometimes omit the per-kg component; treat it
		// as zero instead of rejecting the whole table.
		zone.CostPerKg = decimal.Zero
		if raw.CostPerKg != "" {
			if zone.CostPerKg, err = decimal.NewFromString(raw.CostPerKg); err != nil {
				return nil, fmt.Errorf("zone %q: invalid cost_per_kg %q: %w", raw.Name, raw.CostPerKg, err)
			}
		}
		zones = append(zones, zone)
	}
	return zones, nil
}

// Cost resolves the shipping charge: free above the tenant threshold, zone
// rate when a zone matches, cheapest carrier quote as fallback, and zero
// when neither source applies (store pickup, quotes, unknown regions).
func (c *ShippingCalculator) Cost(ctx context.Context, in ShippingInput, subtotal, weightKg decimal.Decimal) (decimal.Decimal, error) {
	if in.Pickup {
		return decimal.Zero, nil
	}

	if in.FreeShippingThreshold != nil && subtotal.GreaterThanOrEqual(*in.FreeShippingThreshold) {
		return decimal.Zero, nil
	}

	if zone := c.matchZone(in.RegionCode); zone != nil {
		return zone.BaseCost.Add(zone.CostPerKg.Mul(weightKg)), nil
	}

	if c.quoter != nil && in.RegionCode != "" {
		quote, err := c.quoter.CheapestQuote(ctx, in.RegionCode, weightKg)
		if err != nil {
			return decimal.Zero, fmt.Errorf("carrier quote failed: %w", err)
		}
		return quote, nil
	}

	return decimal.Zero, nil
}

func (c *ShippingCalculator) matchZone(regionCode string) *Zone {
	code := strings.ToUpper(strings.TrimSpace(regionCode))
	if code == "" {
		return nil
	}
	for i := range c.zones {
		for _, region := range c.zones[i].Regions {
			if strings.ToUpper(strings.TrimSpace(region)) == code {
				return &c.zones[i]
			}
		}
	}
	return nil
}
