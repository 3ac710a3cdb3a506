/*
Package factory converts JSON vertical definitions into core.VerticalConfig.

PURPOSE:
  Per-vertical settings (hours per QR scan, package deduction factor and
  validity, cash-flow categories) can be changed by the club without a
  release. The server loads VERTICALS_FILE at startup and registers the
  result over the built-in defaults.

JSON SCHEMA:
  [
    {
      "vertical": "badminton",
      "name": "Badminton",
      "hours_per_scan": "1.5",
      "deduction_factor": "1",
      "package_validity_days": 30,
      "lesson_category": "badminton_lesson",
      "sale_category": "badminton_sale"
    }
  ]

  Omitted fields keep the currently registered value for that vertical
  (or the built-in default for a new one). Decimals may be JSON strings or
  numbers.

USAGE:
  f := NewVerticalFactory()
  configs, err := f.LoadFile(path)
  for _, c := range configs { core.RegisterVertical(c) }
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/volan/membership-engine/core"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// VerticalJSON is the JSON representation of a vertical.
type VerticalJSON struct {
	Vertical            string           `json:"vertical"`
	Name                string           `json:"name,omitempty"`
	HoursPerScan        *decimal.Decimal `json:"hours_per_scan,omitempty"`
	DeductionFactor     *decimal.Decimal `json:"deduction_factor,omitempty"`
	PackageValidityDays int              `json:"package_validity_days,omitempty"`
	LessonCategory      string           `json:"lesson_category,omitempty"`
	SaleCategory        string           `json:"sale_category,omitempty"`
}

// =============================================================================
// VERTICAL FACTORY
// =============================================================================

type VerticalFactory struct {
	// Base returns the configuration an override starts from.
	Base func(core.Vertical) (core.VerticalConfig, bool)
}

func NewVerticalFactory() *VerticalFactory {
	return &VerticalFactory{Base: registeredOrDefault}
}

func registeredOrDefault(v core.Vertical) (core.VerticalConfig, bool) {
	if c, err := core.LookupVertical(v); err == nil {
		return c, true
	}
	return core.VerticalConfig{}, false
}

// ParseVerticals parses a JSON array of vertical definitions.
func (f *VerticalFactory) ParseVerticals(data []byte) ([]core.VerticalConfig, error) {
	var vjs []VerticalJSON
	if err := json.Unmarshal(data, &vjs); err != nil {
		return nil, fmt.Errorf("failed to parse verticals JSON: %w", err)
	}

	seen := make(map[string]bool, len(vjs))
	out := make([]core.VerticalConfig, 0, len(vjs))
	for i, vj := range vjs {
		if seen[vj.Vertical] {
			return nil, fmt.Errorf("vertical %d: duplicate id %q", i, vj.Vertical)
		}
		seen[vj.Vertical] = true

		c, err := f.FromJSON(vj)
		if err != nil {
			return nil, fmt.Errorf("vertical %d (%s): %w", i, vj.Vertical, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// LoadFile reads and parses path.
func (f *VerticalFactory) LoadFile(path string) ([]core.VerticalConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read verticals file: %w", err)
	}
	return f.ParseVerticals(data)
}

// FromJSON overlays vj on the base configuration and validates the result.
func (f *VerticalFactory) FromJSON(vj VerticalJSON) (core.VerticalConfig, error) {
	id := core.Vertical(vj.Vertical)
	c, ok := f.Base(id)
	if !ok {
		one := decimal.NewFromInt(1)
		c = core.VerticalConfig{
			Vertical:               id,
			Name:                   vj.Vertical,
			HoursPerScan:           one,
			DefaultDeductionFactor: one,
			PackageValidityDays:    30,
			LessonCategory:         core.CategoryOther,
			SaleCategory:           core.CategoryOther,
		}
	}

	if vj.Name != "" {
		c.Name = vj.Name
	}
	if vj.HoursPerScan != nil {
		c.HoursPerScan = *vj.HoursPerScan
	}
	if vj.DeductionFactor != nil {
		c.DefaultDeductionFactor = *vj.DeductionFactor
	}
	if vj.PackageValidityDays != 0 {
		c.PackageValidityDays = vj.PackageValidityDays
	}
	if vj.LessonCategory != "" {
		c.LessonCategory = core.CashCategory(vj.LessonCategory)
	}
	if vj.SaleCategory != "" {
		c.SaleCategory = core.CashCategory(vj.SaleCategory)
	}

	if err := c.Validate(); err != nil {
		return core.VerticalConfig{}, err
	}
	return c, nil
}

// ToJSON converts a configuration back to its JSON form.
func (f *VerticalFactory) ToJSON(c core.VerticalConfig) VerticalJSON {
	hours, factor := c.HoursPerScan, c.DefaultDeductionFactor
	return VerticalJSON{
		Vertical:            string(c.Vertical),
		Name:                c.Name,
		HoursPerScan:        &hours,
		DeductionFactor:     &factor,
		PackageValidityDays: c.PackageValidityDays,
		LessonCategory:      string(c.LessonCategory),
		SaleCategory:        string(c.SaleCategory),
	}
}
