package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// CatalogFile is the seed document for the feature catalog and plan matrix.
type CatalogFile struct {
	Features []CatalogFeature `yaml:"features"`
}

type CatalogFeature struct {
	Key      string `yaml:"key"`
	Type     string `yaml:"type"`
	Category string `yaml:"category"`
	Active   *bool  `yaml:"active"`
	// Defaults maps plan code to the stored text form of the value.
	Defaults map[string]string `yaml:"defaults"`
}

// IsActive defaults to true when the field is omitted.
func (f CatalogFeature) IsActive() bool {
	return f.Active == nil || *f.Active
}

// PlanCodes returns the plans with a default, sorted for stable output.
func (f CatalogFeature) PlanCodes() []string {
	out := make([]string, 0, len(f.Defaults))
	for p := range f.Defaults {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func LoadCatalog(path string) (*CatalogFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(b)
}

func ParseCatalog(b []byte) (*CatalogFile, error) {
	var c CatalogFile
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(c.Features) == 0 {
		return nil, errors.New("catalog has no features")
	}
	for i, f := range c.Features {
		if f.Key == "" {
			return nil, fmt.Errorf("features[%d]: key is required", i)
		}
		if f.Type == "" {
			return nil, fmt.Errorf("feature %s: type is required", f.Key)
		}
	}
	return &c, nil
}
