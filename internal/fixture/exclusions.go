package fixture

import (
	"fmt"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Exclusion skips every fixture path matching Pattern.
type Exclusion struct {
	Pattern string `yaml:"pattern"`
	Reason  string `yaml:"reason"`
}

// Exclusions is an ordered list of path patterns; the first match wins.
type Exclusions []Exclusion

// DefaultExclusions cannot be reproduced against a plain HTTP endpoint.
func DefaultExclusions() Exclusions {
	return Exclusions{
		{Pattern: "**/redirect_to_ssl.log", Reason: "skip-ssl-redirect"},
	}
}

type exclusionFile struct {
	Exclusions Exclusions `yaml:"exclusions"`
}

// LoadExclusions reads a YAML file of the form
//
//	exclusions:
//	  - pattern: "002_auth/*.log"
//	    reason: "auth backend not configured"
//
// and appends its entries to the defaults.
func LoadExclusions(path string) (Exclusions, error) {
	ex := DefaultExclusions()
	if path == "" {
		return ex, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fixture: read exclusions: %w", err)
	}
	var f exclusionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("fixture: parse exclusions %s: %w", path, err)
	}
	for i, e := range f.Exclusions {
		if !doublestar.ValidatePattern(e.Pattern) {
			return nil, fmt.Errorf("fixture: exclusion %d: invalid pattern %q", i+1, e.Pattern)
		}
		if e.Reason == "" {
			e.Reason = "excluded by " + e.Pattern
		}
		ex = append(ex, e)
	}
	return ex, nil
}

// Match returns the reason for the first pattern matching rel.
func (ex Exclusions) Match(rel string) (string, bool) {
	for _, e := range ex {
		if ok, _ := doublestar.Match(e.Pattern, rel); ok {
			return e.Reason, true
		}
	}
	return "", false
}
