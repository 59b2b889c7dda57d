// Package config provides configuration loading for rate limiting
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loki-platform/loki/pkg/models"
	"github.com/loki-platform/loki/pkg/ratelimit"
)

// RateLimitConfigFile represents the structure of the ratelimits.yaml file
type RateLimitConfigFile struct {
	Default RuleConfigFile            `yaml:"default"`
	PerType map[string]RuleConfigFile `yaml:"per_type"`
}

// RuleConfigFile represents one rate rule in the YAML file. Window is a
// Go duration string ("1m", "30s").
type RuleConfigFile struct {
	MaxCount int    `yaml:"max_count"`
	Window   string `yaml:"window"`
}

var knownIntegrationTypes = map[models.IntegrationType]struct{}{
	models.IntegrationTypeSlack:      {},
	models.IntegrationTypeGoogle:     {},
	models.IntegrationTypeGitHub:     {},
	models.IntegrationTypeNotion:     {},
	models.IntegrationTypeFigma:      {},
	models.IntegrationTypeJira:       {},
	models.IntegrationTypeConfluence: {},
	models.IntegrationTypeHubspot:    {},
	models.IntegrationTypeSalesforce: {},
	models.IntegrationTypeAWS:        {},
}

// LoadRateLimitConfig loads rate limit configuration from a YAML file.
// Rules without a window inherit the default rule's window.
func LoadRateLimitConfig(filepath string) (ratelimit.Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return ratelimit.Config{}, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile RateLimitConfigFile
	if err := yaml.Unmarshal(data, &configFile); err != nil {
		return ratelimit.Config{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	fallback := ratelimit.DefaultConfig().Default

	defaultRule, err := convertRule(configFile.Default, fallback)
	if err != nil {
		return ratelimit.Config{}, fmt.Errorf("default: %w", err)
	}

	config := ratelimit.Config{
		Default: defaultRule,
		PerType: make(map[models.IntegrationType]ratelimit.Rule, len(configFile.PerType)),
	}

	for name, ruleFile := range configFile.PerType {
		rule, err := convertRule(ruleFile, config.Default)
		if err != nil {
			return ratelimit.Config{}, fmt.Errorf("per_type[%s]: %w", name, err)
		}

		config.PerType[models.IntegrationType(name)] = rule
	}

	return config, nil
}

func convertRule(ruleFile RuleConfigFile, fallback ratelimit.Rule) (ratelimit.Rule, error) {
	rule := ratelimit.Rule{
		MaxCount: ruleFile.MaxCount,
		Window:   fallback.Window,
	}

	if rule.MaxCount == 0 {
		rule.MaxCount = fallback.MaxCount
	}

	if ruleFile.Window != "" {
		window, err := time.ParseDuration(ruleFile.Window)
		if err != nil {
			return ratelimit.Rule{}, fmt.Errorf("invalid window %q: %w", ruleFile.Window, err)
		}

		rule.Window = window
	}

	return rule, nil
}

// LoadRateLimitConfigOrDefault attempts to load rate limit config from file,
// falling back to the built-in defaults if the file is missing or invalid
func LoadRateLimitConfigOrDefault(filepath string) ratelimit.Config {
	config, err := LoadRateLimitConfig(filepath)
	if err != nil {
		return ratelimit.DefaultConfig()
	}

	return config
}

// ValidateRateLimitConfig validates the rate limit configuration
func ValidateRateLimitConfig(config ratelimit.Config) error {
	if err := validateRule("default", config.Default); err != nil {
		return err
	}

	for integrationType, rule := range config.PerType {
		if _, known := knownIntegrationTypes[integrationType]; !known {
			return fmt.Errorf("per_type[%s]: unknown integration type", integrationType)
		}

		if err := validateRule(fmt.Sprintf("per_type[%s]", integrationType), rule); err != nil {
			return err
		}
	}

	return nil
}

func validateRule(name string, rule ratelimit.Rule) error {
	if rule.MaxCount <= 0 {
		return fmt.Errorf("%s: max_count must be positive", name)
	}

	if rule.Window <= 0 {
		return fmt.Errorf("%s: window must be positive", name)
	}

	return nil
}
