package ratelimit

import (
	"time"

	"github.com/loki-platform/loki/pkg/models"
)

// Rule bounds how many dispatches a single owner may start against one
// integration type within any rolling window.
type Rule struct {
	MaxCount int           `json:"max_count"`
	Window   time.Duration `json:"window"`
}

type Config struct {
	Default Rule
	PerType map[models.IntegrationType]Rule
}

func DefaultConfig() Config {
	return Config{
		Default: Rule{MaxCount: 60, Window: time.Minute},
		PerType: map[models.IntegrationType]Rule{
			models.IntegrationTypeSlack:  {MaxCount: 50, Window: time.Minute},
			models.IntegrationTypeGitHub: {MaxCount: 30, Window: time.Minute},
			models.IntegrationTypeGoogle: {MaxCount: 100, Window: time.Minute},
		},
	}
}

// RuleFor falls back to the default bucket for integration types without
// an explicit rule.
func (c Config) RuleFor(integrationType models.IntegrationType) Rule {
	if rule, ok := c.PerType[integrationType]; ok {
		return rule
	}

	return c.Default
}
