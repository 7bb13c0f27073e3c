// Package config layers Harrier configuration from defaults, an optional
// YAML file, and HARRIER_-prefixed environment variables, in that order.
// It also loads rule set definitions from YAML.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/opensource-finance/harrier/internal/domain"
)

// EnvPrefix namespaces environment overrides, e.g.
// HARRIER_SERVER_PORT=9090 sets server.port.
const EnvPrefix = "HARRIER_"

// Load builds the effective configuration. The file path may be empty, in
// which case only defaults and the environment apply. A named file that
// does not exist is an error; the conventional default path is optional.
func Load(path string) (*domain.Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(domain.DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	} else if _, err := os.Stat("configs/harrier.yaml"); err == nil {
		if err := k.Load(file.Provider("configs/harrier.yaml"), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load configs/harrier.yaml: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	var cfg domain.Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *domain.Config) error {
	if cfg.Tier != domain.TierCommunity && cfg.Tier != domain.TierPro {
		return &domain.ConfigurationError{Field: "tier", Reason: fmt.Sprintf("unknown tier %q", cfg.Tier)}
	}
	if cfg.Engine.Contamination <= 0 || cfg.Engine.Contamination > 1 {
		return &domain.ConfigurationError{Field: "engine.contamination", Reason: "must be in (0, 1]"}
	}
	if cfg.Engine.MinBatchSize < 1 {
		return &domain.ConfigurationError{Field: "engine.min_batch_size", Reason: "must be at least 1"}
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return &domain.ConfigurationError{Field: "server.port", Reason: fmt.Sprintf("invalid port %d", cfg.Server.Port)}
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return &domain.ConfigurationError{Field: "repository.driver", Reason: fmt.Sprintf("unknown driver %q", cfg.Repository.Driver)}
	}
	return nil
}

// ruleFile is the YAML envelope for rule definitions.
type ruleFile struct {
	Rules []ruleEntry `koanf:"rules"`
}

// ruleEntry mirrors domain.Rule but distinguishes an omitted enabled key
// from an explicit false, since omitted means enabled.
type ruleEntry struct {
	Name       string                     `koanf:"name"`
	Kind       domain.RuleKind            `koanf:"kind"`
	Severity   domain.Severity            `koanf:"severity"`
	Threshold  *float64                   `koanf:"threshold"`
	Field      string                     `koanf:"field"`
	Pairs      []domain.JurisdictionPair  `koanf:"pairs"`
	Symmetric  bool                       `koanf:"symmetric"`
	Expression string                     `koanf:"expression"`
	Enabled    *bool                      `koanf:"enabled"`
}

// LoadRuleSet reads rule definitions from a YAML file. Rules without an
// explicit enabled key default to enabled. Validation is left to the
// evaluator, which checks per-kind parameters and duplicate names.
func LoadRuleSet(path string) ([]*domain.Rule, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("config: load rules %s: %w", path, err)
	}

	var parsed ruleFile
	if err := k.Unmarshal("", &parsed); err != nil {
		return nil, fmt.Errorf("config: unmarshal rules: %w", err)
	}
	if len(parsed.Rules) == 0 {
		return nil, &domain.ConfigurationError{Field: "rules", Reason: "rule file defines no rules"}
	}

	ruleset := make([]*domain.Rule, 0, len(parsed.Rules))
	for _, entry := range parsed.Rules {
		rule := &domain.Rule{
			Name:       entry.Name,
			Kind:       entry.Kind,
			Severity:   entry.Severity,
			Threshold:  entry.Threshold,
			Field:      entry.Field,
			Pairs:      entry.Pairs,
			Symmetric:  entry.Symmetric,
			Expression: entry.Expression,
			Enabled:    entry.Enabled == nil || *entry.Enabled,
		}
		ruleset = append(ruleset, rule)
	}
	return ruleset, nil
}
