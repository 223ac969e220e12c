package config

import (
	"fmt"

	"github.com/chainindex/indexer/tasks"
)

// BuildRules translates the TOML-level rule list into tasks.Rules,
// validating each entry's Kind (spec.md §4.E's BalanceRule).
func BuildRules(cfgs []BalanceRuleConfig) (tasks.Rules, error) {
	rules := make(tasks.Rules, 0, len(cfgs))
	for i, c := range cfgs {
		var kind tasks.RuleKind
		switch c.Kind {
		case "exact_script":
			kind = tasks.RuleExactScript
		case "exact_address":
			kind = tasks.RuleExactAddress
		case "prefix_wildcard":
			kind = tasks.RulePrefixWildcard
		default:
			return nil, fmt.Errorf("config: balance_rules[%d]: unknown kind %q", i, c.Kind)
		}
		if c.Pattern == "" {
			return nil, fmt.Errorf("config: balance_rules[%d]: pattern must not be empty", i)
		}
		rules = append(rules, tasks.BalanceRule{Kind: kind, Pattern: c.Pattern, Label: c.Label})
	}
	return rules, nil
}
