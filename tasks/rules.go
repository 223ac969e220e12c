package tasks

import "strings"

// RuleKind selects how a BalanceRule's Pattern is matched against a
// transaction output (spec.md §3 "A balance rule maps a script/address
// pattern to a label").
type RuleKind int

const (
	// RuleExactScript matches a scriptPubKey by its exact hex encoding.
	RuleExactScript RuleKind = iota
	// RuleExactAddress matches a base58check-encoded address exactly.
	RuleExactAddress
	// RulePrefixWildcard matches any address sharing Pattern as a
	// prefix, e.g. grouping every address under a derived-account
	// prefix into one wallet label.
	RulePrefixWildcard
)

// BalanceRule maps one script/address pattern to the label balance
// movements matching it should be aggregated under.
type BalanceRule struct {
	Kind    RuleKind
	Pattern string
	Label   string
}

// Rules is an ordered list of BalanceRule; the first match wins.
type Rules []BalanceRule

// Match returns the label the given scriptPubKey/address pair falls
// under, and whether any rule matched. An empty Rules set always
// reports no match.
func (rs Rules) Match(scriptHex, address string) (label string, matched bool) {
	for _, r := range rs {
		switch r.Kind {
		case RuleExactScript:
			if scriptHex == r.Pattern {
				return r.Label, true
			}
		case RuleExactAddress:
			if address != "" && address == r.Pattern {
				return r.Label, true
			}
		case RulePrefixWildcard:
			if address != "" && strings.HasPrefix(address, r.Pattern) {
				return r.Label, true
			}
		}
	}
	return "", false
}
