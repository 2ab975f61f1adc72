package assignment

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ledgerline-io/ledgerline/internal/ledger"
)

// Sentinel errors for rule configuration loading.
var (
	// ErrNoRules is returned when a rule file contains no rules.
	ErrNoRules = errors.New("rule file contains no rules")

	// ErrDuplicatePriority is returned when two rules share a priority;
	// evaluation order would be ambiguous.
	ErrDuplicatePriority = errors.New("duplicate rule priority")

	// ErrNoCatchAll is returned when no rule matches every record. Without a
	// catch-all, some records would fall through the list entirely.
	ErrNoCatchAll = errors.New("rule list has no catch-all rule")
)

// ruleFile is the YAML document shape for custom rule lists.
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// DefaultRules returns the built-in routing rule list, used when no rule file
// is configured. Priorities are spaced by tens so deployments can slot custom
// rules between them.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:            "high_value",
			Priority:        10,
			MinAbsBalance:   1_000_000,
			RequireReviewer: true,
			RequireApprover: true,
			SLADays:         3,
		},
		{
			Name:            "high_criticality",
			Priority:        20,
			Criticality:     ledger.CriticalityHigh,
			RequireReviewer: true,
			RequireApprover: true,
			SLADays:         3,
		},
		{
			Name:            "balance_sheet",
			Priority:        30,
			Classification:  ledger.ClassificationBalanceSheet,
			RequireReviewer: true,
			RequireApprover: true,
			SLADays:         5,
		},
		{
			Name:            "material_pl",
			Priority:        40,
			Classification:  ledger.ClassificationProfitLoss,
			MinAbsBalance:   100_000,
			RequireReviewer: true,
			SLADays:         5,
		},
		{
			Name:            "default",
			Priority:        100,
			RequireReviewer: true,
			SLADays:         10,
		},
	}
}

// LoadRules reads a rule list from a YAML file and validates it. The returned
// list is sorted by ascending priority, ready for first-match evaluation.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file %s: %w", path, err)
	}

	var doc ruleFile

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rule file %s: %w", path, err)
	}

	rules, err := prepareRules(doc.Rules)
	if err != nil {
		return nil, fmt.Errorf("invalid rule file %s: %w", path, err)
	}

	return rules, nil
}

// prepareRules sorts and validates a rule list.
func prepareRules(rules []Rule) ([]Rule, error) {
	if len(rules) == 0 {
		return nil, ErrNoRules
	}

	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	seen := make(map[int]string, len(sorted))
	hasCatchAll := false

	for i := range sorted {
		r := &sorted[i]

		if other, dup := seen[r.Priority]; dup {
			return nil, fmt.Errorf("%w: %d used by %q and %q",
				ErrDuplicatePriority, r.Priority, other, r.Name)
		}

		seen[r.Priority] = r.Name

		if r.MinAbsBalance == 0 && r.Classification == "" &&
			r.Criticality == "" && len(r.Statuses) == 0 {
			hasCatchAll = true
		}
	}

	if !hasCatchAll {
		return nil, ErrNoCatchAll
	}

	return sorted, nil
}
