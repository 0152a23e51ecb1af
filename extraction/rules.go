package extraction

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// RuleOverrides alters how a supplier's documents are read.
type RuleOverrides struct {
	// TotaleKgMode "sum_rows" means the document carries no total weight
	// and the model must sum the row weights.
	TotaleKgMode string `json:"totale_kg_mode,omitempty"`
	// Multipage marks suppliers whose relevant data spans pages.
	Multipage bool `json:"multipage,omitempty"`
}

// PromptRule is a supplier-specific correction rule: keywords that
// identify the supplier's documents plus extra prompt instructions.
type PromptRule struct {
	Detect       []string      `json:"detect"`
	Instructions string        `json:"instructions"`
	Overrides    RuleOverrides `json:"overrides"`
}

// RuleSet persists prompt rules as a JSON file keyed by rule name, with
// an in-memory cache and explicit reload.
type RuleSet struct {
	path string

	mu     sync.RWMutex
	cache  map[string]PromptRule
	loaded bool
}

// NewRuleSet creates a rule set backed by the JSON file at path.
func NewRuleSet(path string) *RuleSet {
	return &RuleSet{path: path}
}

// All returns every rule, loading from disk on first use. A missing or
// corrupt file yields an empty set.
func (rs *RuleSet) All() (map[string]PromptRule, error) {
	rs.mu.RLock()
	if rs.loaded {
		rules := copyPromptRules(rs.cache)
		rs.mu.RUnlock()
		return rules, nil
	}
	rs.mu.RUnlock()
	return rs.Reload()
}

// Reload re-reads the backing file, replacing the cache.
func (rs *RuleSet) Reload() (map[string]PromptRule, error) {
	rules := map[string]PromptRule{}

	data, err := os.ReadFile(rs.path)
	switch {
	case os.IsNotExist(err):
		// First run, no rules yet.
	case err != nil:
		return nil, fmt.Errorf("failed to read prompt rules %s: %w", rs.path, err)
	case len(strings.TrimSpace(string(data))) == 0:
		// Empty file, same as absent.
	default:
		if err := json.Unmarshal(data, &rules); err != nil {
			log.WithError(err).WithField("path", rs.path).
				Warn("Prompt rules file is corrupt, treating as empty")
			rules = map[string]PromptRule{}
		}
	}

	rs.mu.Lock()
	rs.cache = copyPromptRules(rules)
	rs.loaded = true
	rs.mu.Unlock()

	log.WithFields(logrus.Fields{"path": rs.path, "rules": len(rules)}).Debug("Loaded prompt rules")
	return rules, nil
}

// Get returns one rule by name.
func (rs *RuleSet) Get(name string) (PromptRule, bool, error) {
	rules, err := rs.All()
	if err != nil {
		return PromptRule{}, false, err
	}
	r, ok := rules[name]
	return r, ok, nil
}

// Add upserts a rule and persists the whole set.
func (rs *RuleSet) Add(name string, rule PromptRule) error {
	if name == "" {
		return fmt.Errorf("rule name must not be empty")
	}
	if len(rule.Detect) == 0 {
		return fmt.Errorf("rule %q: at least one detect keyword required", name)
	}

	rules, err := rs.All()
	if err != nil {
		return err
	}
	rules[name] = rule
	return rs.save(rules)
}

// Delete removes a rule by name; deleting an unknown name is an error.
func (rs *RuleSet) Delete(name string) error {
	rules, err := rs.All()
	if err != nil {
		return err
	}
	if _, ok := rules[name]; !ok {
		return fmt.Errorf("prompt rule %q not found", name)
	}
	delete(rules, name)
	return rs.save(rules)
}

func (rs *RuleSet) save(rules map[string]PromptRule) error {
	data, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal prompt rules: %w", err)
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if dir := filepath.Dir(rs.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create rules directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(rs.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write prompt rules %s: %w", rs.path, err)
	}
	rs.cache = copyPromptRules(rules)
	rs.loaded = true
	return nil
}

// DetectRule returns the name of the first rule whose detect keywords
// appear in the document text, walking rules in sorted name order for
// determinism. Empty text never matches.
func (rs *RuleSet) DetectRule(docText string) (string, error) {
	if strings.TrimSpace(docText) == "" {
		return "", nil
	}
	rules, err := rs.All()
	if err != nil {
		return "", err
	}

	upper := strings.ToUpper(docText)
	for _, name := range sortedRuleNames(rules) {
		for _, kw := range rules[name].Detect {
			if kw == "" {
				continue
			}
			if strings.Contains(upper, strings.ToUpper(kw)) {
				log.WithFields(logrus.Fields{"rule": name, "keyword": kw}).Info("Prompt rule detected")
				return name, nil
			}
		}
	}
	return "", nil
}

// PromptAdditions renders a rule's extra prompt instructions.
func (rs *RuleSet) PromptAdditions(name string) (string, error) {
	rule, ok, err := rs.Get(name)
	if err != nil || !ok {
		return "", err
	}

	var b strings.Builder
	if rule.Instructions != "" {
		fmt.Fprintf(&b, "\n\nREGOLE SPECIALI FORNITORE %q:\n%s", name, rule.Instructions)
	}
	if rule.Overrides.TotaleKgMode == "sum_rows" {
		b.WriteString("\nOVERRIDE: Il totale_kg NON è presente nel documento. DEVI calcolarlo come SOMMA dei KG di tutte le righe presenti nel DDT.")
	}
	if rule.Overrides.Multipage {
		b.WriteString("\nOVERRIDE: Questo documento può essere multipagina. Assicurati di estrarre dati da tutte le pagine se necessario.")
	}
	return b.String(), nil
}

func sortedRuleNames(rules map[string]PromptRule) []string {
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func copyPromptRules(src map[string]PromptRule) map[string]PromptRule {
	dst := make(map[string]PromptRule, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
