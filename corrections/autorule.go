package corrections

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"

	"github.com/robertolibanora/ddt-extractor/extraction"
)

// createAutoRule turns a pattern that crossed the threshold into a
// supplier prompt rule. Returns the rule name, or "" when no rule could
// or should be created. Failures are logged, never fatal: learning must
// not break the correction flow.
func (s *Store) createAutoRule(p Pattern) string {
	if s.rules == nil {
		return ""
	}

	name := autoRuleName(p)
	if name == "" {
		return ""
	}

	if _, exists, err := s.rules.Get(name); err != nil {
		log.WithError(err).WithField("rule", name).Warn("Could not check for existing rule, skipping auto-rule creation")
		return ""
	} else if exists {
		log.WithField("rule", name).Debug("Rule already exists, not creating a duplicate")
		return ""
	}

	keywords := detectKeywords(p)
	if len(keywords) == 0 {
		log.WithField("pattern", p.OriginalPattern).Warn("No usable detect keywords, skipping auto-rule creation")
		return ""
	}

	rule := extraction.PromptRule{
		Detect:       keywords,
		Instructions: autoRuleInstructions(p),
	}
	if err := s.rules.Add(name, rule); err != nil {
		log.WithError(err).WithField("rule", name).Warn("Failed to create automatic rule")
		return ""
	}

	log.WithFields(logrus.Fields{
		"rule":  name,
		"field": p.Field,
		"count": p.Count,
	}).Info("Automatic rule created from recurring correction")
	return name
}

// autoRuleName derives a rule name from the corrected sender, keeping
// the first 30 characters and replacing anything unusual.
func autoRuleName(p Pattern) string {
	source := p.SenderPattern
	if source == "" {
		source = p.CorrectedValue
	}
	runes := []rune(strings.TrimSpace(source))
	if len(runes) > 30 {
		runes = runes[:30]
	}
	var b strings.Builder
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune(" .-_", r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	name := strings.TrimSpace(b.String())
	if name == "" {
		name = "Regola_Auto"
	}
	return name
}

// detectKeywords picks detection keywords from the sender name, falling
// back to the original wrong value.
func detectKeywords(p Pattern) []string {
	var keywords []string
	if p.SenderPattern != "" {
		words := strings.Fields(p.SenderPattern)
		switch {
		case len(words) >= 3:
			keywords = append(keywords, strings.Join(words[:2], " "), words[0])
		case len(words) == 2:
			keywords = append(keywords, strings.Join(words, " "))
		case len(words) == 1:
			keywords = append(keywords, words[0])
		}
	}
	if len(keywords) == 0 && p.OriginalPattern != "" {
		runes := []rune(p.OriginalPattern)
		if len(runes) > 30 {
			runes = runes[:30]
		}
		keywords = append(keywords, string(runes))
	}
	return keywords
}

func autoRuleInstructions(p Pattern) string {
	var b strings.Builder
	switch p.Field {
	case "mittente":
		b.WriteString("Il campo mittente viene spesso estratto come '" + p.OriginalPattern + "' ma deve essere '" + p.CorrectedValue + "'. ")
	case "destinatario":
		b.WriteString("Il campo destinatario viene spesso estratto come '" + p.OriginalPattern + "' ma deve essere '" + p.CorrectedValue + "'. ")
	case "numero_documento":
		b.WriteString("Il numero documento viene spesso estratto come '" + p.OriginalPattern + "' ma deve essere '" + p.CorrectedValue + "'. ")
	}
	b.WriteString("Assicurati di usare il formato corretto: '" + p.CorrectedValue + "'.")
	return b.String()
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
