// Package corrections persists manual corrections made by operators and
// turns recurring ones into automatic field substitutions, prompt hints
// and supplier rules.
package corrections

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/robertolibanora/ddt-extractor/extraction"
	"github.com/robertolibanora/ddt-extractor/layout"
)

var log = logrus.New()

// SetLogLevel sets the logging level for the corrections package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}

// AutoRuleThreshold is the number of identical corrections after which
// a supplier rule is created automatically.
const AutoRuleThreshold = 5

// SuggestionThreshold is the number of identical corrections after
// which a substitution is applied to new documents automatically.
const SuggestionThreshold = 2

// senderHintSimilarity is the minimum sender similarity for annotation
// hints recorded on one supplier to apply to another document.
const senderHintSimilarity = 0.6

// Correction records one manual fix of an extracted document.
type Correction struct {
	ID            uint   `gorm:"primaryKey"`
	FileName      string `gorm:"size:512;not null"`
	FileHash      string `gorm:"size:64;index"`
	FieldsChanged string `gorm:"size:512"`
	OriginalJSON  string `gorm:"size:1048576"`
	CorrectedJSON string `gorm:"size:1048576"`
	CreatedAt     time.Time
}

// Pattern is one recurring correction: the same wrong value fixed to
// the same right value, counted across documents.
type Pattern struct {
	ID              uint   `gorm:"primaryKey"`
	Field           string `gorm:"size:64;not null;uniqueIndex:idx_field_pattern"`
	OriginalPattern string `gorm:"size:1024;not null;uniqueIndex:idx_field_pattern"`
	CorrectedValue  string `gorm:"size:1024;not null"`
	SenderPattern   string `gorm:"size:1024"`
	Count           int    `gorm:"not null;default:0"`
	RuleCreated     string `gorm:"size:255"`
	UpdatedAt       time.Time
}

// Annotation is a free-form extraction hint an operator attached to a
// supplier, fed into the vision prompt for similar senders.
type Annotation struct {
	ID        uint   `gorm:"primaryKey"`
	Sender    string `gorm:"size:1024;not null"`
	Hint      string `gorm:"size:4096;not null"`
	CreatedAt time.Time
}

// RuleWriter receives the supplier rules created automatically from
// recurring corrections.
type RuleWriter interface {
	Get(name string) (extraction.PromptRule, bool, error)
	Add(name string, rule extraction.PromptRule) error
}

// Store is the corrections database. It implements extraction.Advisor.
type Store struct {
	db    *gorm.DB
	rules RuleWriter
}

// Open opens (or creates) the corrections database at path and migrates
// its schema. rules may be nil to disable automatic rule creation.
func Open(path string, rules RuleWriter) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create corrections directory %s: %w", dir, err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open corrections database %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Correction{}, &Pattern{}, &Annotation{}); err != nil {
		return nil, fmt.Errorf("failed to migrate corrections schema: %w", err)
	}

	return &Store{db: db, rules: rules}, nil
}

// learnedFields are the fields whose corrections are worth learning.
// Dates and weights are document-specific and never recur.
var learnedFields = []string{"mittente", "destinatario", "numero_documento"}

func fieldValue(d extraction.DocumentData, field string) string {
	switch field {
	case "mittente":
		return d.Mittente
	case "destinatario":
		return d.Destinatario
	case "numero_documento":
		return d.NumeroDocumento
	}
	return ""
}

// Record stores one manual correction and updates the learning
// patterns. Reaching the auto-rule threshold creates a supplier rule.
func (s *Store) Record(fileName, fileHash string, original, corrected extraction.DocumentData) error {
	var changed []string
	for _, field := range learnedFields {
		if fieldValue(original, field) != fieldValue(corrected, field) {
			changed = append(changed, field)
		}
	}
	if original.Data != corrected.Data {
		changed = append(changed, "data")
	}
	if original.TotaleKg != corrected.TotaleKg {
		changed = append(changed, "totale_kg")
	}

	entry := Correction{
		FileName:      fileName,
		FileHash:      fileHash,
		FieldsChanged: strings.Join(changed, ","),
		OriginalJSON:  mustJSON(original),
		CorrectedJSON: mustJSON(corrected),
	}
	if err := s.db.Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to save correction: %w", err)
	}

	for _, field := range learnedFields {
		originalValue := strings.ToLower(strings.TrimSpace(fieldValue(original, field)))
		correctedValue := strings.TrimSpace(fieldValue(corrected, field))
		if originalValue == "" || correctedValue == "" || originalValue == strings.ToLower(correctedValue) {
			continue
		}
		if err := s.bumpPattern(field, originalValue, correctedValue, corrected.Mittente); err != nil {
			return err
		}
	}

	log.WithFields(logrus.Fields{
		"file":   fileName,
		"fields": entry.FieldsChanged,
	}).Info("Manual correction recorded")
	return nil
}

func (s *Store) bumpPattern(field, originalValue, correctedValue, sender string) error {
	var p Pattern
	err := s.db.Where("field = ? AND original_pattern = ?", field, originalValue).First(&p).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		p = Pattern{
			Field:           field,
			OriginalPattern: originalValue,
			CorrectedValue:  correctedValue,
			SenderPattern:   strings.TrimSpace(sender),
			Count:           1,
		}
		if err := s.db.Create(&p).Error; err != nil {
			return fmt.Errorf("failed to create learning pattern: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to load learning pattern: %w", err)
	}

	p.Count++
	p.CorrectedValue = correctedValue
	if sender != "" {
		p.SenderPattern = strings.TrimSpace(sender)
	}
	if p.Count >= AutoRuleThreshold && p.RuleCreated == "" {
		if name := s.createAutoRule(p); name != "" {
			p.RuleCreated = name
		}
	}
	if err := s.db.Save(&p).Error; err != nil {
		return fmt.Errorf("failed to update learning pattern: %w", err)
	}
	return nil
}

// Suggestion implements extraction.Advisor. It returns the corrected
// value for a field whose extracted value matches a pattern seen at
// least SuggestionThreshold times. Matching is case-insensitive and
// accepts substring containment in either direction.
func (s *Store) Suggestion(field, value string) (string, bool, error) {
	needle := strings.ToLower(strings.TrimSpace(value))
	if needle == "" {
		return "", false, nil
	}

	var patterns []Pattern
	if err := s.db.Where("field = ? AND count >= ?", field, SuggestionThreshold).Find(&patterns).Error; err != nil {
		return "", false, fmt.Errorf("failed to load learning patterns: %w", err)
	}

	for _, p := range patterns {
		stored := strings.ToLower(strings.TrimSpace(p.OriginalPattern))
		if stored == "" || p.CorrectedValue == "" {
			continue
		}
		if needle == stored || strings.Contains(stored, needle) || strings.Contains(needle, stored) {
			log.WithFields(logrus.Fields{
				"field": field,
				"from":  value,
				"to":    p.CorrectedValue,
				"count": p.Count,
			}).Info("Learning suggestion found")
			return p.CorrectedValue, true, nil
		}
	}
	return "", false, nil
}

// AddAnnotation attaches an extraction hint to a supplier.
func (s *Store) AddAnnotation(sender, hint string) error {
	sender = strings.TrimSpace(sender)
	hint = strings.TrimSpace(hint)
	if sender == "" || hint == "" {
		return fmt.Errorf("sender and hint must not be empty")
	}
	if err := s.db.Create(&Annotation{Sender: sender, Hint: hint}).Error; err != nil {
		return fmt.Errorf("failed to save annotation: %w", err)
	}
	return nil
}

// AnnotationHints implements extraction.Advisor. It returns the hints
// recorded for suppliers similar to the given sender.
func (s *Store) AnnotationHints(sender string) ([]string, error) {
	if strings.TrimSpace(sender) == "" {
		return nil, nil
	}

	var annotations []Annotation
	if err := s.db.Order("created_at").Find(&annotations).Error; err != nil {
		return nil, fmt.Errorf("failed to load annotations: %w", err)
	}

	var hints []string
	for _, a := range annotations {
		if layout.SenderSimilarity(sender, a.Sender) >= senderHintSimilarity {
			hints = append(hints, a.Hint)
		}
	}
	return hints, nil
}

// History returns the most recent corrections, optionally filtered by
// file hash.
func (s *Store) History(fileHash string, limit int) ([]Correction, error) {
	if limit <= 0 {
		limit = 50
	}
	q := s.db.Order("created_at DESC").Limit(limit)
	if fileHash != "" {
		q = q.Where("file_hash = ?", fileHash)
	}
	var entries []Correction
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to load correction history: %w", err)
	}
	return entries, nil
}
