package layout

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Store persists layout rules as a single JSON file keyed by rule name.
// Reads go through an in-memory cache keyed by the file's mtime so that
// concurrent detections never hit the disk more than once per change;
// every write invalidates the cache atomically.
type Store struct {
	path string

	mu         sync.RWMutex
	cache      map[string]Rule
	cacheMtime time.Time
	cacheValid bool
}

// NewStore creates a store backed by the JSON file at path. The file is
// not created until the first save.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns all rules, serving from the cache when the file has not
// changed since the last read. force bypasses the cache. A missing or
// empty file yields an empty rule set; a corrupt file is logged and
// treated as empty rather than aborting detection.
func (s *Store) Load(force bool) (map[string]Rule, error) {
	info, err := os.Stat(s.path)
	if os.IsNotExist(err) {
		return map[string]Rule{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat rules file %s: %w", s.path, err)
	}

	if !force {
		s.mu.RLock()
		if s.cacheValid && s.cacheMtime.Equal(info.ModTime()) {
			rules := copyRules(s.cache)
			s.mu.RUnlock()
			return rules, nil
		}
		s.mu.RUnlock()
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return map[string]Rule{}, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		log.WithError(err).WithField("path", s.path).
			Warn("Layout rules file is corrupt, treating as empty")
		return map[string]Rule{}, nil
	}

	rules := make(map[string]Rule, len(raw))
	for name, entry := range raw {
		var rule Rule
		if err := json.Unmarshal(entry, &rule); err != nil {
			log.WithError(err).WithField("rule", name).
				Warn("Skipping malformed layout rule")
			continue
		}
		if err := rule.Validate(); err != nil {
			log.WithError(err).WithField("rule", name).
				Warn("Skipping invalid layout rule")
			continue
		}
		rules[name] = rule
	}

	s.mu.Lock()
	s.cache = copyRules(rules)
	s.cacheMtime = info.ModTime()
	s.cacheValid = true
	s.mu.Unlock()

	log.WithFields(logrus.Fields{
		"path":  s.path,
		"rules": len(rules),
	}).Debug("Loaded layout rules from disk")

	return rules, nil
}

// Save writes the full rule set to disk and invalidates the cache.
func (s *Store) Save(rules map[string]Rule) error {
	data, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal layout rules: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create rules directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write rules file %s: %w", s.path, err)
	}
	s.cacheValid = false
	return nil
}

// SaveOne validates and upserts a single rule under name, preserving all
// other rules.
func (s *Store) SaveOne(name, supplier string, pageCount int, fields map[string]FieldBox) error {
	if name == "" {
		return fmt.Errorf("rule name must not be empty")
	}
	rule := Rule{
		Match:  RuleMatch{Supplier: supplier, PageCount: pageCount},
		Fields: fields,
	}
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid rule %q: %w", name, err)
	}

	rules, err := s.Load(true)
	if err != nil {
		return err
	}
	rules[name] = rule

	if err := s.Save(rules); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"rule":     name,
		"supplier": supplier,
		"fields":   len(fields),
	}).Info("Saved layout rule")
	return nil
}

// Delete removes a rule by name. Deleting an unknown name is an error so
// callers can report it.
func (s *Store) Delete(name string) error {
	rules, err := s.Load(true)
	if err != nil {
		return err
	}
	if _, ok := rules[name]; !ok {
		return fmt.Errorf("layout rule %q not found", name)
	}
	delete(rules, name)
	return s.Save(rules)
}

// GetAll returns every stored rule, using the cache when possible.
func (s *Store) GetAll() (map[string]Rule, error) {
	return s.Load(false)
}

func copyRules(src map[string]Rule) map[string]Rule {
	dst := make(map[string]Rule, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
