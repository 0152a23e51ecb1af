// Package docstore tracks every document the system has seen, keyed by
// content hash, through an explicit status lifecycle. The store is what
// makes processing idempotent: a document whose hash is already present
// in a terminal state is never re-queued.
package docstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var log = logrus.New()

// SetLogLevel sets the logging level for the docstore package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}

// Status is the lifecycle state of a tracked document.
type Status string

const (
	StatusNew            Status = "NEW"
	StatusQueued         Status = "QUEUED"
	StatusProcessing     Status = "PROCESSING"
	StatusStuck          Status = "STUCK"
	StatusReadyForReview Status = "READY_FOR_REVIEW"
	StatusFinalized      Status = "FINALIZED"
	StatusErrorFinal     Status = "ERROR_FINAL"
)

// validTransitions is the complete transition matrix. Anything not
// listed here is forbidden and fails with ErrInvalidTransition.
// FINALIZED and ERROR_FINAL are terminal. READY_FOR_REVIEW never goes
// back to PROCESSING, which rules out reprocessing loops; STUCK can be
// re-queued, but only by an explicit operator action.
var validTransitions = map[Status][]Status{
	StatusNew:            {StatusProcessing, StatusErrorFinal},
	StatusQueued:         {StatusProcessing, StatusErrorFinal},
	StatusProcessing:     {StatusReadyForReview, StatusStuck, StatusErrorFinal, StatusFinalized},
	StatusStuck:          {StatusProcessing, StatusErrorFinal},
	StatusReadyForReview: {StatusFinalized, StatusErrorFinal},
	StatusFinalized:      {},
	StatusErrorFinal:     {},
}

// ErrInvalidTransition marks a forbidden status change.
type ErrInvalidTransition struct {
	From, To Status
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid document status transition %s -> %s", e.From, e.To)
}

// Document is one tracked document with its extraction outcome.
type Document struct {
	ID            uint   `gorm:"primaryKey"`
	Hash          string `gorm:"size:64;not null;uniqueIndex"`
	FileName      string `gorm:"size:512;not null"`
	FilePath      string `gorm:"size:1024"`
	Status        Status `gorm:"size:32;not null;index"`
	QueueID       string `gorm:"size:64;index"`
	Method        string `gorm:"size:32"`
	RuleName      string `gorm:"size:255"`
	ExtractedJSON string `gorm:"size:1048576"`
	ErrorMessage  string `gorm:"size:4096"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store is the SQLite-backed document tracker.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the document database at path and migrates
// its schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open document database %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Document{}); err != nil {
		return nil, fmt.Errorf("failed to migrate document schema: %w", err)
	}
	return &Store{db: db}, nil
}

// HashFile computes the SHA-256 of a file's content, the identity used
// throughout the store.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s for hashing: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Register creates a document in the given initial status. Registering
// an existing hash returns the stored document unchanged with created
// false, which is how callers detect duplicates.
func (s *Store) Register(hash, fileName, filePath string, status Status) (*Document, bool, error) {
	var existing Document
	err := s.db.Where("hash = ?", hash).First(&existing).Error
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to look up document %s: %w", hash, err)
	}

	doc := Document{Hash: hash, FileName: fileName, FilePath: filePath, Status: status}
	if err := s.db.Create(&doc).Error; err != nil {
		return nil, false, fmt.Errorf("failed to register document %s: %w", hash, err)
	}
	log.WithFields(logrus.Fields{"hash": hash, "file": fileName, "status": status}).Info("Document registered")
	return &doc, true, nil
}

// Get returns a document by hash.
func (s *Store) Get(hash string) (*Document, error) {
	var doc Document
	if err := s.db.Where("hash = ?", hash).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("document %s not found", hash)
		}
		return nil, fmt.Errorf("failed to load document %s: %w", hash, err)
	}
	return &doc, nil
}

// List returns documents, newest first, optionally filtered by status.
func (s *Store) List(status Status, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 100
	}
	q := s.db.Order("updated_at DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var docs []Document
	if err := q.Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

// Transition moves a document to a new status, enforcing the matrix.
// update, when non-nil, mutates the document inside the same write.
func (s *Store) Transition(hash string, to Status, reason string, update func(*Document)) (*Document, error) {
	var doc Document
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("hash = ?", hash).First(&doc).Error; err != nil {
			return fmt.Errorf("failed to load document %s: %w", hash, err)
		}
		if !transitionAllowed(doc.Status, to) {
			return ErrInvalidTransition{From: doc.Status, To: to}
		}

		from := doc.Status
		doc.Status = to
		if update != nil {
			update(&doc)
		}
		if err := tx.Save(&doc).Error; err != nil {
			return fmt.Errorf("failed to save document %s: %w", hash, err)
		}

		log.WithFields(logrus.Fields{
			"hash":   hash,
			"from":   from,
			"to":     to,
			"reason": reason,
		}).Info("Document status changed")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func transitionAllowed(from, to Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// RequeueStuck moves every PROCESSING document older than maxAge to
// STUCK so an operator can decide what to do with it.
func (s *Store) RequeueStuck(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	var docs []Document
	if err := s.db.Where("status = ? AND updated_at < ?", StatusProcessing, cutoff).Find(&docs).Error; err != nil {
		return 0, fmt.Errorf("failed to scan for stuck documents: %w", err)
	}
	marked := 0
	for _, doc := range docs {
		if _, err := s.Transition(doc.Hash, StatusStuck, "processing timeout", nil); err != nil {
			log.WithError(err).WithField("hash", doc.Hash).Warn("Could not mark document as stuck")
			continue
		}
		marked++
	}
	return marked, nil
}
