package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"

	"github.com/robertolibanora/ddt-extractor/docstore"
)

// watchInbox polls a scanner drop directory and feeds every new PDF
// into the processing queue. Errors back off exponentially so a broken
// mount does not flood the log.
func (app *App) watchInbox(dir string, pollingInterval time.Duration) {
	minBackoffDuration := 10 * time.Second
	maxBackoffDuration := time.Hour

	backoffDuration := minBackoffDuration

	log.WithField("dir", dir).Info("Watching inbox directory")
	for {
		processedCount, err := app.scanInboxOnce(dir)
		if err != nil {
			log.Errorf("Error scanning inbox: %v", err)
			time.Sleep(backoffDuration)

			// Exponential backoff logic
			backoffDuration *= 2
			if backoffDuration > maxBackoffDuration {
				log.Warnf("Max backoff duration reached. Using %v", maxBackoffDuration)
				backoffDuration = maxBackoffDuration
			}
		} else {
			// Reset backoff when scanning succeeds
			backoffDuration = minBackoffDuration
		}

		// If nothing was picked up, pause before next cycle
		if processedCount == 0 {
			time.Sleep(pollingInterval)
		}
	}
}

// scanInboxOnce ingests every PDF currently sitting in the inbox.
// Files move out of the inbox either way: into the uploads directory
// when new, deleted when the content hash is already tracked.
func (app *App) scanInboxOnce(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("error reading inbox directory %s: %w", dir, err)
	}

	processedCount := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		mtype, err := mimetype.DetectFile(path)
		if err != nil || !mtype.Is("application/pdf") {
			log.WithField("file", entry.Name()).Warn("Skipping inbox file that is not a PDF")
			continue
		}

		hash, err := docstore.HashFile(path)
		if err != nil {
			log.WithError(err).WithField("file", entry.Name()).Error("Could not hash inbox file")
			continue
		}

		finalPath := filepath.Join(app.uploadsDir, hash+".pdf")
		doc, created, err := app.Docs.Register(hash, entry.Name(), finalPath, docstore.StatusQueued)
		if err != nil {
			log.WithError(err).WithField("file", entry.Name()).Error("Could not register inbox file")
			continue
		}
		if !created {
			log.WithFields(logrus.Fields{
				"file": entry.Name(),
				"hash": doc.Hash,
			}).Info("Inbox file already tracked, removing duplicate")
			if err := os.Remove(path); err != nil {
				log.WithError(err).WithField("file", entry.Name()).Warn("Could not remove duplicate inbox file")
			}
			continue
		}

		if err := os.Rename(path, finalPath); err != nil {
			log.WithError(err).WithField("file", entry.Name()).Error("Could not move inbox file to uploads")
			continue
		}

		job := app.enqueueDocument(hash, finalPath)
		log.WithFields(logrus.Fields{
			"file": entry.Name(),
			"hash": hash,
			"job":  job.ID,
		}).Info("Inbox file queued for extraction")
		processedCount++
	}
	return processedCount, nil
}

// sweepStuckDocuments periodically marks documents that have been in
// PROCESSING longer than maxAge as STUCK, so an operator can retry or
// discard them.
func (app *App) sweepStuckDocuments(maxAge time.Duration) {
	interval := maxAge / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	for {
		time.Sleep(interval)
		marked, err := app.Docs.RequeueStuck(maxAge)
		if err != nil {
			log.Errorf("Error sweeping stuck documents: %v", err)
			continue
		}
		if marked > 0 {
			log.WithField("count", marked).Warn("Marked stalled documents as stuck")
		}
	}
}
