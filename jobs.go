package main

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/robertolibanora/ddt-extractor/docstore"
)

// Job statuses exposed by the jobs API.
const (
	jobPending    = "pending"
	jobInProgress = "in_progress"
	jobCompleted  = "completed"
	jobFailed     = "failed"
)

// Job is one queued extraction run for a single document.
type Job struct {
	ID        string
	Hash      string
	FilePath  string
	Status    string
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JobStore manages jobs and their statuses
type JobStore struct {
	sync.RWMutex
	jobs map[string]*Job
}

var (
	jobStore = &JobStore{jobs: make(map[string]*Job)}
	jobQueue = make(chan *Job, 100) // Buffered channel with capacity of 100 jobs
)

func generateJobID() string {
	return uuid.New().String()
}

func (store *JobStore) addJob(job *Job) {
	store.Lock()
	defer store.Unlock()
	store.jobs[job.ID] = job
}

func (store *JobStore) getJob(jobID string) (*Job, bool) {
	store.RLock()
	defer store.RUnlock()
	job, exists := store.jobs[jobID]
	return job, exists
}

// GetAllJobs returns every known job, newest first.
func (store *JobStore) GetAllJobs() []*Job {
	store.RLock()
	defer store.RUnlock()

	jobs := make([]*Job, 0, len(store.jobs))
	for _, job := range store.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs
}

func (store *JobStore) updateJobStatus(jobID, status, errMessage string) {
	store.Lock()
	defer store.Unlock()
	if job, exists := store.jobs[jobID]; exists {
		job.Status = status
		job.Error = errMessage
		job.UpdatedAt = time.Now()
	}
}

// enqueueDocument creates and queues a job for a registered document.
func (app *App) enqueueDocument(hash, filePath string) *Job {
	job := &Job{
		ID:        generateJobID(),
		Hash:      hash,
		FilePath:  filePath,
		Status:    jobPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	jobStore.addJob(job)
	jobQueue <- job
	return job
}

func startWorkerPool(app *App, numWorkers int) {
	for i := 0; i < numWorkers; i++ {
		go func(workerID int) {
			log.Infof("Worker %d started", workerID)
			for job := range jobQueue {
				log.Infof("Worker %d processing job %s (%s)", workerID, job.ID, job.Hash)
				processJob(app, job)
			}
		}(i)
	}
}

// processJob runs the extraction pipeline for one document and records
// the outcome in the document store. Each document runs in isolation:
// a failure here never touches other jobs.
func processJob(app *App, job *Job) {
	jobStore.updateJobStatus(job.ID, jobInProgress, "")

	if _, err := app.Docs.Transition(job.Hash, docstore.StatusProcessing, "worker picked up", func(d *docstore.Document) {
		d.QueueID = job.ID
	}); err != nil {
		log.WithError(err).WithField("hash", job.Hash).Error("Could not mark document as processing")
		jobStore.updateJobStatus(job.ID, jobFailed, err.Error())
		return
	}

	result, err := app.Extractor.Process(context.Background(), job.FilePath)
	if err != nil {
		log.WithError(err).WithField("hash", job.Hash).Error("Document extraction failed")
		if _, terr := app.Docs.Transition(job.Hash, docstore.StatusErrorFinal, "extraction failed", func(d *docstore.Document) {
			d.ErrorMessage = err.Error()
		}); terr != nil {
			log.WithError(terr).WithField("hash", job.Hash).Error("Could not record extraction failure")
		}
		jobStore.updateJobStatus(job.ID, jobFailed, err.Error())
		return
	}

	if _, err := app.Docs.Transition(job.Hash, docstore.StatusReadyForReview, "extraction succeeded", func(d *docstore.Document) {
		d.Method = result.Method
		d.RuleName = result.RuleName
		d.ExtractedJSON = mustJSON(result.Data)
		d.ErrorMessage = ""
	}); err != nil {
		log.WithError(err).WithField("hash", job.Hash).Error("Could not record extraction result")
		jobStore.updateJobStatus(job.ID, jobFailed, err.Error())
		return
	}

	jobStore.updateJobStatus(job.ID, jobCompleted, "")
	log.WithFields(logrus.Fields{
		"job":    job.ID,
		"hash":   job.Hash,
		"method": result.Method,
	}).Info("Job completed")
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
