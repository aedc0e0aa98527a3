package pool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	errs "imgscraper/pkg/errors"
	"imgscraper/pkg/logger"
	"imgscraper/pkg/scraper"
	"imgscraper/pkg/searchkey"
)

// Job is one search key to scrape. Index is its position in the input list.
type Job struct {
	Index int
	Key   searchkey.Key
}

// Result wraps the outcome of a job. Panicked is set when the job did not
// return normally and Outcome was synthesized from the recovered value.
type Result struct {
	Job      Job
	Outcome  scraper.Outcome
	Panicked bool
	Duration time.Duration
}

// RunFunc runs a single key job to completion
type RunFunc func(ctx context.Context, key searchkey.Key) scraper.Outcome

// WorkerPool runs key jobs on a fixed number of workers
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan Job
	resultQueue chan Result
	wg          sync.WaitGroup
	run         RunFunc
	logger      logger.Logger
	stopOnce    sync.Once
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(numWorkers int, run RunFunc, log logger.Logger) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &WorkerPool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan Job, numWorkers*2), // Buffer size = 2x workers
		resultQueue: make(chan Result, numWorkers),
		run:         run,
		logger:      log,
	}
}

// Start launches the workers. ctx is handed to every job; cancelling it
// does not drop queued jobs, each still produces a result.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.logger.InfoWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

// Stop closes the job queue, waits for in-flight jobs and closes Results
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		close(wp.jobQueue)
		wp.wg.Wait()
		close(wp.resultQueue)
		wp.logger.Debug("Worker pool stopped")
	})
}

// Submit queues a job, blocking while the queue is full
func (wp *WorkerPool) Submit(job Job) {
	wp.jobQueue <- job
	wp.logger.DebugWithFields("Job submitted to queue", map[string]interface{}{
		"search_key": string(job.Key),
		"index":      job.Index,
	})
}

// Results returns the result channel; it is closed by Stop
func (wp *WorkerPool) Results() <-chan Result {
	return wp.resultQueue
}

// worker is the main worker routine
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		wp.resultQueue <- wp.processJob(ctx, job, id)
	}

	wp.logger.DebugWithFields("Worker stopping - job queue closed", map[string]interface{}{
		"worker_id": id,
	})
}

// processJob runs a job, converting a panic into a failed outcome
func (wp *WorkerPool) processJob(ctx context.Context, job Job, workerID int) (result Result) {
	start := time.Now()
	result = Result{Job: job}

	wp.logger.DebugWithFields("Worker processing job", map[string]interface{}{
		"worker_id":  workerID,
		"search_key": string(job.Key),
	})

	defer func() {
		if r := recover(); r != nil {
			err := errs.New(errs.ErrorTypeUnknown, fmt.Sprintf("job panicked: %v", r))
			wp.logger.WithError(err).ErrorWithFields("Worker recovered from panic", map[string]interface{}{
				"worker_id":  workerID,
				"search_key": string(job.Key),
				"stack":      string(debug.Stack()),
			})
			result.Outcome = scraper.FailedOutcome(job.Key, err)
			result.Panicked = true
		}
		result.Duration = time.Since(start)
		if result.Outcome.Duration == 0 {
			result.Outcome.Duration = result.Duration
		}
	}()

	result.Outcome = wp.run(ctx, job.Key)
	return result
}

// GetActiveWorkers returns the number of workers
func (wp *WorkerPool) GetActiveWorkers() int {
	return wp.numWorkers
}
