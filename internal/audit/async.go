package audit

import (
	"fmt"
	"sync"
)

// recordJob is one audit write queued for the background worker.
type recordJob struct {
	correlationID string
	sessionID     string
	provider      string
	systemPrompt  string
	userMessages  string
	response      string
}

// AsyncLogger decouples Record from the request-handling goroutine: audit
// and dictionary writes, including the per-record disk flush, happen on a
// single background worker goroutine instead of blocking the hot path.
// Enqueue never blocks the caller — a full queue drops the record and
// reports it through onError, giving the background write its own error
// isolation rather than surfacing failures back into the request that
// triggered them.
type AsyncLogger struct {
	logger  *Logger
	queue   chan recordJob
	onError func(error)

	wg sync.WaitGroup
}

// NewAsyncLogger starts the background worker over logger. queueSize bounds
// how many records may be in flight before Enqueue starts dropping new
// ones; 0 uses a default of 256.
func NewAsyncLogger(logger *Logger, queueSize int, onError func(error)) *AsyncLogger {
	if queueSize <= 0 {
		queueSize = 256
	}
	a := &AsyncLogger{logger: logger, queue: make(chan recordJob, queueSize), onError: onError}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *AsyncLogger) run() {
	defer a.wg.Done()
	for job := range a.queue {
		if err := a.logger.Record(job.correlationID, job.sessionID, job.provider, job.systemPrompt, job.userMessages, job.response); err != nil {
			if a.onError != nil {
				a.onError(err)
			}
		}
	}
}

// Enqueue queues one audit record for background persistence and returns
// immediately; the actual disk write happens off this goroutine.
func (a *AsyncLogger) Enqueue(correlationID, sessionID, provider, systemPrompt, userMessages, response string) {
	job := recordJob{
		correlationID: correlationID,
		sessionID:     sessionID,
		provider:      provider,
		systemPrompt:  systemPrompt,
		userMessages:  userMessages,
		response:      response,
	}
	select {
	case a.queue <- job:
	default:
		if a.onError != nil {
			a.onError(fmt.Errorf("audit: queue full, dropping record for correlation %s", correlationID))
		}
	}
}

// Close stops accepting new records, waits for every already-queued record
// to be written, and closes the underlying Logger.
func (a *AsyncLogger) Close() error {
	close(a.queue)
	a.wg.Wait()
	return a.logger.Close()
}
