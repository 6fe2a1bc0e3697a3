package audit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAsyncLoggerEnqueueWritesInBackground(t *testing.T) {
	dir := t.TempDir()
	dict, err := Open(filepath.Join(dir, "dictionary.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { dict.Close() })

	cache := NewSessionCache(dict)
	logPath := filepath.Join(dir, "audit.jsonl")
	logger, err := OpenLogger(logPath, cache)
	require.NoError(t, err)

	async := NewAsyncLogger(logger, 0, nil)
	async.Enqueue("corr-1", "sess-1", "anthropic", "a system prompt", "hello", "hi there")
	require.NoError(t, async.Close())

	f, err := os.Open(logPath)
	require.NoError(t, err)
	defer f.Close()

	records, err := ReadRecords(f)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "corr-1", records[0].CorrelationID)
}

func TestAsyncLoggerDropsOnFullQueueAndReportsError(t *testing.T) {
	dir := t.TempDir()
	dict, err := Open(filepath.Join(dir, "dictionary.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { dict.Close() })

	cache := NewSessionCache(dict)
	logger, err := OpenLogger(filepath.Join(dir, "audit.jsonl"), cache)
	require.NoError(t, err)

	blockWorker := make(chan struct{})
	started := make(chan struct{}, 1)
	var droppedErrs int
	async := &AsyncLogger{
		logger: logger,
		queue:  make(chan recordJob, 1),
		onError: func(err error) {
			droppedErrs++
		},
	}
	async.wg.Add(1)
	go func() {
		defer async.wg.Done()
		for job := range async.queue {
			select {
			case started <- struct{}{}:
			default:
			}
			<-blockWorker
			_ = logger.Record(job.correlationID, job.sessionID, job.provider, job.systemPrompt, job.userMessages, job.response)
		}
	}()

	async.Enqueue("corr-1", "sess-1", "p", "s", "u", "r")
	<-started
	async.Enqueue("corr-2", "sess-1", "p", "s", "u", "r")
	async.Enqueue("corr-3", "sess-1", "p", "s", "u", "r")

	require.Equal(t, 1, droppedErrs)
	close(blockWorker)
	require.NoError(t, async.Close())
}
