package systems

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/vkscaffold/engine/core"
)

// JobTask is a unit of work. Run executes on a worker goroutine; OnComplete
// and OnFailure execute on the goroutine calling Update, which is the only
// one allowed to touch the GPU.
type JobTask struct {
	Name       string
	Run        func() (interface{}, error)
	OnComplete func(result interface{})
	OnFailure  func(err error)
}

type jobResult struct {
	job    JobTask
	result interface{}
	err    error
}

type JobSystem struct {
	numWorkers int
	jobQueue   chan JobTask
	wg         sync.WaitGroup
	// held for reading while sending, so Shutdown never closes the queue
	// under a sender
	sendMu sync.RWMutex

	mu      sync.Mutex
	results []jobResult
	pending int
	closed  bool
}

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")
var ErrJobSystemClosed = fmt.Errorf("job system is shut down")

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	jq := make(chan JobTask, channelSize)
	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   jq,
	}

	js.start()

	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				result, err := job.Run()
				if err != nil {
					core.LogError("job %s failed: %s", job.Name, err)
				}
				js.mu.Lock()
				js.results = append(js.results, jobResult{job: job, result: result, err: err})
				js.mu.Unlock()
			}
		}()
	}
}

/**
 * @brief Shuts the job system down. Queued jobs still run; their callbacks
 * are dropped.
 */
func (js *JobSystem) Shutdown() error {
	js.sendMu.Lock()
	js.mu.Lock()
	if js.closed {
		js.mu.Unlock()
		js.sendMu.Unlock()
		return nil
	}
	js.closed = true
	js.mu.Unlock()
	close(js.jobQueue)
	js.sendMu.Unlock()

	js.wg.Wait()
	return nil
}

/**
 * @brief Updates the job system. Should happen once an update cycle. Runs
 * the callbacks of every job finished since the last call and returns how
 * many there were.
 */
func (js *JobSystem) Update() int {
	js.mu.Lock()
	results := js.results
	js.results = nil
	js.pending -= len(results)
	js.mu.Unlock()

	for _, r := range results {
		if r.err != nil {
			if r.job.OnFailure != nil {
				r.job.OnFailure(r.err)
			}
			continue
		}
		if r.job.OnComplete != nil {
			r.job.OnComplete(r.result)
		}
	}
	return len(results)
}

// Pending is the number of submitted jobs whose callbacks have not run yet.
func (js *JobSystem) Pending() int {
	js.mu.Lock()
	defer js.mu.Unlock()
	return js.pending
}

/**
 * @brief Submits the provided job to be queued for execution. Blocks while
 * the queue is full.
 */
func (js *JobSystem) Submit(jt JobTask) error {
	js.sendMu.RLock()
	defer js.sendMu.RUnlock()
	js.mu.Lock()
	if js.closed {
		js.mu.Unlock()
		return ErrJobSystemClosed
	}
	js.pending++
	js.mu.Unlock()

	js.jobQueue <- jt
	return nil
}
