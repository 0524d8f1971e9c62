package worker

import (
	"errors"
	"sync"
)

// WorkerPool owns a fixed set of workers. Workers are pushed before
// the pool is started; once started, the pool can be used to wake
// sleeping workers when new work is available. The WaitGroup is
// controlled by the pool and is released once every worker has exited.
type WorkerPool struct {
	sync.Mutex
	workers []Worker
	wg      sync.WaitGroup
	started bool
}

// NewWorkerPool creates a new WorkerPool struct
// and initialises the 'workers' slice.
func NewWorkerPool() *WorkerPool {
	return &WorkerPool{workers: make([]Worker, 0)}
}

// Start cycles through all the workers
// currently inside the WorkerPool and creates
// a goroutine for each. The 'Start' method of
// each worker is executed concurrently.
//
// Start does NOT block. Use Close to stop the
// workers and wait for them to exit.
func (pool *WorkerPool) Start() error {
	pool.Lock()
	defer pool.Unlock()
	if pool.started {
		return errors.New("cannot start an already started worker pool")
	}

	pool.started = true
	for _, worker := range pool.workers {
		pool.wg.Add(1)
		go func(wg *sync.WaitGroup, w Worker) {
			defer wg.Done()
			w.Start()
		}(&pool.wg, worker)
	}

	return nil
}

// PushWorker inserts the workers provided in to the worker pool. Workers
// cannot be added to a pool which has already been started.
func (pool *WorkerPool) PushWorker(workers ...Worker) error {
	pool.Lock()
	defer pool.Unlock()
	if pool.started {
		return errors.New("cannot push worker to already started worker pool")
	}

	pool.workers = append(pool.workers, workers...)
	return nil
}

// WakeupWorkers signals every live worker in the pool. The wakeup channels
// are buffered, so a worker which is about to sleep will still observe a
// wakeup sent while it was finishing its previous unit of work.
func (pool *WorkerPool) WakeupWorkers() error {
	pool.Lock()
	defer pool.Unlock()
	if !pool.started {
		return errors.New("cannot wakeup workers on worker pool that is not started")
	}

	for _, w := range pool.workers {
		if w.Status() != Finished {
			select {
			case w.WakeupChan() <- 1:
			default:
			}
		}
	}

	return nil
}

// Size returns the number of workers attached to this pool.
func (pool *WorkerPool) Size() int {
	pool.Lock()
	defer pool.Unlock()
	return len(pool.workers)
}

// Close will cycle through all the workers inside this
// worker pool and close their wakeup channels, before
// waiting for every worker to exit. Work already in progress
// is allowed to complete.
func (pool *WorkerPool) Close() {
	pool.Lock()
	if !pool.started {
		pool.Unlock()
		return
	}

	for _, w := range pool.workers {
		w.Close()
	}
	pool.started = false
	pool.Unlock()

	pool.wg.Wait()
}
