package refresh

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type (
	TaskKind  int
	TaskState int

	// Task is a unit of background work performed by the refresh workers. Tasks
	// handed out by the service are copies; mutating them has no effect.
	Task struct {
		ID         uuid.UUID
		Kind       TaskKind
		State      TaskState
		ListName   string
		Page       int
		MovieID    int64
		Favorite   bool
		Error      string
		CreatedAt  time.Time
		FinishedAt *time.Time
	}

	// taskQueue holds queued, running and recently finished tasks in the
	// order they were created. At most 'capacity' tasks may be waiting for
	// a worker, and at most 'capacity' finished tasks are retained.
	taskQueue struct {
		sync.Mutex
		capacity int
		tasks    []*Task
	}
)

const (
	ListRefreshTask TaskKind = iota
	DetailRefreshTask
	FavoriteTask
	SweepTask
)

const (
	Queued TaskState = iota
	Running
	Complete
	Failed
)

func (kind TaskKind) String() string {
	switch kind {
	case ListRefreshTask:
		return "LIST_REFRESH"
	case DetailRefreshTask:
		return "DETAIL_REFRESH"
	case FavoriteTask:
		return "FAVORITE"
	case SweepTask:
		return "SWEEP"
	}

	return "UNKNOWN"
}

func (state TaskState) String() string {
	switch state {
	case Queued:
		return "QUEUED"
	case Running:
		return "RUNNING"
	case Complete:
		return "COMPLETE"
	case Failed:
		return "FAILED"
	}

	return "UNKNOWN"
}

func (task *Task) isFinished() bool {
	return task.State == Complete || task.State == Failed
}

func (task *Task) copy() *Task {
	c := *task
	return &c
}

func newTaskQueue(capacity int) *taskQueue {
	return &taskQueue{capacity: capacity, tasks: make([]*Task, 0, capacity)}
}

// push appends the task to the queue, returning a copy of the task that was
// queued. Detail refreshes for a movie which already has one queued or running
// are coalesced, in which case the existing task is returned and the boolean
// is false.
func (queue *taskQueue) push(task *Task) (*Task, bool, error) {
	queue.Lock()
	defer queue.Unlock()

	pending := 0
	for _, existing := range queue.tasks {
		if existing.isFinished() {
			continue
		}
		if task.Kind == DetailRefreshTask && existing.Kind == DetailRefreshTask && existing.MovieID == task.MovieID {
			return existing.copy(), false, nil
		}
		if existing.State == Queued {
			pending++
		}
	}

	if pending >= queue.capacity {
		return nil, false, ErrQueueFull
	}

	task.ID = uuid.New()
	task.State = Queued
	queue.tasks = append(queue.tasks, task)
	return task.copy(), true, nil
}

// claim marks the oldest queued task as running and returns it. The
// returned task is owned by the caller until it is passed to finish.
func (queue *taskQueue) claim() *Task {
	queue.Lock()
	defer queue.Unlock()

	for _, task := range queue.tasks {
		if task.State == Queued {
			task.State = Running
			return task
		}
	}

	return nil
}

func (queue *taskQueue) finish(task *Task, err error, now time.Time) *Task {
	queue.Lock()
	defer queue.Unlock()

	task.FinishedAt = &now
	if err != nil {
		task.State = Failed
		task.Error = err.Error()
	} else {
		task.State = Complete
	}

	queue.pruneFinished()
	return task.copy()
}

// failQueued marks every task still waiting for a worker as failed with
// the error provided, returning copies of the tasks that were failed.
func (queue *taskQueue) failQueued(err error, now time.Time) []*Task {
	queue.Lock()
	defer queue.Unlock()

	failed := make([]*Task, 0)
	for _, task := range queue.tasks {
		if task.State != Queued {
			continue
		}

		task.State = Failed
		task.Error = err.Error()
		task.FinishedAt = &now
		failed = append(failed, task.copy())
	}

	queue.pruneFinished()
	return failed
}

// pruneFinished drops the oldest finished tasks once more than
// 'capacity' of them are retained. Must be called with the lock held.
func (queue *taskQueue) pruneFinished() {
	finished := 0
	for _, task := range queue.tasks {
		if task.isFinished() {
			finished++
		}
	}

	excess := finished - queue.capacity
	if excess <= 0 {
		return
	}

	kept := queue.tasks[:0]
	for _, task := range queue.tasks {
		if excess > 0 && task.isFinished() {
			excess--
			continue
		}
		kept = append(kept, task)
	}
	queue.tasks = kept
}

func (queue *taskQueue) get(id uuid.UUID) *Task {
	queue.Lock()
	defer queue.Unlock()

	for _, task := range queue.tasks {
		if task.ID == id {
			return task.copy()
		}
	}

	return nil
}

func (queue *taskQueue) all() []*Task {
	queue.Lock()
	defer queue.Unlock()

	out := make([]*Task, len(queue.tasks))
	for k, task := range queue.tasks {
		out[k] = task.copy()
	}

	return out
}
