package task

import (
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrRunnerBusy is returned when starting a sequence on a runner whose
	// previous sequence has not completed or failed yet.
	ErrRunnerBusy = errors.New("a task sequence is already running")
	// ErrNoTasks is returned when starting a runner with an empty task list.
	ErrNoTasks = errors.New("task list must not be empty")
)

// Task is a single step of a protocol sequence. Run must invoke exactly one
// of Handler.Done or Handler.Fail, either synchronously or later from a
// network/timer callback.
type Task struct {
	Name string
	Run  func(h *Handler)
}

// Handler is handed to a task to signal its outcome. Outcome signals for a
// task other than the currently executing one are dropped, so a stale timer
// or a late duplicate response cannot fail an already advanced sequence.
type Handler struct {
	runner *Runner
	gen    uint64
}

// Done advances the runner to the next task.
func (h *Handler) Done() {
	h.runner.taskDone(h.gen)
}

// Fail aborts the remaining tasks and invokes the runner's error callback.
func (h *Handler) Fail(err error) {
	h.runner.taskFailed(h.gen, err)
}

// Runner executes tasks strictly sequentially against a shared model owned
// by the caller. Side effects happen inside tasks; the runner only sequences
// them and funnels any outcome into a single success or error callback.
type Runner struct {
	mtx       sync.Mutex
	tasks     []Task
	idx       int
	gen       uint64
	running   bool
	intercept string

	onSuccess func()
	onError   func(error)
}

// NewRunner returns a runner reporting the sequence outcome to the given
// callbacks. Both callbacks are invoked at most once per Run.
func NewRunner(onSuccess func(), onError func(error)) *Runner {
	if onSuccess == nil {
		onSuccess = func() {}
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &Runner{onSuccess: onSuccess, onError: onError}
}

// SetInterceptHook makes the runner stop right before executing the task
// with the given name, reporting success for the executed prefix. Used by
// tests to drive a protocol up to a chosen step. The hook is cleared when
// the sequence completes or fails.
func (r *Runner) SetInterceptHook(taskName string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.intercept = taskName
}

// Run starts the task sequence. It returns ErrRunnerBusy if a previous
// sequence is still outstanding, typically because a task is suspended on a
// network reply.
func (r *Runner) Run(tasks ...Task) error {
	if len(tasks) == 0 {
		return ErrNoTasks
	}

	r.mtx.Lock()
	if r.running {
		r.mtx.Unlock()
		return ErrRunnerBusy
	}
	r.running = true
	r.tasks = tasks
	r.idx = -1
	r.mtx.Unlock()

	r.next()
	return nil
}

func (r *Runner) next() {
	r.mtx.Lock()
	r.idx++
	if r.idx >= len(r.tasks) {
		r.finish(nil)
		return
	}
	t := r.tasks[r.idx]
	if r.intercept != "" && t.Name == r.intercept {
		r.finish(nil)
		return
	}
	r.gen++
	h := &Handler{runner: r, gen: r.gen}
	r.mtx.Unlock()

	log.Debugf("running task %s", t.Name)
	r.execute(t, h)
}

// execute runs a task converting any panic into a failure so an unexpected
// error inside a task can never crash the trade-processing goroutine.
func (r *Runner) execute(t Task, h *Handler) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("task %s panicked: %v", t.Name, rec)
			h.Fail(fmt.Errorf("task %s: %v", t.Name, rec))
		}
	}()
	t.Run(h)
}

func (r *Runner) taskDone(gen uint64) {
	r.mtx.Lock()
	if !r.running || gen != r.gen {
		r.mtx.Unlock()
		log.Debug("dropping stale task completion")
		return
	}
	r.mtx.Unlock()
	r.next()
}

func (r *Runner) taskFailed(gen uint64, err error) {
	r.mtx.Lock()
	if !r.running || gen != r.gen {
		r.mtx.Unlock()
		log.Debug("dropping stale task failure")
		return
	}
	if err == nil {
		err = fmt.Errorf("task %s failed", r.tasks[r.idx].Name)
	}
	r.finish(err)
}

// finish is called with the mutex held and releases it.
func (r *Runner) finish(err error) {
	r.running = false
	r.tasks = nil
	r.intercept = ""
	onSuccess, onError := r.onSuccess, r.onError
	r.mtx.Unlock()

	if err != nil {
		onError(err)
		return
	}
	onSuccess()
}
