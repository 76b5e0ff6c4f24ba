package mcmc

import (
	"fmt"
	"runtime"
	"sync"
)

// poolTask is a task with a completion callback.
type poolTask struct {
	fn   func() error
	done func(error)
}

// Pool is a fixed set of worker goroutines shared by all the
// multi-step operators.
type Pool struct {
	tasks chan poolTask
	size  int
	once  sync.Once
}

// NewPool starts size workers. If size < 1, GOMAXPROCS workers are
// started.
func NewPool(size int) *Pool {
	if size < 1 {
		size = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		tasks: make(chan poolTask, size),
		size:  size,
	}
	for i := 0; i < size; i++ {
		go p.worker()
	}
	log.Debugf("Started a pool of %d workers", size)
	return p
}

func (p *Pool) worker() {
	for t := range p.tasks {
		t.done(call(t.fn))
	}
}

// call runs fn converting a panic into an error.
func call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn()
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Run executes all the tasks on the pool and waits for all of them to
// finish. The first error is returned.
func (p *Pool) Run(tasks []func() error) error {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		first error
	)
	done := func(err error) {
		if err != nil {
			mu.Lock()
			if first == nil {
				first = err
			}
			mu.Unlock()
		}
		wg.Done()
	}
	wg.Add(len(tasks))
	for _, fn := range tasks {
		p.tasks <- poolTask{fn, done}
	}
	wg.Wait()
	return first
}

// Close stops the workers. Run cannot be called after Close.
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.tasks)
	})
}
