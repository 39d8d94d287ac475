// Package actor implements the broker's concurrency primitive: a
// per-entity serial task queue ("strand") drained cooperatively by a
// shared worker pool. It generalizes the original C++ implementation's
// use of Boost.Asio's `strand` (a serializer built on top of an
// inherited-from I/O executor) into an explicit, self-contained Go type,
// per the re-architecture sketched in the design notes: "a task
// submitted to a per-entity serial queue with the entity owned by the
// task chain." Every Session and the Server itself each own one Strand;
// any number of Pool workers may run distinct Strands' tasks
// concurrently, but a given Strand never runs two tasks at once.
package actor

import "sync"

// Pool is a fixed-size set of goroutines draining a shared task queue.
// It has no notion of which Strand a task belongs to; Strand.Post is
// responsible for ensuring only one of its own tasks is ever inflight
// on the pool at a time.
type Pool struct {
	tasks chan func()
	quit  chan struct{}
	wg    sync.WaitGroup
}

// NewPool starts workers goroutines ready to drain posted tasks. workers
// must be greater than zero.
func NewPool(workers int) *Pool {
	p := &Pool{
		tasks: make(chan func(), 1024),
		quit:  make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.runWorker()
	}
	return p
}

func (p *Pool) runWorker() {
	defer p.wg.Done()
	for {
		select {
		case t := <-p.tasks:
			t()
		case <-p.quit:
			return
		}
	}
}

func (p *Pool) submit(t func()) {
	p.tasks <- t
}

// Stop signals every worker to exit after its current task and blocks
// until all have returned. Tasks still queued on individual Strands are
// not run.
func (p *Pool) Stop() {
	close(p.quit)
	p.wg.Wait()
}

// Strand serializes the tasks posted to it: at most one task is ever
// executing at a time, in FIFO order, though distinct Strands run
// concurrently on the shared Pool. PanicHandler, if set, is invoked
// (outside the strand's own lock) when a posted task panics; the
// default behavior reraises the panic on the pool worker, which is a
// programming fault per the ambient error-handling design and should
// terminate the process like any other unrecovered panic.
type Strand struct {
	pool *Pool

	mu      sync.Mutex
	queue   []func()
	running bool

	PanicHandler func(recovered interface{})
}

// NewStrand returns a Strand that drains its queue on pool.
func NewStrand(pool *Pool) *Strand {
	return &Strand{pool: pool}
}

// Post enqueues task. If the strand was idle, it kicks off draining on
// the shared pool; otherwise the task simply joins the queue behind
// whatever is already running or pending.
func (s *Strand) Post(task func()) {
	s.mu.Lock()
	s.queue = append(s.queue, task)
	kick := !s.running
	if kick {
		s.running = true
	}
	s.mu.Unlock()

	if kick {
		s.pool.submit(s.drain)
	}
}

// Pending reports how many tasks are queued and not yet started; a task
// that is currently executing is not counted. Intended for
// diagnostics/tests only.
func (s *Strand) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Strand) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		task := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.runOne(task)
	}
}

func (s *Strand) runOne(task func()) {
	if s.PanicHandler == nil {
		task()
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.PanicHandler(r)
		}
	}()
	task()
}
