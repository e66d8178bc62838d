package workerpool

import (
	"sync"

	"github.com/kiteco/dialogue/kite-golib/errors"
)

// Job is a unit of work run by the pool.
type Job func() error

// Pool runs jobs on a fixed number of goroutines.
type Pool struct {
	queue    chan Job
	stop     chan struct{}
	stopOnce sync.Once
	pending  sync.WaitGroup

	m    sync.Mutex
	errs errors.Errors
}

// New starts a pool with the given number of workers.
func New(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		queue: make(chan Job),
		stop:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	for {
		// stopping wins over queued jobs
		select {
		case <-p.stop:
			return
		default:
		}
		select {
		case <-p.stop:
			return
		case job := <-p.queue:
			if err := job(); err != nil {
				p.m.Lock()
				p.errs = errors.Append(p.errs, err)
				p.m.Unlock()
			}
			p.pending.Done()
		}
	}
}

// Add queues jobs without blocking. Jobs still queued when the pool is stopped never run.
func (p *Pool) Add(jobs []Job) {
	p.pending.Add(len(jobs))
	go func() {
		for i, job := range jobs {
			select {
			case p.queue <- job:
			case <-p.stop:
				for range jobs[i:] {
					p.pending.Done()
				}
				return
			}
		}
	}()
}

// Wait blocks until every added job has run or been dropped by Stop, and returns the
// errors of the jobs that failed.
func (p *Pool) Wait() error {
	p.pending.Wait()
	p.m.Lock()
	defer p.m.Unlock()
	if p.errs == nil {
		return nil
	}
	return p.errs
}

// Stop makes the workers exit once their current job is done.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}
