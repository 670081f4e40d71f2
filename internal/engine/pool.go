package engine

import "sync"

// workerPool runs image load/hash and geocode jobs off the scheduling
// goroutine. Jobs post their results back with Engine.Post.
type workerPool struct {
	jobs chan func()
	wg   sync.WaitGroup
}

func newWorkerPool(workers int) *workerPool {
	p := &workerPool{jobs: make(chan func(), workers*2)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				job()
			}
		}()
	}
	return p
}

func (p *workerPool) submit(job func()) {
	p.jobs <- job
}

func (p *workerPool) close() {
	close(p.jobs)
	p.wg.Wait()
}
