package httpmux

import "sync"

// pendingTable maps the handle of every active transfer to its task.
type pendingTable struct {
	mu    sync.Mutex
	tasks map[Handle]*task
}

func newPendingTable() *pendingTable {
	return &pendingTable{tasks: make(map[Handle]*task)}
}

func (p *pendingTable) insert(h Handle, tk *task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.tasks[h]; ok {
		return ErrDuplicateHandle
	}
	p.tasks[h] = tk
	return nil
}

// take removes and returns the task for h. A second take for the same handle
// returns false.
func (p *pendingTable) take(h Handle) (*task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tk, ok := p.tasks[h]
	if ok {
		delete(p.tasks, h)
	}
	return tk, ok
}

func (p *pendingTable) drain() []*task {
	p.mu.Lock()
	defer p.mu.Unlock()

	tasks := make([]*task, 0, len(p.tasks))
	for h, tk := range p.tasks {
		tasks = append(tasks, tk)
		delete(p.tasks, h)
	}
	return tasks
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}
