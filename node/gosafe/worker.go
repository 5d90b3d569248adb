package gosafe

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Worker is one cancellable background task.
type Worker struct {
	ID        string
	Key       string
	Label     string
	StartTime time.Time
	Done      chan struct{}
	cancel    context.CancelFunc
}

// WorkerInfo is a point-in-time view of a running worker.
type WorkerInfo struct {
	ID      string        `json:"id"`
	Key     string        `json:"key"`
	Label   string        `json:"label"`
	Running time.Duration `json:"running"`
}

// WorkerManager runs tasks keyed by an owner (a block hash for audits) so
// every task of an owner can be cancelled together.
type WorkerManager struct {
	mu      sync.Mutex
	parent  context.Context
	workers map[string]*Worker
	byKey   map[string]map[string]struct{}
	wg      sync.WaitGroup
}

func NewWorkerManager(parent context.Context) *WorkerManager {
	return &WorkerManager{
		parent:  parent,
		workers: make(map[string]*Worker),
		byKey:   make(map[string]map[string]struct{}),
	}
}

// StartWorker runs task in a goroutine with a context derived from the
// manager's parent. It returns the worker ID.
func (wm *WorkerManager) StartWorker(key, label string, task func(ctx context.Context)) string {
	id := uuid.New().String()
	ctx, cancel := context.WithCancel(wm.parent)
	worker := &Worker{
		ID:        id,
		Key:       key,
		Label:     label,
		StartTime: time.Now(),
		Done:      make(chan struct{}),
		cancel:    cancel,
	}

	wm.mu.Lock()
	wm.workers[id] = worker
	if wm.byKey[key] == nil {
		wm.byKey[key] = make(map[string]struct{})
	}
	wm.byKey[key][id] = struct{}{}
	wm.mu.Unlock()

	wm.wg.Add(1)
	go func() {
		defer func() {
			cancel()
			close(worker.Done)
			wm.mu.Lock()
			delete(wm.workers, id)
			if ids := wm.byKey[key]; ids != nil {
				delete(ids, id)
				if len(ids) == 0 {
					delete(wm.byKey, key)
				}
			}
			wm.mu.Unlock()
			wm.wg.Done()
		}()
		task(ctx)
	}()
	return id
}

func (wm *WorkerManager) ListWorkers() []WorkerInfo {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	out := make([]WorkerInfo, 0, len(wm.workers))
	for id, w := range wm.workers {
		out = append(out, WorkerInfo{ID: id, Key: w.Key, Label: w.Label, Running: time.Since(w.StartTime)})
	}
	return out
}

func (wm *WorkerManager) CountWorkers() int {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	return len(wm.workers)
}

// StopWorker cancels one worker's context. It returns false if the worker
// already finished.
func (wm *WorkerManager) StopWorker(id string) bool {
	wm.mu.Lock()
	worker, ok := wm.workers[id]
	wm.mu.Unlock()
	if ok {
		worker.cancel()
	}
	return ok
}

// StopKey cancels every worker started under key and returns how many were
// still running.
func (wm *WorkerManager) StopKey(key string) int {
	wm.mu.Lock()
	var stopped []*Worker
	for id := range wm.byKey[key] {
		stopped = append(stopped, wm.workers[id])
	}
	wm.mu.Unlock()
	for _, w := range stopped {
		w.cancel()
	}
	return len(stopped)
}

func (wm *WorkerManager) WaitWorker(id string) {
	wm.mu.Lock()
	worker, ok := wm.workers[id]
	wm.mu.Unlock()
	if ok {
		<-worker.Done
	}
}

// Wait blocks until every worker has returned.
func (wm *WorkerManager) Wait() {
	wm.wg.Wait()
}
