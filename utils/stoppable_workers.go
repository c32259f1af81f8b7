package utils

import (
	"context"
	"sync"

	goutils "go.viam.com/utils"
)

// StoppableWorkers is a group of goroutines sharing one cancellation. Stop cancels them and waits
// for all of them to return.
type StoppableWorkers interface {
	AddWorkers(...func(context.Context)) bool
	Stop()
	Stopped() bool
	Context() context.Context
}

// stoppableWorkersImpl is only handed out through the interface so the WaitGroup is never copied.
type stoppableWorkersImpl struct {
	mu         sync.Mutex
	ctx        context.Context
	cancelFunc func()
	workers    sync.WaitGroup
}

// NewStoppableWorkers starts each function in its own goroutine.
func NewStoppableWorkers(funcs ...func(context.Context)) StoppableWorkers {
	ctx, cancelFunc := context.WithCancel(context.Background())
	sw := &stoppableWorkersImpl{ctx: ctx, cancelFunc: cancelFunc}
	sw.AddWorkers(funcs...)
	return sw
}

// AddWorkers starts more goroutines. Once the workers are stopped nothing is started and false is
// returned.
func (sw *stoppableWorkersImpl) AddWorkers(funcs ...func(context.Context)) bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.ctx.Err() != nil {
		return false
	}

	sw.workers.Add(len(funcs))
	for _, f := range funcs {
		goutils.PanicCapturingGo(func() {
			defer sw.workers.Done()
			f(sw.ctx)
		})
	}
	return true
}

// Stop cancels the workers' context and blocks until every worker has returned. It is safe to
// call more than once.
func (sw *stoppableWorkersImpl) Stop() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.cancelFunc()
	sw.workers.Wait()
}

// Stopped returns whether Stop was called.
func (sw *stoppableWorkersImpl) Stopped() bool {
	return sw.ctx.Err() != nil
}

// Context is the context passed to every worker.
func (sw *stoppableWorkersImpl) Context() context.Context {
	return sw.ctx
}
