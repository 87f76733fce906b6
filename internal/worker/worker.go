// Package worker runs a group of goroutines that share a stop signal.
package worker

import (
	"sync"
	"sync/atomic"
)

// Worker is a long running task.
type Worker interface {
	// Run returns when its work is done or stopC is closed.
	Run(stopC chan struct{})
}

// Group is a set of running Workers. The zero value is ready to use.
type Group struct {
	m       sync.Mutex
	stopC   chan struct{}
	wg      sync.WaitGroup
	running int32
}

func (g *Group) stopChan() chan struct{} {
	g.m.Lock()
	defer g.m.Unlock()
	if g.stopC == nil {
		g.stopC = make(chan struct{})
	}
	return g.stopC
}

// Start runs w in a new goroutine.
func (g *Group) Start(w Worker) {
	g.StartWithOnFinishHandler(w, nil)
}

// StartWithOnFinishHandler runs w in a new goroutine and calls onFinish after w returns.
// Running does not count w anymore when onFinish is called.
func (g *Group) StartWithOnFinishHandler(w Worker, onFinish func()) {
	stopC := g.stopChan()
	g.wg.Add(1)
	atomic.AddInt32(&g.running, 1)
	go func() {
		defer g.wg.Done()
		w.Run(stopC)
		atomic.AddInt32(&g.running, -1)
		if onFinish != nil {
			onFinish()
		}
	}()
}

// Running returns the number of Workers that have not returned yet.
func (g *Group) Running() int {
	return int(atomic.LoadInt32(&g.running))
}

// Cancel signals every Worker to stop. It does not wait for them.
func (g *Group) Cancel() {
	stopC := g.stopChan()
	g.m.Lock()
	defer g.m.Unlock()
	select {
	case <-stopC:
	default:
		close(stopC)
	}
}

// Wait blocks until every started Worker returns.
func (g *Group) Wait() {
	g.wg.Wait()
}

// Stop cancels the Workers and waits for them.
// Workers must not be started after Stop.
func (g *Group) Stop() {
	g.Cancel()
	g.wg.Wait()
}
