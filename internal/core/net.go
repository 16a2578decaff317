package core

import (
	"context"
	"sync"
)

// Runner is satisfied by any component with a blocking Run method taking
// a context, which is the shape every long-lived connection/subscriber
// in this module uses.
type Runner interface {
	Run(ctx context.Context)
}

// ConnectionMaster starts and stops a Runner exactly once; Wait blocks
// callers until its Run method exits.
// Grounded on the teacher's dex.ConnectionMaster, used to bring up a
// websocket client and wait for it to finish.
type ConnectionMaster struct {
	runner    Runner
	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	once      sync.Once
}

// NewConnectionMaster wraps a Runner.
func NewConnectionMaster(r Runner) *ConnectionMaster {
	return &ConnectionMaster{runner: r, done: make(chan struct{})}
}

// ConnectOnce starts the Runner's Run loop in a goroutine, derived from
// ctx, exactly once.
func (cm *ConnectionMaster) ConnectOnce(ctx context.Context) error {
	cm.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		cm.cancel = cancel
		go func() {
			defer close(cm.done)
			cm.runner.Run(ctx)
		}()
	})
	return nil
}

// Disconnect cancels the Runner's context.
func (cm *ConnectionMaster) Disconnect() {
	cm.once.Do(func() {
		if cm.cancel != nil {
			cm.cancel()
		}
	})
}

// Wait blocks until the Runner's Run method has returned.
func (cm *ConnectionMaster) Wait() {
	<-cm.done
}
