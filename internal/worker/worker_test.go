package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type echoWorker struct {
	Base
}

func (w *echoWorker) Run(ctx context.Context) {
	w.MarkStarted()
	defer w.MarkDone()
	<-w.Stopping()
}

func TestBaseStopBlocksUntilRunReturns(t *testing.T) {
	w := &echoWorker{Base: NewBase()}
	assert.False(t, w.Alive())

	go w.Run(context.Background())

	for !w.Alive() {
		time.Sleep(time.Millisecond)
	}

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after Run finished")
	}
	assert.False(t, w.Alive())
}

func TestBaseShouldStop(t *testing.T) {
	w := &echoWorker{Base: NewBase()}
	assert.False(t, w.ShouldStop())
	go w.Run(context.Background())
	w.Stop()
	assert.True(t, w.ShouldStop())
}
