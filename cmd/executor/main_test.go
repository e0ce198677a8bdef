package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunAllWaitsForEveryWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var finished int32
	slow := func(ctx context.Context) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&finished, 1)
	}
	fast := func(ctx context.Context) {
		<-ctx.Done()
		atomic.AddInt32(&finished, 1)
	}

	done := make(chan struct{})
	go func() {
		runAll(ctx, fast, slow, slow)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("runAll returned before ctx was cancelled")
	case <-time.After(10 * time.Millisecond):
	}

	cancel()
	<-done
	assert.Equal(t, int32(3), atomic.LoadInt32(&finished))
}
