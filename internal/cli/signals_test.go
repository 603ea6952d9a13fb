package cli

import (
	"context"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/harun/goose/pkg/session"
	"github.com/stretchr/testify/assert"
)

type fakeTarget struct {
	interrupts  atomic.Int32
	interrupted atomic.Bool
	state       atomic.Int32
}

func (f *fakeTarget) Interrupt() {
	f.interrupts.Add(1)
	f.interrupted.Store(true)
}

func (f *fakeTarget) IsInterrupted() bool { return f.interrupted.Load() }

func (f *fakeTarget) State() session.State { return session.State(f.state.Load()) }

func TestWatchSignals(t *testing.T) {
	tests := []struct {
		name           string
		state          session.State
		signals        []os.Signal
		wantInterrupts int32
		wantCancel     bool
	}{
		{
			name:           "interrupt while generating",
			state:          session.StateGenerating,
			signals:        []os.Signal{os.Interrupt},
			wantInterrupts: 1,
		},
		{
			name:           "second interrupt exits",
			state:          session.StateDispatchingTools,
			signals:        []os.Signal{os.Interrupt, os.Interrupt},
			wantInterrupts: 1,
			wantCancel:     true,
		},
		{
			name:       "interrupt at the prompt exits",
			state:      session.StateAwaitingInput,
			signals:    []os.Signal{os.Interrupt},
			wantCancel: true,
		},
		{
			name:       "terminate exits",
			state:      session.StateGenerating,
			signals:    []os.Signal{syscall.SIGTERM},
			wantCancel: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := &fakeTarget{}
			target.state.Store(int32(tt.state))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			var cancelled atomic.Bool
			stop := func() {
				cancelled.Store(true)
				cancel()
			}

			sigs := make(chan os.Signal)
			done := make(chan struct{})
			go func() {
				watchSignals(ctx, sigs, target, stop)
				close(done)
			}()

			for _, sig := range tt.signals {
				sigs <- sig
			}
			if !tt.wantCancel {
				// let the watcher handle the last signal before stopping it
				assert.Eventually(t, func() bool { return target.interrupts.Load() == tt.wantInterrupts }, time.Second, 5*time.Millisecond)
				cancel()
			}

			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("watcher did not return")
			}
			assert.Equal(t, tt.wantInterrupts, target.interrupts.Load())
			assert.Equal(t, tt.wantCancel, cancelled.Load())
		})
	}
}
