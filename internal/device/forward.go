package device

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"gitlab.com/gomidi/midi/v2"
)

// Forwarder relays an input port to the unit while no session holds the
// output. SysEx, clock and active sensing are never relayed.
type Forwarder struct {
	tx  *TX802
	log *slog.Logger

	mu      sync.Mutex
	listen  Listener
	parent  context.Context
	cancel  context.CancelFunc
	stop    func()
	done    chan struct{}
	running bool

	forwarded atomic.Int64
	dropped   atomic.Int64
}

// NewForwarder returns a stopped forwarder reading from listen.
func NewForwarder(tx *TX802, listen Listener) *Forwarder {
	return &Forwarder{tx: tx, listen: listen, log: tx.log().With("component", "forwarder")}
}

// Running reports whether the worker is active.
func (f *Forwarder) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// Stats returns how many messages were relayed and dropped.
func (f *Forwarder) Stats() (forwarded, dropped int64) {
	return f.forwarded.Load(), f.dropped.Load()
}

// Start begins relaying. Starting a running forwarder does nothing.
func (f *Forwarder) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.start(ctx)
}

func (f *Forwarder) start(ctx context.Context) error {
	if f.running {
		return nil
	}
	msgs := make(chan midi.Message, 64)
	stop, err := f.listen(func(msg midi.Message) {
		select {
		case msgs <- append(midi.Message(nil), msg...):
		default:
			f.dropped.Add(1)
		}
	})
	if err != nil {
		return err
	}

	f.parent = ctx
	ctx, f.cancel = context.WithCancel(ctx)
	f.stop = stop
	f.done = make(chan struct{})
	f.running = true
	go f.run(ctx, msgs, f.done)
	f.log.Info("forwarding started")
	return nil
}

// Stop halts relaying and waits for the worker to exit. Stopping a stopped
// forwarder does nothing.
func (f *Forwarder) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.halt()
}

func (f *Forwarder) halt() {
	if !f.running {
		return
	}
	f.stop()
	f.cancel()
	<-f.done
	f.running = false
	fwd, drop := f.Stats()
	f.log.Info("forwarding stopped", "forwarded", fwd, "dropped", drop)
}

// SwapInput stops the worker, switches to listen and restarts it if it was
// running.
func (f *Forwarder) SwapInput(listen Listener) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.running
	f.halt()
	f.listen = listen
	if was {
		return f.start(f.parent)
	}
	return nil
}

// SwapOutput stops the worker, points the unit at out and restarts the
// worker if it was running.
func (f *Forwarder) SwapOutput(out Out) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.running
	f.halt()
	if err := f.tx.SetOutput(out); err != nil {
		if was {
			_ = f.start(f.parent)
		}
		return err
	}
	if was {
		return f.start(f.parent)
	}
	return nil
}

func (f *Forwarder) run(ctx context.Context, msgs <-chan midi.Message, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-msgs:
			f.relay(msg)
		}
	}
}

func (f *Forwarder) relay(msg midi.Message) {
	if !Relayable(msg) {
		f.dropped.Add(1)
		return
	}
	sent, err := f.tx.relay(msg.Bytes())
	switch {
	case err != nil:
		f.log.Warn("forward failed", "err", err)
		f.dropped.Add(1)
	case !sent:
		f.dropped.Add(1)
	default:
		f.forwarded.Add(1)
	}
}

// Relayable reports whether msg may be forwarded to the unit.
func Relayable(msg midi.Message) bool {
	if len(msg) == 0 {
		return false
	}
	switch msg[0] {
	case 0xF0, 0xF7, 0xF8, 0xFE:
		return false
	}
	return true
}
