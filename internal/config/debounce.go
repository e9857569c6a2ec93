package config

import (
	"sync"
	"time"
)

// Debouncer collapses bursts of values into one call of fn with the latest
// value, delay after the last Push. Close runs any pending call before it
// returns.
type Debouncer[T any] struct {
	delay time.Duration
	fn    func(T)
	in    chan T
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// NewDebouncer starts a debouncer.
func NewDebouncer[T any](delay time.Duration, fn func(T)) *Debouncer[T] {
	d := &Debouncer[T]{
		delay: delay,
		fn:    fn,
		in:    make(chan T),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

// Push schedules fn(v). Values pushed after Close are dropped.
func (d *Debouncer[T]) Push(v T) {
	select {
	case d.in <- v:
	case <-d.quit:
	}
}

func (d *Debouncer[T]) run() {
	defer close(d.done)

	var (
		pending T
		waiting bool
		timer   *time.Timer
		fire    <-chan time.Time
	)
	for {
		select {
		case v := <-d.in:
			pending, waiting = v, true
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(d.delay)
			fire = timer.C

		case <-fire:
			d.fn(pending)
			waiting, fire = false, nil

		case <-d.quit:
			if timer != nil {
				timer.Stop()
			}
			if waiting {
				d.fn(pending)
			}
			return
		}
	}
}

// Close flushes the pending value and stops the debouncer.
func (d *Debouncer[T]) Close() {
	d.once.Do(func() { close(d.quit) })
	<-d.done
}
