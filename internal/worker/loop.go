package worker

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrStopped is reported to callers whose work could not be posted.
var ErrStopped = errors.New("main loop stopped")

// Loop is the main confinement context: a single goroutine that runs posted
// functions one at a time, in the order they were posted. Read-side state and
// every repository completion live on it.
type Loop struct {
	logger *zap.Logger

	mu      sync.Mutex
	queue   []func()
	stopped bool

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

func NewLoop(logger *zap.Logger) *Loop {
	return &Loop{
		logger: logger,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
}

func (l *Loop) Start() {
	l.logger.Debug("Starting main loop")
	l.wg.Add(1)
	go l.run()
}

// Stop runs whatever is already queued and then ends the loop goroutine.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.mu.Unlock()

	l.logger.Debug("Stopping main loop...")
	close(l.stop)
	l.wg.Wait()
	l.logger.Debug("Main loop stopped")
}

// Post never blocks. It reports false if the loop is already stopped, in
// which case fn is dropped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		l.logger.Warn("post on stopped main loop dropped")
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default: // Цикл уже разбужен
	}
	return true
}

// Do posts fn and waits for it to run. Calling Do from the loop deadlocks.
func (l *Loop) Do(fn func()) bool {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return false
	}
	<-done
	return true
}

func (l *Loop) run() {
	defer l.wg.Done()

	for {
		select {
		case <-l.wake:
			l.drain()
		case <-l.stop:
			l.drain()
			return
		}
	}
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		// Забираем всю очередь разом
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("main loop task panicked", zap.Any("panic", r))
		}
	}()
	fn()
}
