package eventbus

import (
	"fmt"
	"sync"
	"sync/atomic"

	evbus "github.com/asaskevich/EventBus"

	"meetscribe-server/internal/platform/logging"
)

// AsyncEventBus delivers published events on a fixed worker pool so
// publishers never wait on subscribers. Events are dropped when the queue is
// full.
type AsyncEventBus struct {
	bus       evbus.Bus
	workerNum int
	workChan  chan asyncEvent
	stopChan  chan struct{}
	wg        sync.WaitGroup
	inflight  sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	mu        sync.RWMutex
	closed    bool
	dropped   atomic.Int64
	logger    *logging.Logger
}

type asyncEvent struct {
	topic string
	args  []interface{}
}

func NewAsyncEventBus(workerNum, queueSize int, logger *logging.Logger) *AsyncEventBus {
	if workerNum <= 0 {
		workerNum = 4
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &AsyncEventBus{
		bus:       evbus.New(),
		workerNum: workerNum,
		workChan:  make(chan asyncEvent, queueSize),
		stopChan:  make(chan struct{}),
		logger:    logger,
	}
}

func (aeb *AsyncEventBus) Start() {
	aeb.startOnce.Do(func() {
		for i := 0; i < aeb.workerNum; i++ {
			aeb.wg.Add(1)
			go aeb.worker()
		}
	})
}

// Stop waits for queued events to be handled and stops the workers.
func (aeb *AsyncEventBus) Stop() {
	aeb.stopOnce.Do(func() {
		aeb.mu.Lock()
		aeb.closed = true
		aeb.mu.Unlock()
		aeb.inflight.Wait()
		close(aeb.stopChan)
		aeb.wg.Wait()
	})
}

func (aeb *AsyncEventBus) worker() {
	defer aeb.wg.Done()
	for {
		select {
		case <-aeb.stopChan:
			return
		case event := <-aeb.workChan:
			aeb.handle(event)
		}
	}
}

func (aeb *AsyncEventBus) handle(event asyncEvent) {
	defer aeb.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			aeb.logger.ErrorTag("SESSION", "event handler panicked", "topic", event.topic, "panic", fmt.Sprint(r))
		}
	}()
	aeb.bus.Publish(event.topic, event.args...)
}

// Publish runs subscribers on the caller's goroutine.
func (aeb *AsyncEventBus) Publish(topic string, args ...interface{}) {
	aeb.bus.Publish(topic, args...)
}

// PublishAsync queues the event for the worker pool.
func (aeb *AsyncEventBus) PublishAsync(topic string, args ...interface{}) {
	aeb.mu.RLock()
	defer aeb.mu.RUnlock()
	if aeb.closed {
		return
	}
	aeb.inflight.Add(1)
	select {
	case aeb.workChan <- asyncEvent{topic: topic, args: args}:
	default:
		aeb.inflight.Done()
		aeb.dropped.Add(1)
		aeb.logger.WarnTag("SESSION", "event queue full, event dropped", "topic", topic)
	}
}

func (aeb *AsyncEventBus) Subscribe(topic string, fn interface{}) error {
	return aeb.bus.Subscribe(topic, fn)
}

func (aeb *AsyncEventBus) Unsubscribe(topic string, handler interface{}) error {
	return aeb.bus.Unsubscribe(topic, handler)
}

func (aeb *AsyncEventBus) HasCallback(topic string) bool {
	return aeb.bus.HasCallback(topic)
}

// Wait blocks until every queued event has been handled.
func (aeb *AsyncEventBus) Wait() {
	aeb.inflight.Wait()
}

// Dropped is the number of events lost to a full queue.
func (aeb *AsyncEventBus) Dropped() int64 {
	return aeb.dropped.Load()
}

// Publisher adapts the bus to evbus.BusPublisher with asynchronous delivery.
func (aeb *AsyncEventBus) Publisher() evbus.BusPublisher {
	return asyncPublisher{aeb}
}

type asyncPublisher struct {
	aeb *AsyncEventBus
}

func (p asyncPublisher) Publish(topic string, args ...interface{}) {
	p.aeb.PublishAsync(topic, args...)
}
