package collage

import (
	"sync"
	"time"
)

type Monitor struct {
	mutex  sync.Mutex
	update chan struct{}
}

func NewMonitor() *Monitor {
	return &Monitor{
		update: make(chan struct{}),
	}
}

func (self *Monitor) NotifyChannel() <-chan struct{} {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.update
}

// closes the update channel and creates a new one
func (self *Monitor) NotifyAll() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	close(self.update)
	self.update = make(chan struct{})
}

// makes a copy of the list on update.
// callbacks are kept in add order. Function values are not comparable,
// so `Add` returns the remove function instead of matching by value.
type CallbackList[T any] struct {
	mutex       sync.Mutex
	nextId      int
	callbackIds []int
	callbacks   map[int]T
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		callbacks: map[int]T{},
	}
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbacks := make([]T, 0, len(self.callbackIds))
	for _, callbackId := range self.callbackIds {
		callbacks = append(callbacks, self.callbacks[callbackId])
	}
	return callbacks
}

func (self *CallbackList[T]) Add(callback T) func() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackId := self.nextId
	self.nextId += 1
	self.callbackIds = append(self.callbackIds, callbackId)
	self.callbacks[callbackId] = callback

	return func() {
		self.remove(callbackId)
	}
}

func (self *CallbackList[T]) remove(callbackId int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if _, ok := self.callbacks[callbackId]; !ok {
		// already removed
		return
	}
	delete(self.callbacks, callbackId)
	nextCallbackIds := make([]int, 0, len(self.callbackIds)-1)
	for _, existingCallbackId := range self.callbackIds {
		if existingCallbackId != callbackId {
			nextCallbackIds = append(nextCallbackIds, existingCallbackId)
		}
	}
	self.callbackIds = nextCallbackIds
}

// coalesces a burst of writes into a single trailing flush of the latest value.
// used by callers that persist settings, so that a drag of a slider becomes
// one write instead of hundreds.
type Coalescer[T any] struct {
	window time.Duration
	flush  func(T)

	mutex   sync.Mutex
	pending *T
	timer   *time.Timer
	closed  bool
}

func NewCoalescer[T any](window time.Duration, flush func(T)) *Coalescer[T] {
	return &Coalescer[T]{
		window: window,
		flush:  flush,
	}
}

func (self *Coalescer[T]) Set(value T) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if self.closed {
		return
	}
	self.pending = &value
	if self.timer == nil {
		self.timer = time.AfterFunc(self.window, self.flushPending)
	} else {
		self.timer.Reset(self.window)
	}
}

func (self *Coalescer[T]) flushPending() {
	self.mutex.Lock()
	pending := self.pending
	self.pending = nil
	self.timer = nil
	self.mutex.Unlock()

	if pending != nil {
		self.flush(*pending)
	}
}

// flushes any pending value before returning
func (self *Coalescer[T]) Close() {
	self.mutex.Lock()
	if self.closed {
		self.mutex.Unlock()
		return
	}
	self.closed = true
	if self.timer != nil {
		self.timer.Stop()
		self.timer = nil
	}
	pending := self.pending
	self.pending = nil
	self.mutex.Unlock()

	if pending != nil {
		self.flush(*pending)
	}
}
