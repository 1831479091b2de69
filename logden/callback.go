package logden

import (
	"sync"

	"github.com/golang/glog"
)

// makes a copy of the list on update.
// callbacks are invoked outside of any state lock.
type CallbackList[T any] struct {
	stateLock sync.Mutex

	nextCallbackId int
	callbackIds    []int
	callbacks      map[int]T
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		callbacks: map[int]T{},
	}
}

func (self *CallbackList[T]) Add(callback T) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	callbackId := self.nextCallbackId
	self.nextCallbackId += 1
	self.callbackIds = append(self.callbackIds, callbackId)
	self.callbacks[callbackId] = callback
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId int) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	for i, existingCallbackId := range self.callbackIds {
		if existingCallbackId == callbackId {
			self.callbackIds = append(self.callbackIds[:i], self.callbackIds[i+1:]...)
			delete(self.callbacks, callbackId)
			return
		}
	}
}

// snapshot in add order
func (self *CallbackList[T]) Get() []T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	callbacks := make([]T, 0, len(self.callbackIds))
	for _, callbackId := range self.callbackIds {
		callbacks = append(callbacks, self.callbacks[callbackId])
	}
	return callbacks
}

func (self *CallbackList[T]) Size() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.callbackIds)
}

// callbacks are user code. A panic there must not take down the dispatch
// loop, but it is logged as a crash detail.
func handleCallbackPanic() {
	if r := recover(); r != nil {
		glog.Errorf("[cb]callback panic = %v\n", r)
	}
}
