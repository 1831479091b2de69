package logden

import (
	"sync"

	"github.com/logden/logden/protocol"
)

// Registry hands out the integer handles that the daemon addresses pushes
// by. Session ids map to live `Log` proxies and are recycled LIFO once a
// session completes its close round trip. Operation ids tag cancelable
// sub-operations (download ranges, extension channels, get cancels) and are
// never reused, so a stale callback can never alias a current one.
type Registry struct {
	stateLock sync.Mutex

	sessions       map[protocol.SessionId]*Log
	freeSessionIds []protocol.SessionId
	nextSessionId  protocol.SessionId

	nextOperationId protocol.OperationId
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: map[protocol.SessionId]*Log{},
	}
}

// binds a new session id to `log`. The most recently freed id is reused
// first, otherwise the next unused integer.
func (self *Registry) Create(log *Log) protocol.SessionId {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	var sessionId protocol.SessionId
	if n := len(self.freeSessionIds); 0 < n {
		sessionId = self.freeSessionIds[n-1]
		self.freeSessionIds = self.freeSessionIds[:n-1]
	} else {
		sessionId = self.nextSessionId
		self.nextSessionId += 1
	}
	self.sessions[sessionId] = log
	return sessionId
}

// unbinds `sessionId` and pushes it onto the free list.
// deleting an unbound id is a programming error.
func (self *Registry) Delete(sessionId protocol.SessionId) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if _, ok := self.sessions[sessionId]; !ok {
		panic("Delete of unbound session id.")
	}
	delete(self.sessions, sessionId)
	self.freeSessionIds = append(self.freeSessionIds, sessionId)
}

func (self *Registry) Get(sessionId protocol.SessionId) (*Log, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	log, ok := self.sessions[sessionId]
	return log, ok
}

// strictly increasing, never recycled
func (self *Registry) CreateOperationId() protocol.OperationId {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.nextOperationId += 1
	return self.nextOperationId
}

func (self *Registry) Size() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.sessions)
}
