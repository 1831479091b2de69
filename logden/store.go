package logden

import (
	"github.com/logden/logden/protocol"
)

type DiscoveredFunction = func(log *Log)

// Store scopes logs to one namespace. Sibling stores share the client's
// session registry and connection, so namespaces are a naming concern only.
// A store holds no remote state of its own.
type Store struct {
	client *Client
	name   string

	discoveredCallbacks *CallbackList[DiscoveredFunction]
}

func newStore(client *Client, name string) *Store {
	return &Store{
		client:              client,
		name:                name,
		discoveredCallbacks: NewCallbackList[DiscoveredFunction](),
	}
}

func (self *Store) Name() string {
	return self.name
}

// returns a new log bound to this namespace. Lazy by default: no i/o and no
// session id until the first operation (or LogOptions.Eager).
func (self *Store) Get(options *LogOptions) *Log {
	return newLog(self.client, self.name, options)
}

// log for an existing key
func (self *Store) GetKey(key []byte) *Log {
	return self.Get(&LogOptions{
		Key: key,
	})
}

// the canonical log of this namespace. No key is sent; the daemon derives
// it from the namespace name.
func (self *Store) Default() *Log {
	return self.Get(nil)
}

// sibling store for a different namespace, sharing the registry and
// connection
func (self *Store) Namespace(name string) *Store {
	return self.client.Namespace(name)
}

func (self *Store) AddDiscoveredCallback(discoveredCallback DiscoveredFunction) func() {
	callbackId := self.discoveredCallbacks.Add(discoveredCallback)
	return func() {
		self.discoveredCallbacks.Remove(callbackId)
	}
}

// the daemon found a resource in this namespace. A proxy is only
// constructed when someone is listening; it is weak and lazy so observing a
// discovery does not by itself keep the resource alive or allocate a
// session.
func (self *Store) handleDiscovered(notice *protocol.LogDiscoveredNotice) error {
	callbacks := self.discoveredCallbacks.Get()
	if len(callbacks) == 0 {
		return nil
	}

	log := self.Get(&LogOptions{
		Key:  notice.Key,
		Weak: true,
	})
	for _, callback := range callbacks {
		func() {
			defer handleCallbackPanic()
			callback(log)
		}()
	}
	return nil
}
