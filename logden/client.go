package logden

import (
	"context"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang/glog"

	"github.com/logden/logden/protocol"
)

type FatalFunction = func(err error)

type ClientSettings struct {
	DefaultNamespace string
}

func DefaultClientSettings() *ClientSettings {
	return &ClientSettings{
		DefaultNamespace: "default",
	}
}

// Client multiplexes many log sessions over one channel to the daemon. It
// owns the session registry, routes inbound pushes to the owning proxies,
// and surfaces protocol desync through the fatal callbacks.
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc

	channel  Channel
	registry *Registry
	router   *eventRouter
	network  *Network

	settings *ClientSettings

	stateLock sync.Mutex
	stores    map[string]*Store

	fatalCallbacks *CallbackList[FatalFunction]
}

func NewClientWithDefaults(ctx context.Context, channel Channel) *Client {
	return NewClient(ctx, channel, DefaultClientSettings())
}

func NewClient(ctx context.Context, channel Channel, settings *ClientSettings) *Client {
	cancelCtx, cancel := context.WithCancel(ctx)

	registry := NewRegistry()
	client := &Client{
		ctx:            cancelCtx,
		cancel:         cancel,
		channel:        channel,
		registry:       registry,
		router:         newEventRouter(registry),
		settings:       settings,
		stores:         map[string]*Store{},
		fatalCallbacks: NewCallbackList[FatalFunction](),
	}
	client.network = newNetwork(client)

	channel.Subscribe(protocol.CategoryLog, client.watchFatal(client.router.handlePush))
	channel.Subscribe(protocol.CategoryStore, client.watchFatal(client.handleStorePush))
	channel.Subscribe(protocol.CategoryNetwork, client.watchFatal(client.handleNetworkPush))

	return client
}

// dials a daemon over websocket with default settings
func DialClient(ctx context.Context, daemonUrl string, auth *ClientAuth) (*Client, error) {
	channel, err := DialWebsocketChannelWithDefaults(ctx, daemonUrl, auth)
	if err != nil {
		return nil, err
	}
	return NewClientWithDefaults(ctx, channel), nil
}

// the store for the default namespace
func (self *Client) Store() *Store {
	return self.Namespace(self.settings.DefaultNamespace)
}

func (self *Client) Namespace(name string) *Store {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	store, ok := self.stores[name]
	if !ok {
		store = newStore(self, name)
		self.stores[name] = store
	}
	return store
}

func (self *Client) Network() *Network {
	return self.network
}

func (self *Client) AddFatalCallback(fatalCallback FatalFunction) func() {
	callbackId := self.fatalCallbacks.Add(fatalCallback)
	return func() {
		self.fatalCallbacks.Remove(callbackId)
	}
}

// a handler error is a desync: surface it, then let the channel tear down
func (self *Client) watchFatal(handler PushHandler) PushHandler {
	return func(method protocol.Method, body []byte) error {
		err := handler(method, body)
		if err != nil {
			glog.Infof("[c]fatal %s = %s\n", method, err)
			for _, callback := range self.fatalCallbacks.Get() {
				func() {
					defer handleCallbackPanic()
					callback(err)
				}()
			}
		}
		return err
	}
}

func (self *Client) handleStorePush(method protocol.Method, body []byte) error {
	switch method {
	case protocol.MethodStoreLogDiscovered:
		notice := &protocol.LogDiscoveredNotice{}
		if err := cbor.Unmarshal(body, notice); err != nil {
			return err
		}
		namespace := notice.Namespace
		if namespace == "" {
			namespace = self.settings.DefaultNamespace
		}

		self.stateLock.Lock()
		store := self.stores[namespace]
		self.stateLock.Unlock()

		if store == nil {
			// nobody has this namespace open locally
			glog.V(2).Infof("[c]%s<- no store %s\n", method, namespace)
			return nil
		}
		return store.handleDiscovered(notice)
	default:
		glog.V(2).Infof("[c]%s<- ignored\n", method)
		return nil
	}
}

func (self *Client) handleNetworkPush(method protocol.Method, body []byte) error {
	switch method {
	case protocol.MethodNetworkPeerOpen:
		notice := &protocol.NetworkPeerOpenNotice{}
		if err := cbor.Unmarshal(body, notice); err != nil {
			return err
		}
		return self.network.handlePeerOpen(notice)
	case protocol.MethodNetworkPeerRemove:
		notice := &protocol.NetworkPeerRemoveNotice{}
		if err := cbor.Unmarshal(body, notice); err != nil {
			return err
		}
		return self.network.handlePeerRemove(notice)
	default:
		glog.V(2).Infof("[c]%s<- ignored\n", method)
		return nil
	}
}

func (self *Client) Close() error {
	self.cancel()
	return self.channel.Close()
}
