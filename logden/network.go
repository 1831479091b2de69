package logden

import (
	"context"

	"github.com/logden/logden/protocol"
)

// a value that resolves to a swarm discovery key. *Log resolves by opening
// if needed; DiscoveryKey is a raw key.
type Discoverable interface {
	networkKey(ctx context.Context) ([]byte, error)
}

type DiscoveryKey []byte

func (self DiscoveryKey) networkKey(ctx context.Context) ([]byte, error) {
	return self, nil
}

func (self *Log) networkKey(ctx context.Context) ([]byte, error) {
	if err := self.ensureOpen(ctx); err != nil {
		return nil, err
	}
	return self.DiscoveryKey(), nil
}

type ConfigureOptions struct {
	Lookup   bool
	Announce bool
	// wait for a full swarm flush before returning
	Flush bool
	// persist the configuration on the daemon
	Remember bool
	// copy the stored configuration of another resource
	CopyFrom  Discoverable
	Overwrite bool
}

func DefaultConfigureOptions() *ConfigureOptions {
	return &ConfigureOptions{
		Remember: false,
	}
}

// Network is a read/write passthrough for the daemon's swarm state. It
// holds no local cache; network peer events are forwarded verbatim, with no
// per-resource correlation.
type Network struct {
	client *Client

	peerOpenCallbacks   *CallbackList[PeerFunction]
	peerRemoveCallbacks *CallbackList[PeerFunction]
}

func newNetwork(client *Client) *Network {
	return &Network{
		client:              client,
		peerOpenCallbacks:   NewCallbackList[PeerFunction](),
		peerRemoveCallbacks: NewCallbackList[PeerFunction](),
	}
}

func (self *Network) AddPeerOpenCallback(peerOpenCallback PeerFunction) func() {
	callbackId := self.peerOpenCallbacks.Add(peerOpenCallback)
	return func() {
		self.peerOpenCallbacks.Remove(callbackId)
	}
}

func (self *Network) AddPeerRemoveCallback(peerRemoveCallback PeerFunction) func() {
	callbackId := self.peerRemoveCallbacks.Add(peerRemoveCallback)
	return func() {
		self.peerRemoveCallbacks.Remove(callbackId)
	}
}

func (self *Network) Configure(ctx context.Context, target Discoverable, options *ConfigureOptions) error {
	if options == nil {
		options = DefaultConfigureOptions()
	}

	discoveryKey, err := target.networkKey(ctx)
	if err != nil {
		return err
	}

	args := &protocol.ConfigureRequest{
		DiscoveryKey: discoveryKey,
		Lookup:       options.Lookup,
		Announce:     options.Announce,
		Flush:        options.Flush,
		Remember:     options.Remember,
		Overwrite:    options.Overwrite,
	}
	if options.CopyFrom != nil {
		copyFromKey, err := options.CopyFrom.networkKey(ctx)
		if err != nil {
			return err
		}
		args.CopyFrom = copyFromKey
	}

	var response protocol.ConfigureResponse
	return self.client.channel.Request(ctx, protocol.MethodNetworkConfigure, args, &response)
}

func (self *Network) Configuration(ctx context.Context, target Discoverable) (*protocol.NetworkStatus, error) {
	discoveryKey, err := target.networkKey(ctx)
	if err != nil {
		return nil, err
	}

	args := &protocol.StatusRequest{
		DiscoveryKey: discoveryKey,
	}
	var response protocol.StatusResponse
	if err := self.client.channel.Request(ctx, protocol.MethodNetworkStatus, args, &response); err != nil {
		return nil, err
	}
	return response.Status, nil
}

func (self *Network) AllConfigurations(ctx context.Context) ([]protocol.NetworkStatus, error) {
	var response protocol.AllStatusesResponse
	if err := self.client.channel.Request(ctx, protocol.MethodNetworkAllStatuses, &protocol.AllStatusesRequest{}, &response); err != nil {
		return nil, err
	}
	return response.Statuses, nil
}

func (self *Network) ListPeers(ctx context.Context) ([]protocol.Peer, error) {
	var response protocol.ListPeersResponse
	if err := self.client.channel.Request(ctx, protocol.MethodNetworkPeers, &protocol.ListPeersRequest{}, &response); err != nil {
		return nil, err
	}
	return response.Peers, nil
}

func (self *Network) handlePeerOpen(notice *protocol.NetworkPeerOpenNotice) error {
	peer := notice.Peer
	for _, callback := range self.peerOpenCallbacks.Get() {
		func() {
			defer handleCallbackPanic()
			callback(&peer)
		}()
	}
	return nil
}

func (self *Network) handlePeerRemove(notice *protocol.NetworkPeerRemoveNotice) error {
	peer := notice.Peer
	for _, callback := range self.peerRemoveCallbacks.Get() {
		func() {
			defer handleCallbackPanic()
			callback(&peer)
		}()
	}
	return nil
}
