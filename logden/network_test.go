package logden

import (
	"context"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/logden/logden/protocol"
)

func TestConfigureWithRawKey(t *testing.T) {
	client, channel := newTestClient()
	ctx := context.Background()

	discoveryKey := deriveDiscoveryKey(testLogKey)
	err := client.Network().Configure(ctx, DiscoveryKey(discoveryKey), &ConfigureOptions{
		Lookup:   true,
		Announce: true,
	})
	assert.Equal(t, err, nil)

	configureArgs := channel.lastRequest(protocol.MethodNetworkConfigure).(*protocol.ConfigureRequest)
	assert.Equal(t, configureArgs.DiscoveryKey, discoveryKey)
	assert.Equal(t, configureArgs.Lookup, true)
	assert.Equal(t, configureArgs.Announce, true)
	// remember defaults to false
	assert.Equal(t, configureArgs.Remember, false)
}

func TestConfigureWithLogSubstitutesDiscoveryKey(t *testing.T) {
	client, channel := newTestClient()
	ctx := context.Background()

	log := client.Store().GetKey(testLogKey)

	err := client.Network().Configure(ctx, log, nil)
	assert.Equal(t, err, nil)

	// configuring by proxy opened it to resolve the discovery key
	assert.Equal(t, log.State(), LogStateOpen)
	configureArgs := channel.lastRequest(protocol.MethodNetworkConfigure).(*protocol.ConfigureRequest)
	assert.Equal(t, configureArgs.DiscoveryKey, log.DiscoveryKey())
}

func TestConfiguration(t *testing.T) {
	client, channel := newTestClient()
	ctx := context.Background()

	discoveryKey := deriveDiscoveryKey(testLogKey)
	channel.setRespond(func(method protocol.Method, args any) (any, error) {
		if method == protocol.MethodNetworkStatus {
			return &protocol.StatusResponse{
				Status: &protocol.NetworkStatus{
					DiscoveryKey: discoveryKey,
					Announce:     true,
				},
			}, nil
		}
		return nil, nil
	})

	status, err := client.Network().Configuration(ctx, DiscoveryKey(discoveryKey))
	assert.Equal(t, err, nil)
	assert.Equal(t, status.Announce, true)
	assert.Equal(t, status.DiscoveryKey, discoveryKey)
}

func TestListPeers(t *testing.T) {
	client, channel := newTestClient()
	ctx := context.Background()

	channel.setRespond(func(method protocol.Method, args any) (any, error) {
		if method == protocol.MethodNetworkPeers {
			return &protocol.ListPeersResponse{
				Peers: []protocol.Peer{
					{
						ConnectionType:  "tcp",
						RemoteAddress:   "10.0.0.1:9845",
						RemotePublicKey: []byte("peer a public key"),
					},
				},
			}, nil
		}
		return nil, nil
	})

	peers, err := client.Network().ListPeers(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(peers), 1)
	assert.Equal(t, peers[0].ConnectionType, "tcp")
}

func TestNetworkPeerEventsForwarded(t *testing.T) {
	client, channel := newTestClient()

	opened := []*protocol.Peer{}
	removed := []*protocol.Peer{}
	client.Network().AddPeerOpenCallback(func(peer *protocol.Peer) {
		opened = append(opened, peer)
	})
	client.Network().AddPeerRemoveCallback(func(peer *protocol.Peer) {
		removed = append(removed, peer)
	})

	peer := protocol.Peer{
		RemotePublicKey: []byte("peer a public key"),
	}
	assert.Equal(t, channel.push(protocol.MethodNetworkPeerOpen, &protocol.NetworkPeerOpenNotice{
		Peer: peer,
	}), nil)
	assert.Equal(t, len(opened), 1)

	// forwarded verbatim: a remove with no matching open is not an error
	// here, unlike the per-resource peer list
	assert.Equal(t, channel.push(protocol.MethodNetworkPeerRemove, &protocol.NetworkPeerRemoveNotice{
		Peer: peer,
	}), nil)
	assert.Equal(t, channel.push(protocol.MethodNetworkPeerRemove, &protocol.NetworkPeerRemoveNotice{
		Peer: peer,
	}), nil)
	assert.Equal(t, len(removed), 2)
}
