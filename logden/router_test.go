package logden

import (
	"context"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/logden/logden/protocol"
)

func TestAppendNoticeUpdatesState(t *testing.T) {
	client, channel := newTestClient()
	ctx := context.Background()

	log := client.Store().GetKey(testLogKey)
	assert.Equal(t, log.Open(ctx), nil)
	sessionId, _ := log.SessionId()

	appends := []uint64{}
	log.AddAppendCallback(func(length uint64, byteLength uint64) {
		appends = append(appends, length)
	})

	err := channel.push(protocol.MethodLogAppendNotice, &protocol.AppendNotice{
		SessionId:  sessionId,
		Length:     7,
		ByteLength: 70,
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, log.Length(), uint64(7))
	assert.Equal(t, log.ByteLength(), uint64(70))
	assert.Equal(t, appends, []uint64{7})
}

func TestPushUnknownSessionIsFatal(t *testing.T) {
	client, channel := newTestClient()

	var fatal error
	client.AddFatalCallback(func(err error) {
		fatal = err
	})

	err := channel.push(protocol.MethodLogAppendNotice, &protocol.AppendNotice{
		SessionId: 99,
		Length:    1,
	})
	assert.NotEqual(t, err, nil)
	assert.NotEqual(t, fatal, nil)
}

func TestPeerOpenAndRemove(t *testing.T) {
	client, channel := newTestClient()
	ctx := context.Background()

	log := client.Store().GetKey(testLogKey)
	assert.Equal(t, log.Open(ctx), nil)
	sessionId, _ := log.SessionId()

	opened := 0
	removed := 0
	log.AddPeerOpenCallback(func(peer *protocol.Peer) {
		opened += 1
	})
	log.AddPeerRemoveCallback(func(peer *protocol.Peer) {
		removed += 1
	})

	a := protocol.Peer{
		ConnectionType:  "tcp",
		RemoteAddress:   "10.0.0.1:9845",
		RemotePublicKey: []byte("peer a public key"),
	}
	b := protocol.Peer{
		ConnectionType:  "utp",
		RemoteAddress:   "10.0.0.2:9845",
		RemotePublicKey: []byte("peer b public key"),
	}

	assert.Equal(t, channel.push(protocol.MethodLogPeerOpen, &protocol.PeerOpenNotice{
		SessionId: sessionId,
		Peer:      a,
	}), nil)
	assert.Equal(t, channel.push(protocol.MethodLogPeerOpen, &protocol.PeerOpenNotice{
		SessionId: sessionId,
		Peer:      b,
	}), nil)
	assert.Equal(t, len(log.Peers()), 2)
	assert.Equal(t, opened, 2)

	// removal matches by public key
	assert.Equal(t, channel.push(protocol.MethodLogPeerRemove, &protocol.PeerRemoveNotice{
		SessionId: sessionId,
		Peer:      a,
	}), nil)
	assert.Equal(t, removed, 1)

	peers := log.Peers()
	assert.Equal(t, len(peers), 1)
	assert.Equal(t, peers[0].RemotePublicKey, b.RemotePublicKey)
}

func TestPeerRemoveAbsentIsFatal(t *testing.T) {
	client, channel := newTestClient()
	ctx := context.Background()

	log := client.Store().GetKey(testLogKey)
	assert.Equal(t, log.Open(ctx), nil)
	sessionId, _ := log.SessionId()

	var fatal error
	client.AddFatalCallback(func(err error) {
		fatal = err
	})

	err := channel.push(protocol.MethodLogPeerRemove, &protocol.PeerRemoveNotice{
		SessionId: sessionId,
		Peer: protocol.Peer{
			RemotePublicKey: []byte("never seen"),
		},
	})
	assert.NotEqual(t, err, nil)
	assert.NotEqual(t, fatal, nil)
}

func TestExtensionNoticeUnknownOperationDropped(t *testing.T) {
	client, channel := newTestClient()
	ctx := context.Background()

	log := client.Store().GetKey(testLogKey)
	assert.Equal(t, log.Open(ctx), nil)
	sessionId, _ := log.SessionId()

	// a message racing a deregistration is dropped, not fatal
	err := channel.push(protocol.MethodLogExtensionNotice, &protocol.ExtensionNotice{
		SessionId:   sessionId,
		OperationId: 1234,
		Data:        []byte("late"),
	})
	assert.Equal(t, err, nil)
}

func TestCloseNoticeForcesClosed(t *testing.T) {
	client, channel := newTestClient()
	ctx := context.Background()

	log := client.Store().GetKey(testLogKey)
	assert.Equal(t, log.Open(ctx), nil)
	sessionId, _ := log.SessionId()

	closed := 0
	log.AddCloseCallback(func() {
		closed += 1
	})

	err := channel.push(protocol.MethodLogCloseNotice, &protocol.CloseNotice{
		SessionId: sessionId,
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, log.State(), LogStateClosed)
	assert.Equal(t, closed, 1)
	assert.Equal(t, client.registry.Size(), 0)

	// no client-initiated round trip on top of the daemon close
	assert.Equal(t, log.Close(ctx), nil)
	assert.Equal(t, channel.requestCount(protocol.MethodLogClose), 0)

	_, err = log.Get(ctx, 0, nil)
	assert.Equal(t, err, ErrClosed)
}
