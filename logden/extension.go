package logden

import (
	"github.com/golang/glog"

	"github.com/logden/logden/protocol"
)

type ExtensionMessageFunction = func(message any, peer *protocol.Peer)
type ExtensionErrorFunction = func(err error)

type ExtensionOptions struct {
	// applied to inbound and outbound extension messages.
	// nil means the binary codec.
	Codec Codec

	OnMessage ExtensionMessageFunction
	OnError   ExtensionErrorFunction
}

// Extension is a named side-channel for peer-to-peer messages scoped to one
// log. It is addressed by operation id, so a message for a channel that was
// just unregistered is dropped rather than misdelivered.
type Extension struct {
	log         *Log
	name        string
	operationId protocol.OperationId

	codec     Codec
	onMessage ExtensionMessageFunction
	onError   ExtensionErrorFunction
}

// binds a named extension channel to this log. If the log has not finished
// opening, the registration is deferred and sent exactly once after the
// open resolves.
func (self *Log) RegisterExtension(name string, options *ExtensionOptions) (*Extension, error) {
	if options == nil {
		options = &ExtensionOptions{}
	}
	codec := options.Codec
	if codec == nil {
		codec = DefaultCodec
	}

	extension := &Extension{
		log:         self,
		name:        name,
		operationId: self.client.registry.CreateOperationId(),
		codec:       codec,
		onMessage:   options.OnMessage,
		onError:     options.OnError,
	}

	self.stateLock.Lock()
	switch self.state {
	case LogStateClosing, LogStateClosed:
		self.stateLock.Unlock()
		return nil, ErrClosed
	}
	self.extensions[extension.operationId] = extension
	open := self.state == LogStateOpen
	if !open {
		self.pendingExtensions = append(self.pendingExtensions, extension)
	}
	self.stateLock.Unlock()

	if open {
		extension.register()
	}
	return extension, nil
}

func (self *Extension) Name() string {
	return self.name
}

func (self *Extension) OperationId() protocol.OperationId {
	return self.operationId
}

func (self *Extension) register() {
	sessionId, _ := self.log.SessionId()
	args := &protocol.ExtensionRequest{
		SessionId:   sessionId,
		OperationId: self.operationId,
		Name:        self.name,
	}
	if err := self.log.client.channel.Notify(protocol.MethodLogExtension, args); err != nil {
		glog.V(2).Infof("[ext]register error %s/%d = %s\n", self.name, self.operationId, err)
	}
}

// encodes `message` and sends it to `peer`, or to all connected peers of
// the log when `peer` is nil. Fire and forget.
func (self *Extension) Send(message any, peer *protocol.Peer) error {
	self.log.stateLock.Lock()
	state := self.log.state
	sessionId := self.log.sessionId
	self.log.stateLock.Unlock()

	switch state {
	case LogStateClosing, LogStateClosed:
		return ErrClosed
	case LogStateOpen:
	default:
		return ErrNotOpen
	}

	data, err := self.codec.Encode(message)
	if err != nil {
		return err
	}

	args := &protocol.ExtensionSendRequest{
		SessionId:   sessionId,
		OperationId: self.operationId,
		Data:        data,
	}
	if peer != nil {
		args.RemotePublicKey = peer.RemotePublicKey
	}
	return self.log.client.channel.Notify(protocol.MethodLogExtensionSend, args)
}

func (self *Extension) Broadcast(message any) error {
	return self.Send(message, nil)
}

// unbinds the channel. Messages already in flight for its operation id are
// dropped on arrival.
func (self *Extension) Unregister() {
	self.log.stateLock.Lock()
	_, registered := self.log.extensions[self.operationId]
	delete(self.log.extensions, self.operationId)
	for i, pendingExtension := range self.log.pendingExtensions {
		if pendingExtension == self {
			self.log.pendingExtensions = append(
				self.log.pendingExtensions[:i],
				self.log.pendingExtensions[i+1:]...,
			)
			// never sent, nothing to tell the daemon
			registered = false
			break
		}
	}
	state := self.log.state
	sessionId := self.log.sessionId
	self.log.stateLock.Unlock()

	if registered && state == LogStateOpen {
		args := &protocol.ExtensionUnregisterRequest{
			SessionId:   sessionId,
			OperationId: self.operationId,
		}
		if err := self.log.client.channel.Notify(protocol.MethodLogExtensionUnregister, args); err != nil {
			glog.V(2).Infof("[ext]unregister error %s/%d = %s\n", self.name, self.operationId, err)
		}
	}
}

func (self *Extension) dispatch(data []byte, peer *protocol.Peer) {
	message, err := self.codec.Decode(data)
	if err != nil {
		if self.onError != nil {
			func() {
				defer handleCallbackPanic()
				self.onError(err)
			}()
		}
		return
	}
	if self.onMessage != nil {
		func() {
			defer handleCallbackPanic()
			self.onMessage(message, peer)
		}()
	}
}
