package logden

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/logden/logden/protocol"
)

type WebsocketChannelSettings struct {
	WsHandshakeTimeout time.Duration
	HelloTimeout       time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	PingTimeout        time.Duration
}

func DefaultWebsocketChannelSettings() *WebsocketChannelSettings {
	return &WebsocketChannelSettings{
		WsHandshakeTimeout: 2 * time.Second,
		HelloTimeout:       2 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        15 * time.Second,
		PingTimeout:        1 * time.Second,
	}
}

// WebsocketChannel frames envelopes as cbor over one websocket connection.
// There is no reconnect: when the connection drops, all in-flight requests
// fail and the failure propagates to the caller.
type WebsocketChannel struct {
	ctx    context.Context
	cancel context.CancelFunc

	conn *websocket.Conn

	settings *WebsocketChannelSettings

	writeLock sync.Mutex

	stateLock     sync.Mutex
	closed        bool
	closeErr      error
	nextRequestId uint64
	pending       map[uint64]chan *protocol.Envelope
	handlers      map[protocol.Category]PushHandler
}

func DialWebsocketChannelWithDefaults(
	ctx context.Context,
	daemonUrl string,
	auth *ClientAuth,
) (*WebsocketChannel, error) {
	return DialWebsocketChannel(ctx, daemonUrl, auth, DefaultWebsocketChannelSettings())
}

func DialWebsocketChannel(
	ctx context.Context,
	daemonUrl string,
	auth *ClientAuth,
	settings *WebsocketChannelSettings,
) (*WebsocketChannel, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: settings.WsHandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, daemonUrl, nil)
	if err != nil {
		return nil, err
	}

	success := false
	defer func() {
		if !success {
			conn.Close()
		}
	}()

	if auth == nil {
		auth = NewClientAuth("")
	}
	helloBytes, err := cbor.Marshal(&protocol.Hello{
		Protocol:   protocol.Version,
		InstanceId: auth.InstanceId.Bytes(),
		Token:      auth.Token,
		AppVersion: auth.AppVersion,
	})
	if err != nil {
		return nil, err
	}

	conn.SetWriteDeadline(time.Now().Add(settings.HelloTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, helloBytes); err != nil {
		return nil, err
	}
	conn.SetReadDeadline(time.Now().Add(settings.HelloTimeout))
	if messageType, message, err := conn.ReadMessage(); err != nil {
		return nil, err
	} else {
		// verify the hello echo
		switch messageType {
		case websocket.BinaryMessage:
			if !bytes.Equal(helloBytes, message) {
				return nil, fmt.Errorf("Hello response error: bad bytes.")
			}
		default:
			return nil, fmt.Errorf("Hello response error.")
		}
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	channel := &WebsocketChannel{
		ctx:      cancelCtx,
		cancel:   cancel,
		conn:     conn,
		settings: settings,
		pending:  map[uint64]chan *protocol.Envelope{},
		handlers: map[protocol.Category]PushHandler{},
	}
	go channel.readPump()
	go channel.pingPump()

	success = true
	return channel, nil
}

func (self *WebsocketChannel) Request(ctx context.Context, method protocol.Method, args any, result any) error {
	body, err := cbor.Marshal(args)
	if err != nil {
		return err
	}

	response := make(chan *protocol.Envelope, 1)

	self.stateLock.Lock()
	if self.closed {
		closeErr := self.closeErr
		self.stateLock.Unlock()
		return closeErr
	}
	self.nextRequestId += 1
	requestId := self.nextRequestId
	self.pending[requestId] = response
	self.stateLock.Unlock()

	defer func() {
		self.stateLock.Lock()
		delete(self.pending, requestId)
		self.stateLock.Unlock()
	}()

	err = self.write(&protocol.Envelope{
		Type:      protocol.EnvelopeTypeRequest,
		RequestId: requestId,
		Method:    method,
		Body:      body,
	})
	if err != nil {
		return err
	}
	glog.V(2).Infof("[ch]%s(%d)->\n", method, requestId)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-self.ctx.Done():
		self.stateLock.Lock()
		closeErr := self.closeErr
		self.stateLock.Unlock()
		if closeErr == nil {
			closeErr = errors.New("Channel closed.")
		}
		return closeErr
	case envelope := <-response:
		if envelope.Error != "" {
			return &RemoteError{
				Method:  method,
				Message: envelope.Error,
			}
		}
		if result != nil {
			return cbor.Unmarshal(envelope.Body, result)
		}
		return nil
	}
}

func (self *WebsocketChannel) Notify(method protocol.Method, args any) error {
	body, err := cbor.Marshal(args)
	if err != nil {
		return err
	}
	glog.V(2).Infof("[ch]%s->\n", method)
	return self.write(&protocol.Envelope{
		Type:   protocol.EnvelopeTypeNotify,
		Method: method,
		Body:   body,
	})
}

func (self *WebsocketChannel) Subscribe(category protocol.Category, handler PushHandler) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.handlers[category] = handler
}

func (self *WebsocketChannel) write(envelope *protocol.Envelope) error {
	envelopeBytes, err := cbor.Marshal(envelope)
	if err != nil {
		return err
	}

	self.writeLock.Lock()
	defer self.writeLock.Unlock()

	self.conn.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
	return self.conn.WriteMessage(websocket.BinaryMessage, envelopeBytes)
}

func (self *WebsocketChannel) readPump() {
	defer self.closeWithError(errors.New("Channel closed."))

	for {
		select {
		case <-self.ctx.Done():
			return
		default:
		}

		self.conn.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		messageType, message, err := self.conn.ReadMessage()
		if err != nil {
			glog.Infof("[ch]<- read error = %s\n", err)
			self.closeWithError(err)
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if len(message) == 0 {
				// ping
				glog.V(2).Infof("[ch]ping<-\n")
				continue
			}

			envelope := &protocol.Envelope{}
			if err := cbor.Unmarshal(message, envelope); err != nil {
				glog.Infof("[ch]<- bad envelope = %s\n", err)
				self.closeWithError(err)
				return
			}

			switch envelope.Type {
			case protocol.EnvelopeTypeResponse:
				self.stateLock.Lock()
				response, ok := self.pending[envelope.RequestId]
				if ok {
					delete(self.pending, envelope.RequestId)
				}
				self.stateLock.Unlock()
				if ok {
					glog.V(2).Infof("[ch]%s(%d)<-\n", envelope.Method, envelope.RequestId)
					response <- envelope
				} else {
					// response raced a cancelled request
					glog.V(2).Infof("[ch]drop(%d)<-\n", envelope.RequestId)
				}
			case protocol.EnvelopeTypeNotify, protocol.EnvelopeTypeRequest:
				self.stateLock.Lock()
				handler, ok := self.handlers[envelope.Method.Category()]
				self.stateLock.Unlock()
				if !ok {
					glog.Infof("[ch]%s<- no handler\n", envelope.Method)
					continue
				}
				glog.V(2).Infof("[ch]%s<-\n", envelope.Method)
				if err := handler(envelope.Method, envelope.Body); err != nil {
					// desync. The connection cannot be trusted anymore.
					glog.Infof("[ch]%s<- fatal = %s\n", envelope.Method, err)
					self.closeWithError(err)
					return
				}
			}
		default:
			glog.V(2).Infof("[ch]other=%d<-\n", messageType)
		}
	}
}

func (self *WebsocketChannel) pingPump() {
	for {
		select {
		case <-self.ctx.Done():
			return
		case <-time.After(self.settings.PingTimeout):
			self.writeLock.Lock()
			self.conn.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
			err := self.conn.WriteMessage(websocket.BinaryMessage, make([]byte, 0))
			self.writeLock.Unlock()
			if err != nil {
				// the read pump will surface the close
				return
			}
		}
	}
}

func (self *WebsocketChannel) closeWithError(err error) {
	self.stateLock.Lock()
	if self.closed {
		self.stateLock.Unlock()
		return
	}
	self.closed = true
	self.closeErr = err
	pending := self.pending
	self.pending = map[uint64]chan *protocol.Envelope{}
	self.stateLock.Unlock()

	self.cancel()
	self.conn.Close()

	// in-flight requests observe the close through self.ctx;
	// drain registrations so late responses are not delivered
	for requestId := range pending {
		glog.V(2).Infof("[ch]fail(%d)\n", requestId)
	}
}

func (self *WebsocketChannel) Close() error {
	self.closeWithError(errors.New("Channel closed."))
	return nil
}
