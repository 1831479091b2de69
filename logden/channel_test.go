package logden

import (
	"context"
	"flag"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/logden/logden/protocol"
)

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

// scripted in-memory channel. Requests are answered by the respond
// function (or canned defaults), notifies are recorded, and pushes are
// delivered synchronously like the websocket read pump does.
type testChannel struct {
	stateLock sync.Mutex

	handlers map[protocol.Category]PushHandler

	requests []*testMessage
	notifies []*testMessage

	respond func(method protocol.Method, args any) (any, error)

	closed bool
}

type testMessage struct {
	method protocol.Method
	args   any
}

func newTestChannel() *testChannel {
	return &testChannel{
		handlers: map[protocol.Category]PushHandler{},
	}
}

func newTestClient() (*Client, *testChannel) {
	channel := newTestChannel()
	client := NewClientWithDefaults(context.Background(), channel)
	return client, channel
}

func (self *testChannel) Request(ctx context.Context, method protocol.Method, args any, result any) error {
	self.stateLock.Lock()
	self.requests = append(self.requests, &testMessage{
		method: method,
		args:   args,
	})
	respond := self.respond
	self.stateLock.Unlock()

	var response any
	var err error
	if respond != nil {
		response, err = respond(method, args)
		if err != nil {
			return err
		}
	}
	if response == nil {
		response, err = testDefaultRespond(method, args)
		if err != nil {
			return err
		}
	}
	if result != nil && response != nil {
		responseBytes, err := cbor.Marshal(response)
		if err != nil {
			return err
		}
		return cbor.Unmarshal(responseBytes, result)
	}
	return nil
}

func (self *testChannel) Notify(method protocol.Method, args any) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.notifies = append(self.notifies, &testMessage{
		method: method,
		args:   args,
	})
	return nil
}

func (self *testChannel) Subscribe(category protocol.Category, handler PushHandler) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.handlers[category] = handler
}

func (self *testChannel) Close() error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.closed = true
	return nil
}

// delivers a push the way the daemon would
func (self *testChannel) push(method protocol.Method, notice any) error {
	body, err := cbor.Marshal(notice)
	if err != nil {
		return err
	}

	self.stateLock.Lock()
	handler := self.handlers[method.Category()]
	self.stateLock.Unlock()

	if handler == nil {
		return nil
	}
	return handler(method, body)
}

func (self *testChannel) setRespond(respond func(method protocol.Method, args any) (any, error)) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.respond = respond
}

func (self *testChannel) requestCount(method protocol.Method) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	count := 0
	for _, request := range self.requests {
		if request.method == method {
			count += 1
		}
	}
	return count
}

func (self *testChannel) notifyCount(method protocol.Method) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	count := 0
	for _, notify := range self.notifies {
		if notify.method == method {
			count += 1
		}
	}
	return count
}

func (self *testChannel) lastRequest(method protocol.Method) any {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	for i := len(self.requests) - 1; 0 <= i; i -= 1 {
		if self.requests[i].method == method {
			return self.requests[i].args
		}
	}
	return nil
}

func (self *testChannel) lastNotify(method protocol.Method) any {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	for i := len(self.notifies) - 1; 0 <= i; i -= 1 {
		if self.notifies[i].method == method {
			return self.notifies[i].args
		}
	}
	return nil
}

var testLogKey = []byte("0123456789abcdef0123456789abcdef")

func testDefaultRespond(method protocol.Method, args any) (any, error) {
	switch method {
	case protocol.MethodLogOpen:
		openArgs := args.(*protocol.OpenRequest)
		key := openArgs.Key
		if key == nil {
			key = testLogKey
		}
		return &protocol.OpenResponse{
			Key:      key,
			Writable: true,
		}, nil
	case protocol.MethodLogAppend:
		appendArgs := args.(*protocol.AppendRequest)
		return &protocol.AppendResponse{
			Seq:    0,
			Length: uint64(len(appendArgs.Blocks)),
		}, nil
	case protocol.MethodLogGet:
		return &protocol.GetResponse{
			Block: []byte("test block"),
		}, nil
	case protocol.MethodLogUpdate:
		updateArgs := args.(*protocol.UpdateRequest)
		return &protocol.UpdateResponse{
			Length: updateArgs.MinLength,
		}, nil
	case protocol.MethodLogSeek:
		return &protocol.SeekResponse{}, nil
	case protocol.MethodLogHas:
		return &protocol.HasResponse{
			Has: true,
		}, nil
	case protocol.MethodLogDownload:
		return &protocol.DownloadResponse{}, nil
	case protocol.MethodLogDownloaded:
		return &protocol.DownloadedResponse{}, nil
	case protocol.MethodLogLock:
		return &protocol.LockResponse{}, nil
	case protocol.MethodNetworkConfigure:
		return &protocol.ConfigureResponse{}, nil
	case protocol.MethodNetworkStatus:
		return &protocol.StatusResponse{}, nil
	case protocol.MethodNetworkAllStatuses:
		return &protocol.AllStatusesResponse{}, nil
	case protocol.MethodNetworkPeers:
		return &protocol.ListPeersResponse{}, nil
	default:
		return nil, nil
	}
}
