package logden

import (
	"context"

	"github.com/logden/logden/protocol"
)

// handler for inbound pushes of one category. `body` is the cbor-encoded
// notice. Returning an error is fatal for the channel: it indicates
// client/daemon desync, and the channel stops dispatching and closes.
type PushHandler func(method protocol.Method, body []byte) error

// Channel is the abstract rpc surface the multiplexing core runs on. The
// concrete framing and transport live behind it (see WebsocketChannel).
//
// Pushes of a given session are dispatched in the order the daemon emitted
// them. No cross-session order is guaranteed.
type Channel interface {
	// issues a request and decodes the response into `result`.
	// `result` may be nil when the response body does not matter.
	// a daemon rejection is returned as *RemoteError.
	Request(ctx context.Context, method protocol.Method, args any, result any) error

	// fire and forget, no response
	Notify(method protocol.Method, args any) error

	// registers the handler table for one method category.
	// at most one handler per category; later subscriptions replace.
	Subscribe(category protocol.Category, handler PushHandler)

	Close() error
}
