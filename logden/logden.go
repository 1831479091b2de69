package logden

import (
	"errors"
	"fmt"

	"github.com/logden/logden/protocol"
)

/*
Client for a logden daemon, which hosts stateful append-only log resources.

One connection to the daemon carries many logical sessions. Each `Log` is a
local proxy for one remote resource: it caches length, key, writability and
peers, and mutates that state only from its own open response or from pushes
addressed to its session id. `Store` scopes logs to a namespace, `Network`
exposes swarm configuration, and `Extension` gives a named side-channel for
peer-to-peer messages on one resource.

Error policy:
- usage errors (operation after close, lock before open, undownload without
  a handle) fail synchronously before any request is issued
- protocol desync (push for an unknown session, peer-remove for an absent
  peer) is fatal and surfaced through the client fatal callbacks
- remote failures propagate as *RemoteError. No retries here; retry policy
  belongs to the caller.
*/

var ErrClosed = errors.New("Log is closed.")
var ErrNotOpen = errors.New("Log is not open.")
var ErrGetCancelled = errors.New("Get cancelled.")
var ErrNoDownload = errors.New("Not a download handle.")

// the daemon rejected a request
type RemoteError struct {
	Method  protocol.Method
	Message string
}

func (self *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", self.Method, self.Message)
}

// local and remote session state have diverged. Unrecoverable.
type DesyncError struct {
	Message string
}

func (self *DesyncError) Error() string {
	return self.Message
}

func desyncErrorf(format string, a ...any) *DesyncError {
	return &DesyncError{
		Message: fmt.Sprintf(format, a...),
	}
}
