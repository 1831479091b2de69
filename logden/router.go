package logden

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/golang/glog"

	"github.com/logden/logden/protocol"
)

// eventRouter dispatches inbound log pushes to the owning proxy by session
// id. A push for an id the registry does not know is a protocol desync and
// fatal: the error propagates to the channel, which stops dispatching.
//
// dispatch runs on the channel's single inbound goroutine, so pushes for a
// given session are handled in daemon emission order and the peer list and
// extension table of a log are mutated from one path only.
type eventRouter struct {
	registry *Registry
}

func newEventRouter(registry *Registry) *eventRouter {
	return &eventRouter{
		registry: registry,
	}
}

func (self *eventRouter) handlePush(method protocol.Method, body []byte) error {
	switch method {
	case protocol.MethodLogAppendNotice:
		notice := &protocol.AppendNotice{}
		if err := cbor.Unmarshal(body, notice); err != nil {
			return err
		}
		log, err := self.log(notice.SessionId)
		if err != nil {
			return err
		}
		return log.handleAppendNotice(notice)
	case protocol.MethodLogPeerOpen:
		notice := &protocol.PeerOpenNotice{}
		if err := cbor.Unmarshal(body, notice); err != nil {
			return err
		}
		log, err := self.log(notice.SessionId)
		if err != nil {
			return err
		}
		return log.handlePeerOpen(notice)
	case protocol.MethodLogPeerRemove:
		notice := &protocol.PeerRemoveNotice{}
		if err := cbor.Unmarshal(body, notice); err != nil {
			return err
		}
		log, err := self.log(notice.SessionId)
		if err != nil {
			return err
		}
		return log.handlePeerRemove(notice)
	case protocol.MethodLogExtensionNotice:
		notice := &protocol.ExtensionNotice{}
		if err := cbor.Unmarshal(body, notice); err != nil {
			return err
		}
		log, err := self.log(notice.SessionId)
		if err != nil {
			return err
		}
		return log.handleExtensionNotice(notice)
	case protocol.MethodLogCloseNotice:
		notice := &protocol.CloseNotice{}
		if err := cbor.Unmarshal(body, notice); err != nil {
			return err
		}
		log, err := self.log(notice.SessionId)
		if err != nil {
			return err
		}
		return log.handleCloseNotice()
	default:
		glog.V(2).Infof("[rt]%s<- ignored\n", method)
		return nil
	}
}

func (self *eventRouter) log(sessionId protocol.SessionId) (*Log, error) {
	log, ok := self.registry.Get(sessionId)
	if !ok {
		return nil, desyncErrorf("Push for unknown session id %d.", sessionId)
	}
	return log, nil
}
