package protocol

import (
	"strings"
)

// wire protocol between a logden client and daemon. One connection carries
// many logical sessions. Requests and notifications are cbor envelopes; the
// daemon addresses pushes by the session id or operation id in the body.

const Version = 1

// id of one live resource session. Recycled after the session closes.
type SessionId uint64

// id of one cancelable/addressable sub-operation (download range, extension
// channel, get cancel). Monotonic, never recycled. Not a SessionId.
type OperationId uint64

type Method string

const (
	MethodLogOpen                Method = "log/open"
	MethodLogClose               Method = "log/close"
	MethodLogAppend              Method = "log/append"
	MethodLogGet                 Method = "log/get"
	MethodLogGetCancel           Method = "log/get-cancel"
	MethodLogUpdate              Method = "log/update"
	MethodLogSeek                Method = "log/seek"
	MethodLogHas                 Method = "log/has"
	MethodLogDownload            Method = "log/download"
	MethodLogUndownload          Method = "log/undownload"
	MethodLogDownloaded          Method = "log/downloaded"
	MethodLogLock                Method = "log/lock"
	MethodLogUnlock              Method = "log/unlock"
	MethodLogExtension           Method = "log/extension"
	MethodLogExtensionUnregister Method = "log/extension-unregister"
	MethodLogExtensionSend       Method = "log/extension-send"

	// daemon -> client pushes
	MethodLogAppendNotice    Method = "log/append-notice"
	MethodLogPeerOpen        Method = "log/peer-open"
	MethodLogPeerRemove      Method = "log/peer-remove"
	MethodLogExtensionNotice Method = "log/extension-notice"
	MethodLogCloseNotice     Method = "log/close-notice"

	MethodStoreLogDiscovered Method = "store/log-discovered"

	MethodNetworkConfigure   Method = "network/configure"
	MethodNetworkStatus      Method = "network/status"
	MethodNetworkAllStatuses Method = "network/all-statuses"
	MethodNetworkPeers       Method = "network/peers"
	MethodNetworkPeerOpen    Method = "network/peer-open"
	MethodNetworkPeerRemove  Method = "network/peer-remove"
)

// a category groups the methods routed to one subscriber
type Category string

const (
	CategoryLog     Category = "log"
	CategoryStore   Category = "store"
	CategoryNetwork Category = "network"
)

func (self Method) Category() Category {
	if i := strings.IndexByte(string(self), '/'); 0 <= i {
		return Category(self[:i])
	}
	return Category(self)
}

type EnvelopeType int

const (
	EnvelopeTypeRequest  EnvelopeType = 1
	EnvelopeTypeResponse EnvelopeType = 2
	EnvelopeTypeNotify   EnvelopeType = 3
)

// one framed message in either direction.
// requests carry a request id that the response echoes.
// notifies carry no request id and never get a response.
type Envelope struct {
	Type      EnvelopeType `cbor:"t"`
	RequestId uint64       `cbor:"rid,omitempty"`
	Method    Method       `cbor:"m,omitempty"`
	Error     string       `cbor:"err,omitempty"`
	Body      []byte       `cbor:"b,omitempty"`
}

// sent by the client immediately after connect. The daemon echoes it back
// verbatim to accept, or closes the connection to reject.
type Hello struct {
	Protocol   int    `cbor:"protocol"`
	InstanceId []byte `cbor:"instance_id"`
	Token      string `cbor:"token,omitempty"`
	AppVersion string `cbor:"app_version,omitempty"`
}

// a remote peer replicating one or more resources.
// identity is RemotePublicKey, equality by value.
type Peer struct {
	ConnectionType  string `cbor:"connection_type,omitempty"`
	RemoteAddress   string `cbor:"remote_address,omitempty"`
	RemotePublicKey []byte `cbor:"remote_public_key"`
}

type OpenRequest struct {
	SessionId SessionId `cbor:"session_id"`
	Namespace string    `cbor:"namespace,omitempty"`
	Key       []byte    `cbor:"key,omitempty"`
	Weak      bool      `cbor:"weak,omitempty"`
}

type OpenResponse struct {
	Key        []byte `cbor:"key"`
	Length     uint64 `cbor:"length"`
	ByteLength uint64 `cbor:"byte_length"`
	Writable   bool   `cbor:"writable"`
	Peers      []Peer `cbor:"peers,omitempty"`
}

type CloseRequest struct {
	SessionId SessionId `cbor:"session_id"`
}

type AppendRequest struct {
	SessionId SessionId `cbor:"session_id"`
	Blocks    [][]byte  `cbor:"blocks"`
}

type AppendResponse struct {
	// sequence number of the first appended block
	Seq        uint64 `cbor:"seq"`
	Length     uint64 `cbor:"length"`
	ByteLength uint64 `cbor:"byte_length"`
}

type GetRequest struct {
	SessionId   SessionId   `cbor:"session_id"`
	OperationId OperationId `cbor:"operation_id"`
	Seq         uint64      `cbor:"seq"`
	Wait        bool        `cbor:"wait,omitempty"`
	IfAvailable bool        `cbor:"if_available,omitempty"`
}

type GetResponse struct {
	Block []byte `cbor:"block"`
}

type GetCancel struct {
	SessionId   SessionId   `cbor:"session_id"`
	OperationId OperationId `cbor:"operation_id"`
}

type UpdateRequest struct {
	SessionId   SessionId `cbor:"session_id"`
	MinLength   uint64    `cbor:"min_length"`
	IfAvailable bool      `cbor:"if_available,omitempty"`
	Hash        bool      `cbor:"hash,omitempty"`
}

type UpdateResponse struct {
	Length     uint64 `cbor:"length"`
	ByteLength uint64 `cbor:"byte_length"`
}

type SeekRequest struct {
	SessionId  SessionId `cbor:"session_id"`
	ByteOffset uint64    `cbor:"byte_offset"`
}

type SeekResponse struct {
	Seq         uint64 `cbor:"seq"`
	BlockOffset uint64 `cbor:"block_offset"`
}

type HasRequest struct {
	SessionId SessionId `cbor:"session_id"`
	Seq       uint64    `cbor:"seq"`
}

type HasResponse struct {
	Has bool `cbor:"has"`
}

// End is a half-open bound. 0 means unbounded.
// Blocks optionally overlays discrete indexes on [Start, End).
type DownloadRequest struct {
	SessionId   SessionId   `cbor:"session_id"`
	OperationId OperationId `cbor:"operation_id"`
	Start       uint64      `cbor:"start"`
	End         uint64      `cbor:"end"`
	Blocks      []uint64    `cbor:"blocks,omitempty"`
}

type DownloadResponse struct{}

type UndownloadRequest struct {
	SessionId   SessionId   `cbor:"session_id"`
	OperationId OperationId `cbor:"operation_id"`
}

type DownloadedRequest struct {
	SessionId SessionId `cbor:"session_id"`
	Start     uint64    `cbor:"start"`
	End       uint64    `cbor:"end"`
}

type DownloadedResponse struct {
	Blocks uint64 `cbor:"blocks"`
}

type LockRequest struct {
	SessionId SessionId `cbor:"session_id"`
}

type LockResponse struct{}

type UnlockRequest struct {
	SessionId SessionId `cbor:"session_id"`
}

type ExtensionRequest struct {
	SessionId   SessionId   `cbor:"session_id"`
	OperationId OperationId `cbor:"operation_id"`
	Name        string      `cbor:"name"`
}

type ExtensionUnregisterRequest struct {
	SessionId   SessionId   `cbor:"session_id"`
	OperationId OperationId `cbor:"operation_id"`
}

// RemotePublicKey nil means broadcast to all connected peers of the resource
type ExtensionSendRequest struct {
	SessionId       SessionId   `cbor:"session_id"`
	OperationId     OperationId `cbor:"operation_id"`
	Data            []byte      `cbor:"data"`
	RemotePublicKey []byte      `cbor:"remote_public_key,omitempty"`
}

type AppendNotice struct {
	SessionId  SessionId `cbor:"session_id"`
	Length     uint64    `cbor:"length"`
	ByteLength uint64    `cbor:"byte_length"`
}

type PeerOpenNotice struct {
	SessionId SessionId `cbor:"session_id"`
	Peer      Peer      `cbor:"peer"`
}

type PeerRemoveNotice struct {
	SessionId SessionId `cbor:"session_id"`
	Peer      Peer      `cbor:"peer"`
}

type ExtensionNotice struct {
	SessionId   SessionId   `cbor:"session_id"`
	OperationId OperationId `cbor:"operation_id"`
	Data        []byte      `cbor:"data"`
	Peer        Peer        `cbor:"peer"`
}

type CloseNotice struct {
	SessionId SessionId `cbor:"session_id"`
}

type LogDiscoveredNotice struct {
	Namespace string `cbor:"namespace,omitempty"`
	Key       []byte `cbor:"key"`
}

type ConfigureRequest struct {
	DiscoveryKey []byte `cbor:"discovery_key"`
	Lookup       bool   `cbor:"lookup,omitempty"`
	Announce     bool   `cbor:"announce,omitempty"`
	Flush        bool   `cbor:"flush,omitempty"`
	Remember     bool   `cbor:"remember,omitempty"`
	CopyFrom     []byte `cbor:"copy_from,omitempty"`
	Overwrite    bool   `cbor:"overwrite,omitempty"`
}

type ConfigureResponse struct{}

type NetworkStatus struct {
	DiscoveryKey []byte `cbor:"discovery_key"`
	Lookup       bool   `cbor:"lookup,omitempty"`
	Announce     bool   `cbor:"announce,omitempty"`
	Remember     bool   `cbor:"remember,omitempty"`
}

type StatusRequest struct {
	DiscoveryKey []byte `cbor:"discovery_key"`
}

type StatusResponse struct {
	Status *NetworkStatus `cbor:"status,omitempty"`
}

type AllStatusesRequest struct{}

type AllStatusesResponse struct {
	Statuses []NetworkStatus `cbor:"statuses,omitempty"`
}

type ListPeersRequest struct{}

type ListPeersResponse struct {
	Peers []Peer `cbor:"peers,omitempty"`
}

type NetworkPeerOpenNotice struct {
	Peer Peer `cbor:"peer"`
}

type NetworkPeerRemoveNotice struct {
	Peer Peer `cbor:"peer"`
}
