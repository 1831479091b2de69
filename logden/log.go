package logden

import (
	"bytes"
	"context"
	"crypto/sha256"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/exp/slices"

	"github.com/logden/logden/protocol"
)

// log state machine is:
// LogStateUninitialized
//
//	-> LogStateOpening
//	  -> LogStateOpen
//	-> LogStateClosing
//	  -> LogStateClosed (terminal)
type LogState string

const (
	LogStateUninitialized LogState = "Uninitialized"
	LogStateOpening       LogState = "Opening"
	LogStateOpen          LogState = "Open"
	LogStateClosing       LogState = "Closing"
	LogStateClosed        LogState = "Closed"
)

func (self LogState) IsTerminal() bool {
	return self == LogStateClosed
}

type LogOptions struct {
	Key []byte
	// a weak log does not keep the remote resource alive beyond its session
	Weak bool
	// an eager log allocates its session id at construction.
	// the default is lazy: no session id until the first operation.
	Eager bool
	Codec Codec
}

type ReadyFunction = func()
type AppendFunction = func(length uint64, byteLength uint64)
type CloseFunction = func()
type PeerFunction = func(peer *protocol.Peer)

// Log is the local proxy for one remote append-only log resource.
//
// Cached state (key, length, byteLength, writable, peers) is mutated only by
// the response to this log's own open call and by pushes addressed to its
// session id. Reads of peers are a live view: the list can change between
// any two calls.
type Log struct {
	client    *Client
	namespace string

	stateLock sync.Mutex

	state       LogState
	sessionId   protocol.SessionId
	hasSession  bool
	openAttempt *openAttempt
	closeDone   chan struct{}

	key          []byte
	discoveryKey []byte
	length       uint64
	byteLength   uint64
	writable     bool
	weak         bool
	codec        Codec

	peers             []*protocol.Peer
	extensions        map[protocol.OperationId]*Extension
	pendingExtensions []*Extension

	readyCallbacks      *CallbackList[ReadyFunction]
	appendCallbacks     *CallbackList[AppendFunction]
	closeCallbacks      *CallbackList[CloseFunction]
	peerOpenCallbacks   *CallbackList[PeerFunction]
	peerRemoveCallbacks *CallbackList[PeerFunction]
}

type openAttempt struct {
	done chan struct{}
	err  error
}

func newLog(client *Client, namespace string, options *LogOptions) *Log {
	if options == nil {
		options = &LogOptions{}
	}
	codec := options.Codec
	if codec == nil {
		codec = DefaultCodec
	}
	log := &Log{
		client:              client,
		namespace:           namespace,
		state:               LogStateUninitialized,
		key:                 options.Key,
		weak:                options.Weak,
		codec:               codec,
		extensions:          map[protocol.OperationId]*Extension{},
		readyCallbacks:      NewCallbackList[ReadyFunction](),
		appendCallbacks:     NewCallbackList[AppendFunction](),
		closeCallbacks:      NewCallbackList[CloseFunction](),
		peerOpenCallbacks:   NewCallbackList[PeerFunction](),
		peerRemoveCallbacks: NewCallbackList[PeerFunction](),
	}
	if options.Key != nil {
		log.discoveryKey = deriveDiscoveryKey(options.Key)
	}
	if options.Eager {
		log.sessionId = client.registry.Create(log)
		log.hasSession = true
	}
	return log
}

func deriveDiscoveryKey(key []byte) []byte {
	h := sha256.New()
	h.Write([]byte("logden/discovery"))
	h.Write(key)
	return h.Sum(nil)
}

func (self *Log) State() LogState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.state
}

func (self *Log) SessionId() (protocol.SessionId, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.sessionId, self.hasSession
}

func (self *Log) Key() []byte {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.key
}

func (self *Log) DiscoveryKey() []byte {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.discoveryKey
}

func (self *Log) Length() uint64 {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.length
}

func (self *Log) ByteLength() uint64 {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.byteLength
}

func (self *Log) Writable() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.writable
}

func (self *Log) Weak() bool {
	return self.weak
}

func (self *Log) Peers() []*protocol.Peer {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return slices.Clone(self.peers)
}

func (self *Log) AddReadyCallback(readyCallback ReadyFunction) func() {
	callbackId := self.readyCallbacks.Add(readyCallback)
	return func() {
		self.readyCallbacks.Remove(callbackId)
	}
}

func (self *Log) AddAppendCallback(appendCallback AppendFunction) func() {
	callbackId := self.appendCallbacks.Add(appendCallback)
	return func() {
		self.appendCallbacks.Remove(callbackId)
	}
}

func (self *Log) AddCloseCallback(closeCallback CloseFunction) func() {
	callbackId := self.closeCallbacks.Add(closeCallback)
	return func() {
		self.closeCallbacks.Remove(callbackId)
	}
}

func (self *Log) AddPeerOpenCallback(peerOpenCallback PeerFunction) func() {
	callbackId := self.peerOpenCallbacks.Add(peerOpenCallback)
	return func() {
		self.peerOpenCallbacks.Remove(callbackId)
	}
}

func (self *Log) AddPeerRemoveCallback(peerRemoveCallback PeerFunction) func() {
	callbackId := self.peerRemoveCallbacks.Add(peerRemoveCallback)
	return func() {
		self.peerRemoveCallbacks.Remove(callbackId)
	}
}

// Open is single flight: concurrent callers before resolution share one
// underlying open call and its outcome. A failed open resets the log so a
// later call can retry. Open after close returns ErrClosed.
func (self *Log) Open(ctx context.Context) error {
	self.stateLock.Lock()
	switch self.state {
	case LogStateOpen:
		self.stateLock.Unlock()
		return nil
	case LogStateClosing, LogStateClosed:
		self.stateLock.Unlock()
		return ErrClosed
	}
	attempt := self.openAttempt
	if attempt == nil {
		attempt = &openAttempt{
			done: make(chan struct{}),
		}
		self.openAttempt = attempt
		self.state = LogStateOpening
		if !self.hasSession {
			self.sessionId = self.client.registry.Create(self)
			self.hasSession = true
		}
		go self.open()
	}
	self.stateLock.Unlock()

	select {
	case <-attempt.done:
		return attempt.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (self *Log) open() {
	self.stateLock.Lock()
	attempt := self.openAttempt
	sessionId := self.sessionId
	args := &protocol.OpenRequest{
		SessionId: sessionId,
		Namespace: self.namespace,
		Key:       self.key,
		Weak:      self.weak,
	}
	self.stateLock.Unlock()

	var response protocol.OpenResponse
	err := self.client.channel.Request(self.client.ctx, protocol.MethodLogOpen, args, &response)

	var pendingExtensions []*Extension
	self.stateLock.Lock()
	if self.state != LogStateOpening {
		// closed by a close notice while the open was in flight
		self.stateLock.Unlock()
		attempt.err = ErrClosed
		close(attempt.done)
		return
	}
	if err != nil {
		self.state = LogStateUninitialized
		self.openAttempt = nil
		self.client.registry.Delete(self.sessionId)
		self.hasSession = false
		self.stateLock.Unlock()
		glog.V(2).Infof("[log]open error %d = %s\n", sessionId, err)
		attempt.err = err
		close(attempt.done)
		return
	}
	self.state = LogStateOpen
	self.openAttempt = nil
	self.key = response.Key
	self.discoveryKey = deriveDiscoveryKey(response.Key)
	self.length = response.Length
	self.byteLength = response.ByteLength
	self.writable = response.Writable
	for i := range response.Peers {
		peer := response.Peers[i]
		self.peers = append(self.peers, &peer)
	}
	pendingExtensions = self.pendingExtensions
	self.pendingExtensions = nil
	self.stateLock.Unlock()

	// replay deferred extension registrations, exactly once each
	for _, extension := range pendingExtensions {
		extension.register()
	}

	close(attempt.done)

	for _, callback := range self.readyCallbacks.Get() {
		func() {
			defer handleCallbackPanic()
			callback()
		}()
	}
}

// open-if-needed before a data operation
func (self *Log) ensureOpen(ctx context.Context) error {
	self.stateLock.Lock()
	state := self.state
	self.stateLock.Unlock()

	switch state {
	case LogStateOpen:
		return nil
	case LogStateClosing, LogStateClosed:
		return ErrClosed
	default:
		return self.Open(ctx)
	}
}

// appends one or more values and returns the sequence number of the first.
// values pass through the configured codec.
func (self *Log) Append(ctx context.Context, values ...any) (uint64, error) {
	if err := self.ensureOpen(ctx); err != nil {
		return 0, err
	}

	blocks := make([][]byte, len(values))
	for i, value := range values {
		block, err := self.codec.Encode(value)
		if err != nil {
			return 0, err
		}
		blocks[i] = block
	}

	sessionId, _ := self.SessionId()
	args := &protocol.AppendRequest{
		SessionId: sessionId,
		Blocks:    blocks,
	}
	var response protocol.AppendResponse
	if err := self.client.channel.Request(ctx, protocol.MethodLogAppend, args, &response); err != nil {
		return 0, err
	}
	return response.Seq, nil
}

type GetOptions struct {
	IfAvailable bool
	Wait        bool
}

func DefaultGetOptions() *GetOptions {
	return &GetOptions{
		IfAvailable: true,
		Wait:        false,
	}
}

// fetches one value. Cancellation is cooperative: when `ctx` is cancelled
// before the response arrives, one cancel notification is sent and Get
// returns ErrGetCancelled. If the value wins the race it is returned even
// though ctx fired; cancellation is best effort.
func (self *Log) Get(ctx context.Context, seq uint64, options *GetOptions) (any, error) {
	if options == nil {
		options = DefaultGetOptions()
	}
	if err := self.ensureOpen(ctx); err != nil {
		return nil, err
	}

	sessionId, _ := self.SessionId()
	operationId := self.client.registry.CreateOperationId()
	args := &protocol.GetRequest{
		SessionId:   sessionId,
		OperationId: operationId,
		Seq:         seq,
		Wait:        options.Wait,
		IfAvailable: options.IfAvailable,
	}

	type getResult struct {
		block []byte
		err   error
	}
	result := make(chan getResult, 1)
	go func() {
		var response protocol.GetResponse
		err := self.client.channel.Request(self.client.ctx, protocol.MethodLogGet, args, &response)
		result <- getResult{
			block: response.Block,
			err:   err,
		}
	}()

	decode := func(r getResult) (any, error) {
		if r.err != nil {
			return nil, r.err
		}
		return self.codec.Decode(r.block)
	}

	select {
	case r := <-result:
		return decode(r)
	case <-ctx.Done():
		// prefer a value that already resolved
		select {
		case r := <-result:
			return decode(r)
		default:
		}
		cancelArgs := &protocol.GetCancel{
			SessionId:   sessionId,
			OperationId: operationId,
		}
		if err := self.client.channel.Notify(protocol.MethodLogGetCancel, cancelArgs); err != nil {
			glog.V(2).Infof("[log]get cancel error %d = %s\n", sessionId, err)
		}
		return nil, ErrGetCancelled
	}
}

type UpdateOptions struct {
	// 0 means current length + 1: wait for at least one more entry
	MinLength   uint64
	IfAvailable bool
	Hash        bool
}

func DefaultUpdateOptions() *UpdateOptions {
	return &UpdateOptions{}
}

// waits until the log has at least MinLength entries and returns the new
// length.
func (self *Log) Update(ctx context.Context, options *UpdateOptions) (uint64, error) {
	if options == nil {
		options = DefaultUpdateOptions()
	}
	if err := self.ensureOpen(ctx); err != nil {
		return 0, err
	}

	minLength := options.MinLength
	if minLength == 0 {
		minLength = self.Length() + 1
	}

	sessionId, _ := self.SessionId()
	args := &protocol.UpdateRequest{
		SessionId:   sessionId,
		MinLength:   minLength,
		IfAvailable: options.IfAvailable,
		Hash:        options.Hash,
	}
	var response protocol.UpdateResponse
	if err := self.client.channel.Request(ctx, protocol.MethodLogUpdate, args, &response); err != nil {
		return 0, err
	}
	return response.Length, nil
}

// update with just a minimum length
func (self *Log) UpdateMinLength(ctx context.Context, minLength uint64) (uint64, error) {
	return self.Update(ctx, &UpdateOptions{
		MinLength: minLength,
	})
}

// resolves a byte offset to a sequence number and an offset inside that
// block.
func (self *Log) Seek(ctx context.Context, byteOffset uint64) (seq uint64, blockOffset uint64, returnErr error) {
	if err := self.ensureOpen(ctx); err != nil {
		returnErr = err
		return
	}

	sessionId, _ := self.SessionId()
	args := &protocol.SeekRequest{
		SessionId:  sessionId,
		ByteOffset: byteOffset,
	}
	var response protocol.SeekResponse
	if err := self.client.channel.Request(ctx, protocol.MethodLogSeek, args, &response); err != nil {
		returnErr = err
		return
	}
	return response.Seq, response.BlockOffset, nil
}

func (self *Log) Has(ctx context.Context, seq uint64) (bool, error) {
	if err := self.ensureOpen(ctx); err != nil {
		return false, err
	}

	sessionId, _ := self.SessionId()
	args := &protocol.HasRequest{
		SessionId: sessionId,
		Seq:       seq,
	}
	var response protocol.HasResponse
	if err := self.client.channel.Request(ctx, protocol.MethodLogHas, args, &response); err != nil {
		return false, err
	}
	return response.Has, nil
}

// either a half-open interval [Start, End) or an unordered set of specific
// indexes. End < 0 means unbounded.
type DownloadRange struct {
	Start  uint64
	End    int64
	Blocks []uint64
}

// an in-flight download. The operation id travels with the handle so the
// download stays cancelable.
type Download struct {
	operationId protocol.OperationId

	done chan struct{}
	err  error
}

func (self *Download) OperationId() protocol.OperationId {
	return self.operationId
}

// closed when the requested range is fully downloaded or the download fails
func (self *Download) Done() <-chan struct{} {
	return self.done
}

// valid after Done is closed
func (self *Download) Err() error {
	return self.err
}

// starts downloading a range. The wire protocol accepts only a contiguous
// interval plus an optional discrete index overlay, so a set of blocks is
// normalized to its minimal covering interval [min, max+1) before
// transmission. An unbounded end is sent as the 0 sentinel.
func (self *Log) Download(ctx context.Context, downloadRange *DownloadRange) (*Download, error) {
	if downloadRange == nil {
		downloadRange = &DownloadRange{
			End: -1,
		}
	}
	if err := self.ensureOpen(ctx); err != nil {
		return nil, err
	}

	var start uint64
	var end uint64
	var blocks []uint64
	if 0 < len(downloadRange.Blocks) {
		blocks = slices.Clone(downloadRange.Blocks)
		slices.Sort(blocks)
		start = blocks[0]
		end = blocks[len(blocks)-1] + 1
	} else {
		start = downloadRange.Start
		if downloadRange.End < 0 {
			end = 0
		} else {
			end = uint64(downloadRange.End)
		}
	}

	sessionId, _ := self.SessionId()
	operationId := self.client.registry.CreateOperationId()
	args := &protocol.DownloadRequest{
		SessionId:   sessionId,
		OperationId: operationId,
		Start:       start,
		End:         end,
		Blocks:      blocks,
	}

	download := &Download{
		operationId: operationId,
		done:        make(chan struct{}),
	}
	go func() {
		var response protocol.DownloadResponse
		err := self.client.channel.Request(self.client.ctx, protocol.MethodLogDownload, args, &response)
		if err != nil {
			glog.V(2).Infof("[log]download error %d/%d = %s\n", sessionId, operationId, err)
		}
		download.err = err
		close(download.done)
	}()
	return download, nil
}

// cancels a download started by Download. Fire and forget.
func (self *Log) Undownload(ctx context.Context, download *Download) error {
	if download == nil {
		return ErrNoDownload
	}
	if err := self.ensureOpen(ctx); err != nil {
		return err
	}

	sessionId, _ := self.SessionId()
	args := &protocol.UndownloadRequest{
		SessionId:   sessionId,
		OperationId: download.operationId,
	}
	return self.client.channel.Notify(protocol.MethodLogUndownload, args)
}

// number of blocks of [start, end) available locally on the daemon.
// end 0 means unbounded.
func (self *Log) Downloaded(ctx context.Context, start uint64, end uint64) (uint64, error) {
	if err := self.ensureOpen(ctx); err != nil {
		return 0, err
	}

	sessionId, _ := self.SessionId()
	args := &protocol.DownloadedRequest{
		SessionId: sessionId,
		Start:     start,
		End:       end,
	}
	var response protocol.DownloadedResponse
	if err := self.client.channel.Request(ctx, protocol.MethodLogDownloaded, args, &response); err != nil {
		return 0, err
	}
	return response.Blocks, nil
}

// acquires the remote mutex scoped to this log and returns the release.
// unlike the data operations, Lock requires the log to already be open;
// it never opens implicitly. Release is fire and forget and tolerates being
// called more than once.
func (self *Log) Lock(ctx context.Context) (func(), error) {
	self.stateLock.Lock()
	state := self.state
	sessionId := self.sessionId
	self.stateLock.Unlock()

	switch state {
	case LogStateClosing, LogStateClosed:
		return nil, ErrClosed
	case LogStateOpen:
	default:
		return nil, ErrNotOpen
	}

	args := &protocol.LockRequest{
		SessionId: sessionId,
	}
	var response protocol.LockResponse
	if err := self.client.channel.Request(ctx, protocol.MethodLogLock, args, &response); err != nil {
		return nil, err
	}

	releaseOnce := &sync.Once{}
	release := func() {
		releaseOnce.Do(func() {
			unlockArgs := &protocol.UnlockRequest{
				SessionId: sessionId,
			}
			if err := self.client.channel.Notify(protocol.MethodLogUnlock, unlockArgs); err != nil {
				glog.V(2).Infof("[log]unlock error %d = %s\n", sessionId, err)
			}
		})
	}
	return release, nil
}

// Close is idempotent. The session id returns to the free list only after
// the daemon acknowledges the close, so the id cannot alias a session the
// daemon still considers live.
func (self *Log) Close(ctx context.Context) error {
	for {
		self.stateLock.Lock()
		switch self.state {
		case LogStateClosed:
			self.stateLock.Unlock()
			return nil
		case LogStateClosing:
			done := self.closeDone
			self.stateLock.Unlock()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		case LogStateOpening:
			// let the in-flight open settle so the close pairs with a
			// session the daemon knows about
			attempt := self.openAttempt
			self.stateLock.Unlock()
			select {
			case <-attempt.done:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		wasOpen := self.state == LogStateOpen
		self.state = LogStateClosing
		self.closeDone = make(chan struct{})
		sessionId := self.sessionId
		self.stateLock.Unlock()

		var closeErr error
		if wasOpen {
			args := &protocol.CloseRequest{
				SessionId: sessionId,
			}
			closeErr = self.client.channel.Request(ctx, protocol.MethodLogClose, args, nil)
		}
		self.finishClose()
		return closeErr
	}
}

// transition to closed, free the session id, raise the close event.
// used by both client-initiated close and the daemon close notice.
func (self *Log) finishClose() {
	self.stateLock.Lock()
	if self.state == LogStateClosed {
		self.stateLock.Unlock()
		return
	}
	self.state = LogStateClosed
	if self.hasSession {
		self.client.registry.Delete(self.sessionId)
		self.hasSession = false
	}
	done := self.closeDone
	self.stateLock.Unlock()

	if done != nil {
		close(done)
	}

	for _, callback := range self.closeCallbacks.Get() {
		func() {
			defer handleCallbackPanic()
			callback()
		}()
	}
}

// push handlers. Called on the channel dispatch goroutine, in daemon
// emission order for this session.

func (self *Log) handleAppendNotice(notice *protocol.AppendNotice) error {
	self.stateLock.Lock()
	self.length = notice.Length
	self.byteLength = notice.ByteLength
	self.stateLock.Unlock()

	for _, callback := range self.appendCallbacks.Get() {
		func() {
			defer handleCallbackPanic()
			callback(notice.Length, notice.ByteLength)
		}()
	}
	return nil
}

func (self *Log) handlePeerOpen(notice *protocol.PeerOpenNotice) error {
	peer := notice.Peer

	self.stateLock.Lock()
	self.peers = append(self.peers, &peer)
	self.stateLock.Unlock()

	for _, callback := range self.peerOpenCallbacks.Get() {
		func() {
			defer handleCallbackPanic()
			callback(&peer)
		}()
	}
	return nil
}

func (self *Log) handlePeerRemove(notice *protocol.PeerRemoveNotice) error {
	peer := notice.Peer

	self.stateLock.Lock()
	i := slices.IndexFunc(self.peers, func(existingPeer *protocol.Peer) bool {
		return bytes.Equal(existingPeer.RemotePublicKey, peer.RemotePublicKey)
	})
	if i < 0 {
		self.stateLock.Unlock()
		// the daemon removed a peer this session never saw
		return desyncErrorf("Peer remove for unknown peer %x.", peer.RemotePublicKey)
	}
	self.peers = slices.Delete(self.peers, i, i+1)
	self.stateLock.Unlock()

	for _, callback := range self.peerRemoveCallbacks.Get() {
		func() {
			defer handleCallbackPanic()
			callback(&peer)
		}()
	}
	return nil
}

func (self *Log) handleExtensionNotice(notice *protocol.ExtensionNotice) error {
	self.stateLock.Lock()
	extension := self.extensions[notice.OperationId]
	self.stateLock.Unlock()

	if extension == nil {
		// tolerated race with unregister
		glog.V(2).Infof("[log]extension drop %d/%d\n", notice.SessionId, notice.OperationId)
		return nil
	}
	extension.dispatch(notice.Data, &notice.Peer)
	return nil
}

func (self *Log) handleCloseNotice() error {
	self.finishClose()
	return nil
}
