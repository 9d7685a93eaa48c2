package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

type eventHandler func(Event) error

// Engine coordinates all transfers. Events are processed one at a time to
// completion, either by calling Dispatch directly or by running Run, which
// drains the queue fed by Submit. Apart from Submit, Do and Run, Engine
// methods must only be called from the dispatch goroutine.
type Engine struct {
	options      *Options
	transport    Transport
	storage      Storage
	registry     *TransferRegistry
	control      *ControlChannel
	send         *SendSession
	receive      *ReceiveSession
	handlers     map[EventType]eventHandler
	inbox        chan Event
	stopped      chan struct{}
	timeProvider TimeProvider

	progressCallback func(*Transfer)
	completeCallback func(*Transfer, error)
}

// NewEngine creates an engine calling out through transport and opening files
// through storage. A nil opts uses NewOptions.
func NewEngine(transport Transport, storage Storage, opts *Options) (*Engine, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine options: %w", err)
	}
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if storage == nil {
		return nil, errors.New("storage is required")
	}

	control := NewControlChannel(transport)
	e := &Engine{
		options:      opts,
		transport:    transport,
		storage:      storage,
		registry:     NewTransferRegistry(),
		control:      control,
		send:         NewSendSession(transport),
		receive:      NewReceiveSession(transport, control, storage, opts),
		inbox:        make(chan Event, opts.InboxSize),
		stopped:      make(chan struct{}),
		timeProvider: DefaultTimeProvider{},
	}

	e.handlers = map[EventType]eventHandler{
		EventOffer:        e.handleOffer,
		EventControl:      e.handleControl,
		EventChunkRequest: e.handleChunkRequest,
		EventChunk:        e.handleChunk,
		EventDone:         e.handleDone,
		eventTask:         e.handleTask,
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewEngine",
		"chunk_size": opts.ChunkSize,
		"window":     opts.Window,
	}).Info("File transfer engine created")

	return e, nil
}

// SetTimeProvider sets a custom time provider for deterministic testing.
func (e *Engine) SetTimeProvider(tp TimeProvider) {
	e.timeProvider = tp
}

// OnProgress sets a callback invoked after every chunk moved.
func (e *Engine) OnProgress(callback func(*Transfer)) {
	e.progressCallback = callback
}

// OnComplete sets a callback invoked once when a transfer leaves the registry.
// err is nil for a clean completion.
func (e *Engine) OnComplete(callback func(*Transfer, error)) {
	e.completeCallback = callback
}

// Registry returns the engine's transfer registry.
func (e *Engine) Registry() *TransferRegistry {
	return e.registry
}

// GetTransfer returns a live transfer.
func (e *Engine) GetTransfer(id TransferID) (*Transfer, bool) {
	return e.registry.Lookup(id)
}

// Dispatch processes one event synchronously.
//
// Events for unregistered transfers return an error wrapping
// ErrUnknownTransfer. Run logs and drops those, since the peer may still have
// messages in flight for a transfer that finished locally.
func (e *Engine) Dispatch(ev Event) error {
	if ev == nil {
		return errors.New("nil event")
	}
	handler, ok := e.handlers[ev.Type()]
	if !ok {
		return fmt.Errorf("no handler for event type %s", ev.Type())
	}
	return handler(ev)
}

// Submit queues ev for Run. It is safe for concurrent use.
func (e *Engine) Submit(ctx context.Context, ev Event) error {
	select {
	case <-e.stopped:
		return ErrEngineStopped
	default:
	}

	select {
	case e.inbox <- ev:
		return nil
	case <-e.stopped:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on the dispatch goroutine and waits for it to return.
func (e *Engine) Do(ctx context.Context, fn func(*Engine)) error {
	task := taskEvent{fn: fn, done: make(chan struct{})}
	if err := e.Submit(ctx, task); err != nil {
		return err
	}

	select {
	case <-task.done:
		return nil
	case <-e.stopped:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes queued events until ctx is cancelled. On return every live
// transfer has been cancelled and its resource released. Run must be called
// at most once.
func (e *Engine) Run(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"function": "Run",
	}).Info("File transfer engine running")

	var stallTicks <-chan time.Time
	if e.options.StallTimeout > 0 {
		ticker := time.NewTicker(e.options.StallCheckInterval)
		defer ticker.Stop()
		stallTicks = ticker.C
	}

	defer close(e.stopped)
	for {
		select {
		case <-ctx.Done():
			e.Close()
			return ctx.Err()
		case ev := <-e.inbox:
			e.dispatchLogged(ev)
		case <-stallTicks:
			e.reportStalled()
		}
	}
}

func (e *Engine) dispatchLogged(ev Event) {
	err := e.Dispatch(ev)
	if err == nil {
		return
	}

	fields := logrus.Fields{
		"function": "Run",
		"event":    ev.Type(),
		"error":    err.Error(),
	}
	switch {
	case errors.Is(err, ErrUnknownTransfer), errors.Is(err, ErrDuplicateID),
		errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrChunkOutOfRange):
		logrus.WithFields(fields).Warn("Event ignored")
	default:
		logrus.WithFields(fields).Error("Event failed")
	}
}

// Close cancels every live transfer, telling peers, and releases resources.
func (e *Engine) Close() {
	for _, t := range e.registry.All() {
		_ = e.control.Emit(t, ControlCancel)
		e.finish(t, nil)
	}
}

// SendFile offers the file at path to friendID and registers the pending
// outgoing transfer. The file stays open until the transfer finishes.
func (e *Engine) SendFile(friendID uint32, kind Kind, path string) (*Transfer, error) {
	logrus.WithFields(logrus.Fields{
		"function":  "SendFile",
		"friend_id": friendID,
		"kind":      kind,
		"path":      path,
	}).Info("Initiating outgoing file transfer")

	source, size, err := e.storage.OpenSource(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrResourceIO, path, err)
	}

	var fileID [FileIDLength]byte
	if e.options.VerifyFileIDs {
		fileID, err = ComputeFileID(io.NewSectionReader(source, 0, int64(size)))
		if err != nil {
			source.Close()
			return nil, fmt.Errorf("%w: %v", ErrResourceIO, err)
		}
	}

	name := filepath.Base(path)
	number, err := e.transport.InitiateSend(friendID, kind, name, size, fileID)
	if err != nil {
		source.Close()
		return nil, fmt.Errorf("initiate send: %w", err)
	}

	id := TransferID{FriendID: friendID, FileNumber: number, Direction: TransferDirectionOutgoing}
	t := newTransfer(id, kind, name, size, e.timeProvider)
	t.Path = path
	t.FileID = fileID
	t.source = source

	if err := e.registry.Register(id, t); err != nil {
		source.Close()
		return nil, err
	}

	return t, nil
}

// Control applies a local pause, resume or cancel and sends it to the peer.
func (e *Engine) Control(id TransferID, control Control) error {
	t, err := e.registry.Get(id)
	if err != nil {
		return err
	}

	previous := t.State
	if err := e.control.Emit(t, control); err != nil {
		if t.State.IsTerminal() {
			e.finish(t, nil)
		}
		return err
	}

	return e.afterControl(t, previous)
}

// Stalled returns active transfers that moved no data within timeout.
func (e *Engine) Stalled(timeout time.Duration) []*Transfer {
	var stalled []*Transfer
	for _, t := range e.registry.All() {
		if t.IsStalled(timeout) {
			stalled = append(stalled, t)
		}
	}
	return stalled
}

func (e *Engine) reportStalled() {
	for _, t := range e.Stalled(e.options.StallTimeout) {
		logrus.WithFields(t.logFields()).WithFields(logrus.Fields{
			"function":             "reportStalled",
			"file_name":            t.FileName,
			"time_since_last_data": t.GetTimeSinceLastChunk(),
			"cursor":               t.Cursor,
			"file_size":            t.FileSize,
		}).Warn("Transfer stalled: no data moved within timeout period")
	}
}

func (e *Engine) handleOffer(ev Event) error {
	offer := ev.(OfferEvent)
	id := offer.TransferID()

	logrus.WithFields(id.fields()).WithFields(logrus.Fields{
		"function":  "handleOffer",
		"kind":      offer.Kind,
		"file_name": offer.FileName,
		"file_size": offer.FileSize,
	}).Info("Received file offer")

	t := newTransfer(id, offer.Kind, offer.FileName, offer.FileSize, e.timeProvider)
	t.FileID = offer.FileID
	if err := e.registry.Register(id, t); err != nil {
		return err
	}

	if err := e.receive.OnOffer(t); err != nil {
		if errors.Is(err, ErrInvalidOffer) {
			e.finish(t, err)
			return nil
		}
		return e.failTransfer(t, err)
	}
	return nil
}

func (e *Engine) handleControl(ev Event) error {
	ctl := ev.(ControlEvent)
	t, err := e.registry.Get(ctl.ID)
	if err != nil {
		return err
	}

	previous := t.State
	if err := e.control.Receive(t, ctl.Control); err != nil {
		return err
	}
	return e.afterControl(t, previous)
}

// afterControl restarts requests on a resumed incoming transfer and removes
// finished transfers.
func (e *Engine) afterControl(t *Transfer, previous TransferState) error {
	if t.State.IsTerminal() {
		e.finish(t, nil)
		return nil
	}

	if t.ID.Direction == TransferDirectionIncoming && previous == TransferStatePaused && t.State == TransferStateActive {
		if err := e.receive.OnResumed(t); err != nil {
			return e.failTransfer(t, err)
		}
	}
	return nil
}

func (e *Engine) handleChunkRequest(ev Event) error {
	req := ev.(ChunkRequestEvent)
	t, err := e.registry.Get(req.TransferID())
	if err != nil {
		return err
	}

	if err := e.send.OnChunkRequested(t, req.Position, req.Length); err != nil {
		return e.failTransfer(t, err)
	}
	e.notifyProgress(t)
	return nil
}

func (e *Engine) handleChunk(ev Event) error {
	chunk := ev.(ChunkEvent)
	t, err := e.registry.Get(chunk.TransferID())
	if err != nil {
		return err
	}

	completed, err := e.receive.OnChunkReceived(t, chunk.Position, chunk.Data, chunk.Final)
	if completed {
		e.completeIncoming(t, err)
		return err
	}
	if err != nil {
		if errors.Is(err, ErrChunkOutOfRange) {
			return err
		}
		return e.failTransfer(t, err)
	}

	e.notifyProgress(t)
	return nil
}

func (e *Engine) handleDone(ev Event) error {
	done := ev.(DoneEvent)
	t, err := e.registry.Get(done.TransferID())
	if err != nil {
		return err
	}

	if err := e.control.complete(t); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return err
		}
		e.finish(t, err)
		return err
	}
	e.finish(t, nil)
	return nil
}

func (e *Engine) handleTask(ev Event) error {
	task := ev.(taskEvent)
	defer close(task.done)
	task.fn(e)
	return nil
}

// completeIncoming checks a finished incoming transfer against the offered
// file ID. The sender is acknowledged only when the content checks out;
// otherwise it is told to cancel.
func (e *Engine) completeIncoming(t *Transfer, closeErr error) {
	err := closeErr
	if err == nil {
		err = e.verifyFileID(t)
	}

	if err != nil {
		if sendErr := e.transport.SendControl(t.ID, ControlCancel); sendErr != nil {
			logrus.WithFields(t.logFields()).WithFields(logrus.Fields{
				"function": "completeIncoming",
				"error":    sendErr.Error(),
			}).Warn("Failed to cancel rejected transfer at peer")
		}
	} else if notifier, ok := e.transport.(CompletionNotifier); ok {
		if ackErr := notifier.NotifyComplete(t.ID, t.Transferred); ackErr != nil {
			logrus.WithFields(t.logFields()).WithFields(logrus.Fields{
				"function": "completeIncoming",
				"error":    ackErr.Error(),
			}).Warn("Failed to acknowledge completed transfer")
		}
	}
	e.finish(t, err)
}

func (e *Engine) verifyFileID(t *Transfer) error {
	if !e.options.VerifyFileIDs || isZeroFileID(t.FileID) || t.Path == "" {
		return nil
	}

	r, err := e.storage.Open(t.Path)
	if err != nil {
		return fmt.Errorf("%w: reopen for verification: %v", ErrResourceIO, err)
	}
	defer r.Close()

	got, err := ComputeFileID(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResourceIO, err)
	}
	if got != t.FileID {
		logrus.WithFields(t.logFields()).WithFields(logrus.Fields{
			"function": "verifyFileID",
			"path":     t.Path,
		}).Warn("Received file does not match offered file id")
		return ErrFileIDMismatch
	}
	return nil
}

// failTransfer cancels t after a failure, tells the peer, and returns err.
func (e *Engine) failTransfer(t *Transfer, err error) error {
	if !t.State.IsTerminal() {
		_ = e.control.Emit(t, ControlCancel)
	}

	t.Error = err
	logrus.WithFields(t.logFields()).WithFields(logrus.Fields{
		"function":  "failTransfer",
		"file_name": t.FileName,
		"error":     err.Error(),
	}).Error("File transfer failed, cancelled")
	e.finish(t, err)
	return err
}

// finish removes a terminal transfer from the registry, releasing its
// resource if still held, and reports completion once.
func (e *Engine) finish(t *Transfer, err error) {
	if _, live := e.registry.Lookup(t.ID); !live {
		return
	}
	if t.hasResource() {
		_ = t.release()
	}
	if err != nil && t.Error == nil {
		t.Error = err
	}
	e.registry.Remove(t.ID)

	logrus.WithFields(t.logFields()).WithFields(logrus.Fields{
		"function":    "finish",
		"state":       t.State,
		"transferred": t.Transferred,
	}).Info("File transfer finished")

	if e.completeCallback != nil {
		e.completeCallback(t, t.Error)
	}
}

func (e *Engine) notifyProgress(t *Transfer) {
	if e.progressCallback != nil {
		e.progressCallback(t)
	}
}
