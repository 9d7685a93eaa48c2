package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipe connects two engines through an in-memory FIFO so both sides of a
// transfer can be driven deterministically from the test goroutine.
type pipe struct {
	queue []queuedEvent
}

type queuedEvent struct {
	target *Engine
	ev     Event
}

func (p *pipe) push(target *Engine, ev Event) {
	p.queue = append(p.queue, queuedEvent{target: target, ev: ev})
}

// pump dispatches queued events until the queue drains and returns every
// dispatch error.
func (p *pipe) pump(t *testing.T) []error {
	t.Helper()
	var errs []error
	for steps := 0; len(p.queue) > 0; steps++ {
		require.Less(t, steps, 100000, "pipe did not drain")
		next := p.queue[0]
		p.queue = p.queue[1:]
		if err := next.target.Dispatch(next.ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// pipeEnd is one engine's Transport. remoteView is the friend ID the peer
// engine uses for this side.
type pipeEnd struct {
	p          *pipe
	peer       *Engine
	remoteView uint32
	nextNumber uint32
}

func flipDirection(d TransferDirection) TransferDirection {
	if d == TransferDirectionIncoming {
		return TransferDirectionOutgoing
	}
	return TransferDirectionIncoming
}

func (e *pipeEnd) SendControl(id TransferID, control Control) error {
	e.p.push(e.peer, ControlEvent{
		ID:      TransferID{FriendID: e.remoteView, FileNumber: id.FileNumber, Direction: flipDirection(id.Direction)},
		Control: control,
	})
	return nil
}

func (e *pipeEnd) DeliverChunk(id TransferID, position uint64, data []byte) error {
	e.p.push(e.peer, NewChunkEvent(e.remoteView, id.FileNumber, position, append([]byte{}, data...)))
	return nil
}

func (e *pipeEnd) RequestChunk(id TransferID, position uint64, length int) error {
	e.p.push(e.peer, ChunkRequestEvent{FriendID: e.remoteView, FileNumber: id.FileNumber, Position: position, Length: length})
	return nil
}

func (e *pipeEnd) InitiateSend(friendID uint32, kind Kind, fileName string, fileSize uint64, fileID [FileIDLength]byte) (uint32, error) {
	number := e.nextNumber
	e.nextNumber++
	e.p.push(e.peer, OfferEvent{
		FriendID:   e.remoteView,
		FileNumber: number,
		Kind:       kind,
		FileName:   fileName,
		FileSize:   fileSize,
		FileID:     fileID,
	})
	return number, nil
}

func (e *pipeEnd) NotifyComplete(id TransferID, received uint64) error {
	e.p.push(e.peer, DoneEvent{FriendID: e.remoteView, FileNumber: id.FileNumber, Received: received})
	return nil
}

type completion struct {
	id    TransferID
	state TransferState
	err   error
}

type enginePair struct {
	pipe          *pipe
	alice, bob    *Engine
	aliceStorage  *memStorage
	bobStorage    *memStorage
	aliceFinished []completion
	bobFinished   []completion
}

// newEnginePair wires Alice (friend 0 to Bob) and Bob (friend 1 to Alice).
func newEnginePair(t *testing.T, opts *Options) *enginePair {
	t.Helper()
	p := &pipe{}
	aliceEnd := &pipeEnd{p: p, remoteView: testFriendAlice}
	bobEnd := &pipeEnd{p: p, remoteView: testFriendBob}

	pair := &enginePair{pipe: p, aliceStorage: newMemStorage(), bobStorage: newMemStorage()}

	var err error
	pair.alice, err = NewEngine(aliceEnd, pair.aliceStorage, opts)
	require.NoError(t, err)
	pair.bob, err = NewEngine(bobEnd, pair.bobStorage, opts)
	require.NoError(t, err)
	aliceEnd.peer = pair.bob
	bobEnd.peer = pair.alice

	pair.alice.OnComplete(func(tr *Transfer, err error) {
		pair.aliceFinished = append(pair.aliceFinished, completion{id: tr.ID, state: tr.State, err: err})
	})
	pair.bob.OnComplete(func(tr *Transfer, err error) {
		pair.bobFinished = append(pair.bobFinished, completion{id: tr.ID, state: tr.State, err: err})
	})
	return pair
}

func TestEngineEndToEnd(t *testing.T) {
	sizes := []int{0, 1, ChunkSize - 1, ChunkSize, ChunkSize + 1, 5*ChunkSize + 333}

	for _, size := range sizes {
		t.Run(fmt.Sprintf("%d_bytes", size), func(t *testing.T) {
			pair := newEnginePair(t, nil)
			data := testPayload(size)
			pair.aliceStorage.sources["/home/alice/report.bin"] = data

			out, err := pair.alice.SendFile(testFriendBob, KindData, "/home/alice/report.bin")
			require.NoError(t, err)
			assert.Equal(t, TransferStatePending, out.State)
			assert.Equal(t, "report.bin", out.FileName)

			errs := pair.pipe.pump(t)
			assert.Empty(t, errs)

			sink := pair.bobStorage.sinks["friend_0/report.bin"]
			require.NotNil(t, sink, "receiver must create the destination")
			assert.Equal(t, data, sink.buf)
			assert.Equal(t, 1, sink.closes)
			assert.Equal(t, 1, pair.aliceStorage.opened["/home/alice/report.bin"].closes)

			require.Len(t, pair.bobFinished, 1)
			assert.Equal(t, TransferStateCompleted, pair.bobFinished[0].state)
			assert.NoError(t, pair.bobFinished[0].err)

			require.Len(t, pair.aliceFinished, 1)
			assert.Equal(t, TransferStateCompleted, pair.aliceFinished[0].state)
			assert.NoError(t, pair.aliceFinished[0].err)

			assert.Zero(t, pair.alice.Registry().Len())
			assert.Zero(t, pair.bob.Registry().Len())
		})
	}
}

func TestEngineEndToEndWithPauseResume(t *testing.T) {
	opts := NewOptions()
	opts.ChunkSize = 64
	opts.Window = 2
	pair := newEnginePair(t, opts)
	data := testPayload(1000)
	pair.aliceStorage.sources["f.bin"] = data

	_, err := pair.alice.SendFile(testFriendBob, KindData, "f.bin")
	require.NoError(t, err)

	// Deliver the offer only, then pause from the receiving side.
	require.NoError(t, pair.bob.Dispatch(pair.pipe.queue[0].ev))
	pair.pipe.queue = pair.pipe.queue[1:]
	in := TransferID{FriendID: testFriendAlice, FileNumber: 0, Direction: TransferDirectionIncoming}
	require.NoError(t, pair.bob.Control(in, ControlPause))

	// Chunks already in flight are still written while paused, but no new
	// requests go out.
	assert.Empty(t, pair.pipe.pump(t))
	tr, ok := pair.bob.GetTransfer(in)
	require.True(t, ok)
	assert.Equal(t, TransferStatePaused, tr.State)

	require.NoError(t, pair.bob.Control(in, ControlResume))
	assert.Empty(t, pair.pipe.pump(t))

	assert.Equal(t, data, pair.bobStorage.sinks["friend_0/f.bin"].buf)
	require.Len(t, pair.aliceFinished, 1)
	assert.Equal(t, TransferStateCompleted, pair.aliceFinished[0].state)
}

func TestEngineSenderCancel(t *testing.T) {
	pair := newEnginePair(t, nil)
	pair.aliceStorage.sources["f.bin"] = testPayload(10 * ChunkSize)

	out, err := pair.alice.SendFile(testFriendBob, KindData, "f.bin")
	require.NoError(t, err)
	require.NoError(t, pair.alice.Control(out.ID, ControlCancel))
	pair.pipe.pump(t)

	assert.Equal(t, TransferStateCancelled, out.State)
	assert.Equal(t, 1, pair.aliceStorage.opened["f.bin"].closes)
	assert.Zero(t, pair.alice.Registry().Len())
	assert.Zero(t, pair.bob.Registry().Len(), "receiver must drop the cancelled transfer")
	require.Len(t, pair.bobFinished, 1)
	assert.Equal(t, TransferStateCancelled, pair.bobFinished[0].state)
}

func newTestEngine(t *testing.T, opts *Options) (*Engine, *mockTransport, *memStorage) {
	t.Helper()
	mt := newMockTransport()
	st := newMemStorage()
	e, err := NewEngine(mt, st, opts)
	require.NoError(t, err)
	return e, mt, st
}

func testOffer(number uint32, name string, size uint64) OfferEvent {
	return OfferEvent{FriendID: testFriendBob, FileNumber: number, Kind: KindData, FileName: name, FileSize: size}
}

func TestNewEngineValidation(t *testing.T) {
	_, err := NewEngine(nil, newMemStorage(), nil)
	assert.Error(t, err)

	_, err = NewEngine(newMockTransport(), nil, nil)
	assert.Error(t, err)

	opts := NewOptions()
	opts.Window = 0
	_, err = NewEngine(newMockTransport(), newMemStorage(), opts)
	assert.Error(t, err)
}

func TestEngineUnknownTransfer(t *testing.T) {
	e, mt, _ := newTestEngine(t, nil)
	ghost := TransferID{FriendID: 9, FileNumber: 9, Direction: TransferDirectionIncoming}

	events := []Event{
		ControlEvent{ID: ghost, Control: ControlResume},
		ChunkRequestEvent{FriendID: 9, FileNumber: 9, Position: 0, Length: 10},
		NewChunkEvent(9, 9, 0, []byte("data")),
		DoneEvent{FriendID: 9, FileNumber: 9},
	}
	for _, ev := range events {
		assert.ErrorIs(t, e.Dispatch(ev), ErrUnknownTransfer, ev.Type().String())
	}
	assert.Zero(t, e.Registry().Len())
	assert.Empty(t, mt.controls)
	assert.ErrorIs(t, e.Control(ghost, ControlPause), ErrUnknownTransfer)
}

func TestEngineDuplicateOffer(t *testing.T) {
	e, _, st := newTestEngine(t, nil)

	require.NoError(t, e.Dispatch(testOffer(1, "a.txt", 10)))
	err := e.Dispatch(testOffer(1, "other.txt", 20))

	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.Equal(t, 1, e.Registry().Len())
	tr, ok := e.GetTransfer(testOffer(1, "", 0).TransferID())
	require.True(t, ok)
	assert.Equal(t, "a.txt", tr.FileName, "existing transfer must be untouched")
	assert.NotContains(t, st.sinks, "friend_1/other.txt")
}

func TestEngineRejectedOfferIsRemoved(t *testing.T) {
	e, mt, st := newTestEngine(t, nil)
	var finished []error
	e.OnComplete(func(_ *Transfer, err error) { finished = append(finished, err) })

	offer := testOffer(2, "me.png", 10)
	offer.Kind = KindAvatar
	require.NoError(t, e.Dispatch(offer))

	assert.Zero(t, e.Registry().Len())
	assert.Empty(t, st.sinks)
	assert.Equal(t, []Control{ControlCancel}, mt.controlsFor(offer.TransferID()))
	require.Len(t, finished, 1)
	assert.ErrorIs(t, finished[0], ErrInvalidOffer)
}

func TestEngineNullChunkIgnored(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	offer := testOffer(1, "a.txt", 10)
	require.NoError(t, e.Dispatch(offer))

	require.NoError(t, e.Dispatch(ChunkEvent{FriendID: testFriendBob, FileNumber: 1, Position: 0}))

	tr, ok := e.GetTransfer(offer.TransferID())
	require.True(t, ok)
	assert.Equal(t, TransferStateActive, tr.State)
}

func TestEngineOutOfRangeChunkKeepsTransfer(t *testing.T) {
	e, mt, _ := newTestEngine(t, nil)
	offer := testOffer(1, "a.txt", 10)
	require.NoError(t, e.Dispatch(offer))
	mt.clear()

	err := e.Dispatch(NewChunkEvent(testFriendBob, 1, 8, []byte("abcd")))

	assert.ErrorIs(t, err, ErrChunkOutOfRange)
	_, ok := e.GetTransfer(offer.TransferID())
	assert.True(t, ok)
	assert.Empty(t, mt.controls)
}

func TestEngineWriteFailureCancels(t *testing.T) {
	e, mt, st := newTestEngine(t, nil)
	offer := testOffer(1, "a.txt", 10)
	require.NoError(t, e.Dispatch(offer))
	sink := st.sinks["friend_1/a.txt"]
	sink.writeErr = errors.New("disk full")

	err := e.Dispatch(NewChunkEvent(testFriendBob, 1, 0, []byte("abc")))

	assert.ErrorIs(t, err, ErrResourceIO)
	assert.Zero(t, e.Registry().Len())
	assert.Equal(t, []Control{ControlResume, ControlCancel}, mt.controlsFor(offer.TransferID()))
	assert.Equal(t, 1, sink.closes)
}

func TestEngineFileIDMismatch(t *testing.T) {
	e, mt, _ := newTestEngine(t, nil)
	var finished []error
	e.OnComplete(func(_ *Transfer, err error) { finished = append(finished, err) })

	offer := testOffer(1, "a.txt", 3)
	offer.FileID = [FileIDLength]byte{1, 2, 3}
	require.NoError(t, e.Dispatch(offer))
	require.NoError(t, e.Dispatch(NewChunkEvent(testFriendBob, 1, 0, []byte("abc"))))
	require.NoError(t, e.Dispatch(NewChunkEvent(testFriendBob, 1, 3, nil)))

	require.Len(t, finished, 1)
	assert.ErrorIs(t, finished[0], ErrFileIDMismatch)
	assert.Empty(t, mt.completed, "a mismatched file is not acknowledged")
	assert.Equal(t, []Control{ControlResume, ControlCancel}, mt.controlsFor(offer.TransferID()))
}

func TestEngineFileIDVerified(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	var finished []error
	e.OnComplete(func(_ *Transfer, err error) { finished = append(finished, err) })

	content := []byte("hello")
	offer := testOffer(1, "a.txt", uint64(len(content)))
	id, err := ComputeFileID(bytes.NewReader(content))
	require.NoError(t, err)
	offer.FileID = id

	require.NoError(t, e.Dispatch(offer))
	require.NoError(t, e.Dispatch(NewChunkEvent(testFriendBob, 1, 0, content)))
	require.NoError(t, e.Dispatch(NewChunkEvent(testFriendBob, 1, 5, nil)))

	require.Len(t, finished, 1)
	assert.NoError(t, finished[0])
}

func TestEngineEarlyEndOfTransferKeepsData(t *testing.T) {
	opts := NewOptions()
	opts.ChunkSize = 100
	opts.Window = 3
	opts.VerifyFileIDs = false
	e, mt, st := newTestEngine(t, opts)
	var finished []error
	e.OnComplete(func(_ *Transfer, err error) { finished = append(finished, err) })

	data := testPayload(250)
	offer := testOffer(1, "a.bin", 250)
	require.NoError(t, e.Dispatch(offer))
	require.NoError(t, e.Dispatch(NewChunkEvent(testFriendBob, 1, 0, data[:100])))
	require.NoError(t, e.Dispatch(NewChunkEvent(testFriendBob, 1, 250, nil)))
	require.NoError(t, e.Dispatch(NewChunkEvent(testFriendBob, 1, 100, data[100:200])))

	assert.Empty(t, finished)
	assert.Empty(t, mt.completed)
	assert.Equal(t, 1, e.Registry().Len())

	require.NoError(t, e.Dispatch(NewChunkEvent(testFriendBob, 1, 200, data[200:])))
	require.NoError(t, e.Dispatch(NewChunkEvent(testFriendBob, 1, 250, nil)))

	require.Len(t, finished, 1)
	assert.NoError(t, finished[0])
	assert.Equal(t, data, st.sinks["friend_1/a.bin"].buf)
	assert.Equal(t, []TransferID{offer.TransferID()}, mt.completed)
}

func TestEngineCancelTwice(t *testing.T) {
	e, mt, st := newTestEngine(t, nil)
	offer := testOffer(1, "a.txt", 10)
	require.NoError(t, e.Dispatch(offer))

	require.NoError(t, e.Control(offer.TransferID(), ControlCancel))
	assert.ErrorIs(t, e.Control(offer.TransferID(), ControlCancel), ErrUnknownTransfer)
	assert.ErrorIs(t, e.Dispatch(ControlEvent{ID: offer.TransferID(), Control: ControlCancel}), ErrUnknownTransfer)

	assert.Equal(t, 1, st.sinks["friend_1/a.txt"].closes)
	assert.Equal(t, []Control{ControlResume, ControlCancel}, mt.controlsFor(offer.TransferID()))
}

func TestEnginePeerPauseStopsSending(t *testing.T) {
	e, mt, st := newTestEngine(t, nil)
	st.sources["f"] = testPayload(100)
	out, err := e.SendFile(testFriendBob, KindData, "f")
	require.NoError(t, err)

	require.NoError(t, e.Dispatch(ControlEvent{ID: out.ID, Control: ControlResume}))
	require.NoError(t, e.Dispatch(ControlEvent{ID: out.ID, Control: ControlPause}))
	require.NoError(t, e.Dispatch(ChunkRequestEvent{FriendID: testFriendBob, FileNumber: out.ID.FileNumber, Position: 0, Length: 10}))
	assert.Empty(t, mt.chunks)

	require.NoError(t, e.Dispatch(ControlEvent{ID: out.ID, Control: ControlResume}))
	require.NoError(t, e.Dispatch(ChunkRequestEvent{FriendID: testFriendBob, FileNumber: out.ID.FileNumber, Position: 0, Length: 10}))
	assert.Len(t, mt.chunks, 1)
}

func TestEngineDoneBeforeActiveIgnored(t *testing.T) {
	e, _, st := newTestEngine(t, nil)
	st.sources["f"] = testPayload(100)
	out, err := e.SendFile(testFriendBob, KindData, "f")
	require.NoError(t, err)

	err = e.Dispatch(DoneEvent{FriendID: testFriendBob, FileNumber: out.ID.FileNumber})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, TransferStatePending, out.State)
	assert.Equal(t, 1, e.Registry().Len())
}

func TestEngineSendFileErrors(t *testing.T) {
	e, mt, st := newTestEngine(t, nil)

	_, err := e.SendFile(testFriendBob, KindData, "missing")
	assert.ErrorIs(t, err, ErrResourceIO)

	st.sources["f"] = testPayload(10)
	mt.sendErr = errors.New("friend offline")
	_, err = e.SendFile(testFriendBob, KindData, "f")
	assert.Error(t, err)
	assert.Equal(t, 1, st.opened["f"].closes, "source must be closed when the offer fails")
	assert.Zero(t, e.Registry().Len())
}

func TestEngineStalled(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	tp := newMockTimeProvider()
	e.SetTimeProvider(tp)

	require.NoError(t, e.Dispatch(testOffer(1, "a.txt", 100)))
	require.NoError(t, e.Dispatch(testOffer(2, "b.txt", 100)))
	assert.Empty(t, e.Stalled(time.Minute))

	tp.advance(2 * time.Minute)
	require.NoError(t, e.Dispatch(NewChunkEvent(testFriendBob, 2, 0, []byte("x"))))

	stalled := e.Stalled(time.Minute)
	require.Len(t, stalled, 1)
	assert.Equal(t, uint32(1), stalled[0].ID.FileNumber)
	assert.Equal(t, TransferStateActive, stalled[0].State, "stalled transfers are not cancelled")
}

func TestEngineProgressCallback(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	var progress []uint64
	e.OnProgress(func(tr *Transfer) { progress = append(progress, tr.Cursor) })

	require.NoError(t, e.Dispatch(testOffer(1, "a.txt", 6)))
	require.NoError(t, e.Dispatch(NewChunkEvent(testFriendBob, 1, 0, []byte("abc"))))
	require.NoError(t, e.Dispatch(NewChunkEvent(testFriendBob, 1, 3, []byte("def"))))

	assert.Equal(t, []uint64{3, 6}, progress)
}

func TestEngineRunSubmitDo(t *testing.T) {
	e, mt, _ := newTestEngine(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- e.Run(ctx) }()

	offer := testOffer(1, "a.txt", 10)
	require.NoError(t, e.Submit(ctx, offer))

	var live int
	require.NoError(t, e.Do(ctx, func(e *Engine) { live = e.Registry().Len() }))
	assert.Equal(t, 1, live)

	// Unknown transfers are logged and dropped, not fatal.
	require.NoError(t, e.Submit(ctx, ControlEvent{ID: TransferID{FriendID: 5}, Control: ControlPause}))
	require.NoError(t, e.Do(ctx, func(*Engine) {}))

	cancel()
	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	assert.Equal(t, []Control{ControlResume, ControlCancel}, mt.controlsFor(offer.TransferID()))
	assert.Zero(t, e.Registry().Len())
	assert.ErrorIs(t, e.Submit(context.Background(), offer), ErrEngineStopped)
	assert.ErrorIs(t, e.Do(context.Background(), func(*Engine) {}), ErrEngineStopped)
}

func TestEngineConcurrentSubmit(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n uint32) {
			defer wg.Done()
			assert.NoError(t, e.Submit(ctx, testOffer(n, "f.txt", 10)))
		}(uint32(i))
	}
	wg.Wait()

	var live int
	require.NoError(t, e.Do(ctx, func(e *Engine) { live = e.Registry().Len() }))
	assert.Equal(t, 20, live)
}
