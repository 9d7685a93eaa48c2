// Package file implements chunked, flow-controlled file transfers between
// friends, with pause, resume and cancellation support.
//
// # Overview
//
// The file package is built from a handful of cooperating components:
//
//   - TransferRegistry: the table of live transfers keyed by TransferID
//   - ControlChannel: applies and sends pause, resume and cancel signals
//   - SendSession: answers chunk requests for outgoing transfers
//   - ReceiveSession: accepts offers and assembles incoming chunks
//   - Engine: routes transport events to the above, one at a time
//
// # Transfer Identity
//
// A transfer is identified by the friend, the file number the transport
// allocated and the direction. The same file number may be in use in both
// directions with the same friend at once:
//
//	in := file.TransferID{FriendID: 1, FileNumber: 0, Direction: file.TransferDirectionIncoming}
//	out := file.TransferID{FriendID: 1, FileNumber: 0, Direction: file.TransferDirectionOutgoing}
//
// # Transfer States
//
//	TransferStatePending    // offered, not yet accepted
//	TransferStateActive     // data is flowing
//	TransferStatePaused     // stopped by either side, may resume
//	TransferStateCancelled  // terminal
//	TransferStateCompleted  // terminal
//
// Only Active and Paused move back and forth. Cancelled and Completed
// transfers are removed from the registry and their file handle is closed.
//
// # Flow Control
//
// The receiver pulls data. After accepting an offer it keeps up to
// Options.Window chunk requests outstanding and the sender answers each one
// with the bytes at the requested position. Once every byte is written and no
// request is in flight, the receiver asks past the end. That request is
// answered with an empty chunk, which ends the transfer. Streams of unknown
// size are pulled one request at a time:
//
//	engine, err := file.NewEngine(transport, file.NewDirStorage("downloads"), nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	engine.OnComplete(func(t *file.Transfer, err error) {
//	    log.Printf("%s finished: %s", t.FileName, t.State)
//	})
//	go engine.Run(ctx)
//
//	// from the transport's receive goroutine
//	engine.Submit(ctx, file.NewChunkEvent(friendID, fileNumber, position, data))
//
// # Concurrency
//
// All transfer state is owned by the goroutine running Engine.Run. Other
// goroutines hand work to it with Engine.Submit and Engine.Do; Transfer
// values passed to callbacks must not be retained past the callback.
//
// # Incoming Files
//
// Offered names have path separators replaced by underscores and are stored
// below a per-friend directory, so an offer can never write outside it.
// Offers other than KindData are rejected.
package file
