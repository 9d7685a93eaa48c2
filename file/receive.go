package file

import (
	"fmt"
	"math"

	"github.com/opd-ai/toxfile/limits"
	"github.com/sirupsen/logrus"
)

// ReceiveSession accepts offers and assembles incoming chunks into sinks.
type ReceiveSession struct {
	transport Transport
	control   *ControlChannel
	storage   Storage
	chunkSize int
	window    int
}

// NewReceiveSession creates a receive session.
func NewReceiveSession(transport Transport, control *ControlChannel, storage Storage, opts *Options) *ReceiveSession {
	return &ReceiveSession{
		transport: transport,
		control:   control,
		storage:   storage,
		chunkSize: opts.ChunkSize,
		window:    opts.Window,
	}
}

// OnOffer decides on a pending incoming transfer. Only data files with a usable
// name are accepted; anything else is rejected with a cancel and no file is
// opened. On acceptance the destination is created, the transfer becomes
// active, a resume is sent and the first window of chunks is requested.
//
// Rejections return an error wrapping ErrInvalidOffer; the transfer is already
// cancelled when that happens.
func (r *ReceiveSession) OnOffer(t *Transfer) error {
	if t.Kind != KindData {
		logrus.WithFields(t.logFields()).WithFields(logrus.Fields{
			"function": "OnOffer",
			"kind":     t.Kind,
		}).Info("File is not a data file, rejecting")
		_ = r.control.Reject(t)
		return fmt.Errorf("%w: kind %s", ErrInvalidOffer, t.Kind)
	}

	offered := t.FileName
	name, err := acceptableFileName(offered)
	if err != nil {
		logrus.WithFields(t.logFields()).WithFields(logrus.Fields{
			"function":  "OnOffer",
			"file_name": offered,
			"error":     err.Error(),
		}).Info("Offered file name is unusable, rejecting")
		_ = r.control.Reject(t)
		return err
	}
	t.FileName = name

	sink, path, err := r.storage.CreateSink(t.ID.FriendID, name)
	if err != nil {
		logrus.WithFields(t.logFields()).WithFields(logrus.Fields{
			"function":  "OnOffer",
			"file_name": name,
			"error":     err.Error(),
		}).Error("Failed to create destination file")
		_ = r.control.Reject(t)
		return fmt.Errorf("%w: create %s: %v", ErrResourceIO, name, err)
	}
	t.sink = sink
	t.Path = path

	if err := r.control.Emit(t, ControlResume); err != nil {
		return err
	}

	logrus.WithFields(t.logFields()).WithFields(logrus.Fields{
		"function":  "OnOffer",
		"file_name": name,
		"path":      path,
		"file_size": t.FileSize,
	}).Info("Accepted incoming file transfer")

	return r.fillWindow(t)
}

// OnChunkReceived writes one chunk, or completes the transfer on the final
// chunk. It reports whether the transfer completed.
func (r *ReceiveSession) OnChunkReceived(t *Transfer, position uint64, data []byte, final bool) (bool, error) {
	if data == nil && !final {
		logrus.WithFields(t.logFields()).WithFields(logrus.Fields{
			"function": "OnChunkReceived",
			"position": position,
		}).Warn("NULL chunk payload, ignoring received chunk")
		return false, nil
	}

	if t.outstanding > 0 {
		t.outstanding--
	}

	if final {
		if t.State != TransferStateActive {
			logrus.WithFields(t.logFields()).WithFields(logrus.Fields{
				"function": "OnChunkReceived",
				"state":    t.State,
			}).Debug("Ignoring final chunk for inactive transfer")
			return false, nil
		}
		if t.SizeKnown() {
			if missing := t.received.nextMissing(0); missing < t.FileSize {
				logrus.WithFields(t.logFields()).WithFields(logrus.Fields{
					"function": "OnChunkReceived",
					"missing":  missing,
					"received": t.received.size(),
					"size":     t.FileSize,
				}).Debug("End of transfer arrived before all data, continuing")
				t.finalRequested = false
				return false, r.fillWindow(t)
			}
		}
		return true, r.control.complete(t)
	}

	if t.State != TransferStateActive && t.State != TransferStatePaused {
		return false, nil
	}

	if err := limits.ValidateChunk(data); err != nil {
		return false, fmt.Errorf("%w: %v", ErrChunkOutOfRange, err)
	}
	end := position + uint64(len(data))
	if end < position || position > math.MaxInt64 || (t.SizeKnown() && end > t.FileSize) {
		return false, fmt.Errorf("%w: [%d,%d) size %d", ErrChunkOutOfRange, position, end, t.FileSize)
	}

	if _, err := t.sink.WriteAt(data, int64(position)); err != nil {
		return false, fmt.Errorf("%w: write at %d: %v", ErrResourceIO, position, err)
	}

	t.Cursor = end
	t.received.add(position, end)
	t.recordChunk(len(data))

	logrus.WithFields(t.logFields()).WithFields(logrus.Fields{
		"function": "OnChunkReceived",
		"position": position,
		"size":     len(data),
	}).Debug("Wrote chunk")

	if t.State != TransferStateActive {
		return false, nil
	}
	return false, r.fillWindow(t)
}

// OnResumed restarts requests after a pause. Requests sent before the pause
// may have been dropped by the sender, so requesting restarts at the first
// byte not yet written.
func (r *ReceiveSession) OnResumed(t *Transfer) error {
	t.requested = t.received.nextMissing(0)
	t.outstanding = 0
	t.finalRequested = false
	return r.fillWindow(t)
}

// fillWindow keeps up to window chunk requests outstanding, skipping ranges
// already written. The terminating zero-length chunk is requested only once
// every byte of the announced size is written and no request is in flight;
// bytes still missing at that point are requested again.
//
// Transfers of unknown size keep a single request outstanding, so the end of
// the stream cannot overtake its last data chunk.
func (r *ReceiveSession) fillWindow(t *Transfer) error {
	window := r.window
	if !t.SizeKnown() {
		window = 1
	}

	for t.State == TransferStateActive && t.outstanding < window && !t.finalRequested {
		position, length := t.requested, r.chunkSize
		if t.SizeKnown() {
			position = t.received.nextMissing(position)
			if position >= t.FileSize {
				if t.outstanding > 0 {
					break
				}
				if gap := t.received.nextMissing(0); gap < t.FileSize {
					t.requested = gap
					continue
				}
				position = t.FileSize
				t.finalRequested = true
			} else {
				limit := t.received.nextWritten(position)
				if limit > t.FileSize {
					limit = t.FileSize
				}
				if remaining := limit - position; remaining < uint64(length) {
					length = int(remaining)
				}
			}
		}

		if err := r.transport.RequestChunk(t.ID, position, length); err != nil {
			return fmt.Errorf("request chunk at %d: %w", position, err)
		}

		t.outstanding++
		if !t.finalRequested {
			t.requested = position + uint64(length)
		}
	}
	return nil
}
