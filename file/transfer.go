package file

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TransferDirection indicates whether a transfer is incoming or outgoing.
type TransferDirection uint8

const (
	// TransferDirectionIncoming represents a file being received.
	TransferDirectionIncoming TransferDirection = iota
	// TransferDirectionOutgoing represents a file being sent.
	TransferDirectionOutgoing
)

func (d TransferDirection) String() string {
	switch d {
	case TransferDirectionIncoming:
		return "incoming"
	case TransferDirectionOutgoing:
		return "outgoing"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Kind is the file kind carried by an offer. The values match TOX_FILE_KIND.
type Kind uint32

const (
	// KindData is a regular file.
	KindData Kind = iota
	// KindAvatar is a friend avatar image.
	KindAvatar
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindAvatar:
		return "avatar"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

// TransferState represents the current state of a file transfer.
type TransferState uint8

const (
	// TransferStatePending indicates the transfer is waiting to start.
	TransferStatePending TransferState = iota
	// TransferStateActive indicates chunks are flowing.
	TransferStateActive
	// TransferStatePaused indicates the transfer is temporarily paused.
	TransferStatePaused
	// TransferStateCancelled indicates the transfer was cancelled.
	TransferStateCancelled
	// TransferStateCompleted indicates the transfer has finished successfully.
	TransferStateCompleted
)

func (s TransferState) String() string {
	switch s {
	case TransferStatePending:
		return "pending"
	case TransferStateActive:
		return "active"
	case TransferStatePaused:
		return "paused"
	case TransferStateCancelled:
		return "cancelled"
	case TransferStateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// IsTerminal reports whether no further transition is possible.
func (s TransferState) IsTerminal() bool {
	return s == TransferStateCancelled || s == TransferStateCompleted
}

// UnknownFileSize marks a streaming transfer whose size is not known up front.
const UnknownFileSize uint64 = math.MaxUint64

// ChunkSize is the default number of bytes requested per chunk.
const ChunkSize = 1024

// TransferID identifies a transfer. File numbers are allocated by the transport
// per friend and per direction, so all three fields are needed.
type TransferID struct {
	FriendID   uint32
	FileNumber uint32
	Direction  TransferDirection
}

func (id TransferID) String() string {
	return fmt.Sprintf("%s:%d/%d", id.Direction, id.FriendID, id.FileNumber)
}

func (id TransferID) fields() logrus.Fields {
	return logrus.Fields{
		"friend_id":   id.FriendID,
		"file_number": id.FileNumber,
		"direction":   id.Direction,
	}
}

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since t.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// Source is the byte source behind an outgoing transfer.
type Source interface {
	io.ReaderAt
	io.Closer
}

// Sink is the byte sink behind an incoming transfer. Chunks are written at
// their offset, so the sink must support positioned writes.
type Sink interface {
	io.WriterAt
	io.Closer
}

// Transfer is the state of one live file transfer.
type Transfer struct {
	ID        TransferID
	Kind      Kind
	FileName  string
	Path      string
	FileSize  uint64
	FileID    [FileIDLength]byte
	State     TransferState
	Cursor    uint64
	StartTime time.Time
	Error     error

	// Transferred counts payload bytes written (incoming) or delivered (outgoing).
	Transferred uint64

	// TraceID correlates log lines across reuse of file numbers.
	TraceID uuid.UUID

	source   Source
	sink     Sink
	released bool

	// receive-side flow control
	received       byteRanges
	requested      uint64
	outstanding    int
	finalRequested bool

	lastChunkTime time.Time
	transferSpeed float64
	timeProvider  TimeProvider
}

func newTransfer(id TransferID, kind Kind, fileName string, fileSize uint64, tp TimeProvider) *Transfer {
	t := &Transfer{
		ID:            id,
		Kind:          kind,
		FileName:      fileName,
		FileSize:      fileSize,
		State:         TransferStatePending,
		TraceID:       uuid.New(),
		lastChunkTime: tp.Now(),
		timeProvider:  tp,
	}

	logrus.WithFields(t.logFields()).WithFields(logrus.Fields{
		"function":  "newTransfer",
		"kind":      kind,
		"file_name": fileName,
		"file_size": fileSize,
	}).Info("Creating new file transfer")

	return t
}

func (t *Transfer) logFields() logrus.Fields {
	f := t.ID.fields()
	f["trace_id"] = t.TraceID.String()
	return f
}

// SizeKnown reports whether the total size was announced.
func (t *Transfer) SizeKnown() bool {
	return t.FileSize != UnknownFileSize
}

// hasResource reports whether a source or sink is currently held.
func (t *Transfer) hasResource() bool {
	return !t.released && (t.source != nil || t.sink != nil)
}

// release closes the held resource. It is safe to call more than once; only the
// first call closes anything.
func (t *Transfer) release() error {
	if t.released {
		return nil
	}
	t.released = true

	var closer io.Closer
	switch {
	case t.sink != nil:
		closer = t.sink
	case t.source != nil:
		closer = t.source
	default:
		return nil
	}

	if err := closer.Close(); err != nil {
		logrus.WithFields(t.logFields()).WithFields(logrus.Fields{
			"function":  "release",
			"file_name": t.FileName,
			"error":     err.Error(),
		}).Warn("Failed to close file handle")
		return err
	}
	return nil
}

// advanceCursor moves the cursor forward to end, never backwards.
func (t *Transfer) advanceCursor(end uint64) {
	if end > t.Cursor {
		t.Cursor = end
	}
}

// recordChunk updates progress and speed metrics after n payload bytes moved.
func (t *Transfer) recordChunk(n int) {
	t.Transferred += uint64(n)
	t.updateTransferSpeed(uint64(n))
}

// updateTransferSpeed calculates the current transfer speed.
func (t *Transfer) updateTransferSpeed(chunkSize uint64) {
	now := t.timeProvider.Now()
	duration := t.timeProvider.Since(t.lastChunkTime).Seconds()

	if duration > 0 {
		instantSpeed := float64(chunkSize) / duration

		// Exponential moving average with alpha = 0.3
		if t.transferSpeed == 0 {
			t.transferSpeed = instantSpeed
		} else {
			t.transferSpeed = 0.7*t.transferSpeed + 0.3*instantSpeed
		}
	}

	t.lastChunkTime = now
}

// GetProgress returns the current progress of the transfer as a percentage.
// Streaming transfers report 0.
func (t *Transfer) GetProgress() float64 {
	if !t.SizeKnown() || t.FileSize == 0 {
		return 0.0
	}
	return float64(t.Cursor) / float64(t.FileSize) * 100.0
}

// GetSpeed returns the current transfer speed in bytes per second.
func (t *Transfer) GetSpeed() float64 {
	return t.transferSpeed
}

// GetEstimatedTimeRemaining returns the estimated time remaining for the transfer.
func (t *Transfer) GetEstimatedTimeRemaining() time.Duration {
	if t.State != TransferStateActive || t.transferSpeed <= 0 || !t.SizeKnown() || t.Cursor >= t.FileSize {
		return 0
	}

	secondsRemaining := float64(t.FileSize-t.Cursor) / t.transferSpeed
	return time.Duration(secondsRemaining * float64(time.Second))
}

// GetTimeSinceLastChunk returns the duration since the last chunk moved.
func (t *Transfer) GetTimeSinceLastChunk() time.Duration {
	return t.timeProvider.Since(t.lastChunkTime)
}

// IsStalled reports whether an active transfer has moved no data within timeout.
// Stalled transfers are only reported, never cancelled.
func (t *Transfer) IsStalled(timeout time.Duration) bool {
	if timeout <= 0 || t.State != TransferStateActive {
		return false
	}
	return t.GetTimeSinceLastChunk() >= timeout
}
