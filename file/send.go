package file

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/opd-ai/toxfile/limits"
	"github.com/sirupsen/logrus"
)

// SendSession answers chunk requests for outgoing transfers.
type SendSession struct {
	transport Transport
}

// NewSendSession creates a send session delivering through transport.
func NewSendSession(transport Transport) *SendSession {
	return &SendSession{transport: transport}
}

// OnChunkRequested reads up to length bytes at position and delivers them.
//
// Requests on a transfer that is not active are ignored. A position at or past
// the end of the source is answered with a zero-length chunk, which the
// receiver takes as end of transfer. Short reads are delivered truncated.
// The session keeps answering until it is cancelled or the transport reports
// the transfer done.
func (s *SendSession) OnChunkRequested(t *Transfer, position uint64, length int) error {
	if t.State != TransferStateActive {
		logrus.WithFields(t.logFields()).WithFields(logrus.Fields{
			"function": "OnChunkRequested",
			"state":    t.State,
			"position": position,
		}).Debug("Ignoring chunk request for inactive transfer")
		return nil
	}

	data, err := s.readChunk(t, position, limits.ClampChunkLength(length))
	if err != nil {
		logrus.WithFields(t.logFields()).WithFields(logrus.Fields{
			"function": "OnChunkRequested",
			"position": position,
			"length":   length,
			"error":    err.Error(),
		}).Error("Failed to read chunk")
		return fmt.Errorf("%w: read at %d: %v", ErrResourceIO, position, err)
	}

	if len(data) == 0 {
		logrus.WithFields(t.logFields()).WithFields(logrus.Fields{
			"function": "OnChunkRequested",
			"position": position,
		}).Debug("Position out of bounds, sending end-of-transfer chunk")
	}

	if err := s.transport.DeliverChunk(t.ID, position, data); err != nil {
		return fmt.Errorf("deliver chunk at %d: %w", position, err)
	}

	if len(data) > 0 {
		t.advanceCursor(position + uint64(len(data)))
	}
	t.recordChunk(len(data))

	logrus.WithFields(t.logFields()).WithFields(logrus.Fields{
		"function": "OnChunkRequested",
		"position": position,
		"size":     len(data),
		"cursor":   t.Cursor,
	}).Debug("Sent chunk")

	return nil
}

// readChunk reads length bytes at position. Reads past the end of the source,
// or past the announced size if the source has since grown, return an empty
// slice and no error.
func (s *SendSession) readChunk(t *Transfer, position uint64, length int) ([]byte, error) {
	if t.source == nil {
		return nil, errors.New("transfer has no open source")
	}
	if t.SizeKnown() {
		if position >= t.FileSize {
			return []byte{}, nil
		}
		if remaining := t.FileSize - position; remaining < uint64(length) {
			length = int(remaining)
		}
	}
	if position > math.MaxInt64 || length == 0 {
		return []byte{}, nil
	}

	buf := make([]byte, length)
	n, err := t.source.ReadAt(buf, int64(position))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}
