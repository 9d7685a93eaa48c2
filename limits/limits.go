// Package limits provides centralized size limits for file transfer packets.
// This ensures consistent validation across the engine, the wire codec and the transport.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxChunkSize is the largest chunk payload a single data packet may carry.
	// This matches the Tox MAX_FILE_DATA_SIZE so a chunk fits one UDP datagram.
	MaxChunkSize = 1371

	// MaxFileNameLength is the maximum offered file name length in bytes.
	// The value (255) matches typical filesystem limits and fits in a uint16.
	MaxFileNameLength = 255

	// MaxPacketSize bounds any file transfer packet on the wire, headers included.
	MaxPacketSize = 2048
)

var (
	// ErrMessageEmpty indicates an empty payload was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates a payload exceeds its maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates a payload against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateChunk checks a chunk payload against MaxChunkSize.
// Empty chunks are valid: a zero-length chunk marks the end of a transfer.
func ValidateChunk(chunk []byte) error {
	if len(chunk) > MaxChunkSize {
		return fmt.Errorf("%w: chunk size %d exceeds limit %d", ErrMessageTooLarge, len(chunk), MaxChunkSize)
	}
	return nil
}

// ValidateFileName checks an offered file name against MaxFileNameLength.
func ValidateFileName(name string) error {
	if len(name) == 0 {
		return ErrMessageEmpty
	}
	if len(name) > MaxFileNameLength {
		return fmt.Errorf("%w: file name length %d exceeds limit %d", ErrMessageTooLarge, len(name), MaxFileNameLength)
	}
	return nil
}

// ClampChunkLength bounds a requested chunk length to [0, MaxChunkSize].
func ClampChunkLength(length int) int {
	if length < 0 {
		return 0
	}
	if length > MaxChunkSize {
		return MaxChunkSize
	}
	return length
}

// ValidatePacket validates raw packet data against MaxPacketSize.
func ValidatePacket(data []byte) error {
	return ValidateMessageSize(data, MaxPacketSize)
}
