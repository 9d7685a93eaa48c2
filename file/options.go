package file

import (
	"fmt"
	"time"

	"github.com/opd-ai/toxfile/limits"
)

// Options configures an Engine.
type Options struct {
	// ChunkSize is the number of bytes requested per chunk by incoming transfers.
	ChunkSize int
	// Window is the number of chunk requests kept outstanding per incoming transfer.
	Window int
	// VerifyFileIDs hashes outgoing files into their file ID and checks
	// completed incoming files against the offered ID.
	VerifyFileIDs bool
	// InboxSize is the capacity of the event queue drained by Run.
	InboxSize int
	// StallTimeout is how long an active transfer may move no data before Run
	// reports it. Zero disables reporting. Stalled transfers are never cancelled.
	StallTimeout time.Duration
	// StallCheckInterval is how often Run looks for stalled transfers.
	StallCheckInterval time.Duration
}

// NewOptions returns an Options with default values.
func NewOptions() *Options {
	return &Options{
		ChunkSize:          ChunkSize,
		Window:             4,
		VerifyFileIDs:      true,
		InboxSize:          256,
		StallTimeout:       30 * time.Second,
		StallCheckInterval: 5 * time.Second,
	}
}

// Validate checks option values.
func (o *Options) Validate() error {
	if o.ChunkSize <= 0 || o.ChunkSize > limits.MaxChunkSize {
		return fmt.Errorf("chunk size %d out of range 1..%d", o.ChunkSize, limits.MaxChunkSize)
	}
	if o.Window <= 0 {
		return fmt.Errorf("window must be positive, got %d", o.Window)
	}
	if o.InboxSize < 0 {
		return fmt.Errorf("inbox size must not be negative, got %d", o.InboxSize)
	}
	if o.StallTimeout < 0 {
		return fmt.Errorf("stall timeout must not be negative, got %v", o.StallTimeout)
	}
	if o.StallTimeout > 0 && o.StallCheckInterval <= 0 {
		return fmt.Errorf("stall check interval must be positive when stall timeout is set")
	}
	return nil
}
