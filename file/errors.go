package file

import "errors"

// ErrDuplicateID indicates a transfer with the same ID is already registered.
var ErrDuplicateID = errors.New("transfer id already registered")

// ErrUnknownTransfer indicates an event referenced a transfer that is not registered.
// This is expected when a peer message races local cleanup.
var ErrUnknownTransfer = errors.New("unknown transfer")

// ErrResourceIO indicates a filesystem failure opening, reading or writing a transfer's file.
var ErrResourceIO = errors.New("transfer resource i/o failed")

// ErrInvalidOffer indicates an offer that was rejected with a cancel.
var ErrInvalidOffer = errors.New("invalid file offer")

// ErrInvalidTransition indicates a control signal that does not apply in the current state.
var ErrInvalidTransition = errors.New("invalid transfer state transition")

// ErrChunkOutOfRange indicates a received chunk is oversized or extends past the
// announced file size. Such chunks are dropped.
var ErrChunkOutOfRange = errors.New("chunk out of range")

// ErrFileIDMismatch indicates a completed file does not hash to the offered file ID.
var ErrFileIDMismatch = errors.New("received file does not match offered file id")

// ErrDirectoryTraversal indicates an attempt to access files outside allowed directories.
var ErrDirectoryTraversal = errors.New("path contains directory traversal")

// ErrEngineStopped indicates the event loop is no longer accepting events.
var ErrEngineStopped = errors.New("transfer engine stopped")
