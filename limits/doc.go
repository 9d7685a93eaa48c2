// Package limits provides centralized size constants and validation functions
// for file transfers. The engine, the wire codec and the UDP transport all
// validate against the same values.
//
// # Size Hierarchy
//
//   - MaxChunkSize (1371 bytes): the largest chunk payload. A zero-length chunk
//     is legal and marks the end of a transfer.
//
//   - MaxFileNameLength (255 bytes): the longest offered file name.
//
//   - MaxPacketSize (2048 bytes): the largest file transfer packet, headers
//     included. Chunk packets always fit one UDP datagram.
//
// # Validation Functions
//
//	if err := limits.ValidateChunk(data); err != nil {
//	    // errors.Is(err, limits.ErrMessageTooLarge)
//	}
//
// Requested chunk lengths are clamped rather than rejected:
//
//	n := limits.ClampChunkLength(requested)
package limits
