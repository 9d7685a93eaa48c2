package file

import (
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
)

// FileIDLength is the size of a file ID, matching TOX_FILE_ID_LENGTH.
const FileIDLength = 32

// ComputeFileID hashes r with BLAKE2b-256. The hash doubles as the file ID
// carried in offers.
func ComputeFileID(r io.Reader) ([FileIDLength]byte, error) {
	var id [FileIDLength]byte

	h, err := blake2b.New256(nil)
	if err != nil {
		return id, err
	}
	if _, err := io.Copy(h, r); err != nil {
		return id, fmt.Errorf("hash file: %w", err)
	}

	copy(id[:], h.Sum(nil))
	return id, nil
}

// isZeroFileID reports whether no file ID was supplied.
func isZeroFileID(id [FileIDLength]byte) bool {
	return id == [FileIDLength]byte{}
}
