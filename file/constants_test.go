package file

// Test friend identifiers.
const (
	testFriendAlice = 0
	testFriendBob   = 1
)

// Common test file size constants.
const (
	testFileSize1KB = 1024
	testFileSize2KB = 2048
	testFileSize1GB = 1073741824
)

// testPayload returns n deterministic bytes.
func testPayload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}
