package file

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
)

// mockTimeProvider provides deterministic time for testing.
type mockTimeProvider struct {
	currentTime time.Time
}

func (m *mockTimeProvider) Now() time.Time {
	return m.currentTime
}

func (m *mockTimeProvider) Since(t time.Time) time.Duration {
	return m.currentTime.Sub(t)
}

func (m *mockTimeProvider) advance(d time.Duration) {
	m.currentTime = m.currentTime.Add(d)
}

func newMockTimeProvider() *mockTimeProvider {
	return &mockTimeProvider{
		currentTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

type sentControl struct {
	id      TransferID
	control Control
}

type deliveredChunk struct {
	id       TransferID
	position uint64
	data     []byte
}

type requestedChunk struct {
	id       TransferID
	position uint64
	length   int
}

type offeredFile struct {
	friendID uint32
	kind     Kind
	name     string
	size     uint64
	fileID   [FileIDLength]byte
}

// mockTransport implements Transport and CompletionNotifier for testing.
type mockTransport struct {
	mu         sync.Mutex
	controls   []sentControl
	chunks     []deliveredChunk
	requests   []requestedChunk
	offers     []offeredFile
	completed  []TransferID
	nextNumber uint32
	sendErr    error
}

func newMockTransport() *mockTransport {
	return &mockTransport{}
}

func (m *mockTransport) SendControl(id TransferID, control Control) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.controls = append(m.controls, sentControl{id: id, control: control})
	return nil
}

func (m *mockTransport) DeliverChunk(id TransferID, position uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.chunks = append(m.chunks, deliveredChunk{id: id, position: position, data: append([]byte{}, data...)})
	return nil
}

func (m *mockTransport) RequestChunk(id TransferID, position uint64, length int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.requests = append(m.requests, requestedChunk{id: id, position: position, length: length})
	return nil
}

func (m *mockTransport) InitiateSend(friendID uint32, kind Kind, fileName string, fileSize uint64, fileID [FileIDLength]byte) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return 0, m.sendErr
	}
	m.offers = append(m.offers, offeredFile{friendID: friendID, kind: kind, name: fileName, size: fileSize, fileID: fileID})
	n := m.nextNumber
	m.nextNumber++
	return n, nil
}

func (m *mockTransport) NotifyComplete(id TransferID, received uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, id)
	return nil
}

func (m *mockTransport) lastControl() (sentControl, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.controls) == 0 {
		return sentControl{}, false
	}
	return m.controls[len(m.controls)-1], true
}

func (m *mockTransport) controlsFor(id TransferID) []Control {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Control
	for _, c := range m.controls {
		if c.id == id {
			out = append(out, c.control)
		}
	}
	return out
}

func (m *mockTransport) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controls = nil
	m.chunks = nil
	m.requests = nil
}

// memSink is an in-memory Sink that counts closes.
type memSink struct {
	mu       sync.Mutex
	buf      []byte
	closes   int
	writeErr error
}

func (s *memSink) WriteAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closes > 0 {
		return 0, errors.New("write on closed sink")
	}
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	end := int(off) + len(p)
	if end > len(s.buf) {
		grown := make([]byte, end)
		copy(grown, s.buf)
		s.buf = grown
	}
	copy(s.buf[off:], p)
	return len(p), nil
}

func (s *memSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

// memSource is an in-memory Source that counts closes.
type memSource struct {
	*bytes.Reader
	closes  int
	readErr error
}

func newMemSource(data []byte) *memSource {
	return &memSource{Reader: bytes.NewReader(data)}
}

func (s *memSource) ReadAt(p []byte, off int64) (int, error) {
	if s.readErr != nil {
		return 0, s.readErr
	}
	return s.Reader.ReadAt(p, off)
}

func (s *memSource) Close() error {
	s.closes++
	return nil
}

// memStorage is an in-memory Storage.
type memStorage struct {
	sinks     map[string]*memSink
	sources   map[string][]byte
	opened    map[string]*memSource
	createErr error
}

func newMemStorage() *memStorage {
	return &memStorage{
		sinks:   make(map[string]*memSink),
		sources: make(map[string][]byte),
		opened:  make(map[string]*memSource),
	}
}

func (m *memStorage) CreateSink(friendID uint32, name string) (Sink, string, error) {
	if m.createErr != nil {
		return nil, "", m.createErr
	}
	path := FriendDirName(friendID) + "/" + name
	sink := &memSink{}
	m.sinks[path] = sink
	return sink, path, nil
}

func (m *memStorage) OpenSource(path string) (Source, uint64, error) {
	data, ok := m.sources[path]
	if !ok {
		return nil, 0, errors.New("no such file")
	}
	src := newMemSource(data)
	m.opened[path] = src
	return src, uint64(len(data)), nil
}

func (m *memStorage) Open(path string) (io.ReadCloser, error) {
	sink, ok := m.sinks[path]
	if !ok {
		return nil, errors.New("no such file")
	}
	return io.NopCloser(bytes.NewReader(sink.buf)), nil
}
