package toxfile

import (
	"net"
	"sync"
	"testing"

	"github.com/opd-ai/toxfile/file"
	"github.com/opd-ai/toxfile/transport"
)

// recordingTransport is a transport.Transport that records sent packets and
// lets tests deliver packets to the registered handlers directly.
type recordingTransport struct {
	mu       sync.Mutex
	sent     []*transport.Packet
	to       []net.Addr
	handlers map[transport.PacketType]transport.PacketHandler
	local    net.Addr
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{
		handlers: make(map[transport.PacketType]transport.PacketHandler),
		local:    &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 33445},
	}
}

func (r *recordingTransport) Send(packet *transport.Packet, addr net.Addr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, packet)
	r.to = append(r.to, addr)
	return nil
}

func (r *recordingTransport) Close() error {
	return nil
}

func (r *recordingTransport) LocalAddr() net.Addr {
	return r.local
}

func (r *recordingTransport) RegisterHandler(packetType transport.PacketType, handler transport.PacketHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[packetType] = handler
}

// deliver runs the handler registered for packet's type.
func (r *recordingTransport) deliver(packet *transport.Packet, from net.Addr) error {
	r.mu.Lock()
	handler := r.handlers[packet.PacketType]
	r.mu.Unlock()
	if handler == nil {
		return nil
	}
	return handler(packet, from)
}

func (r *recordingTransport) sentPackets() []*transport.Packet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*transport.Packet(nil), r.sent...)
}

func newTestStorage(t *testing.T) file.Storage {
	t.Helper()
	return file.NewDirStorage(t.TempDir())
}
