package transport

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/opd-ai/toxfile/limits"
	"github.com/sirupsen/logrus"
)

// ErrTransportClosed is returned by Send after Close.
var ErrTransportClosed = errors.New("transport closed")

// UDPStats counts datagrams seen by a UDPTransport.
type UDPStats struct {
	Sent          uint64
	Received      uint64
	Dropped       uint64
	Unhandled     uint64
	HandlerErrors uint64
}

// UDPTransport carries file packets over a single UDP socket.
//
// Handlers run on the receive goroutine one datagram at a time, so packets
// from one peer reach their handler in arrival order. Handlers must not block.
type UDPTransport struct {
	conn net.PacketConn

	mu       sync.RWMutex
	handlers map[PacketType]PacketHandler

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	loopDone  chan struct{}

	sent, received, dropped, unhandled, handlerErrors atomic.Uint64
}

// NewUDPTransport binds listenAddr and starts the receive loop.
func NewUDPTransport(listenAddr string) (*UDPTransport, error) {
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, err
	}

	t := &UDPTransport{
		conn:     conn,
		handlers: make(map[PacketType]PacketHandler),
		loopDone: make(chan struct{}),
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewUDPTransport",
		"local_addr": conn.LocalAddr().String(),
	}).Info("UDP transport listening")

	go t.receiveLoop()
	return t, nil
}

// RegisterHandler installs the handler for packetType, replacing any previous one.
func (t *UDPTransport) RegisterHandler(packetType PacketType, handler PacketHandler) {
	t.mu.Lock()
	t.handlers[packetType] = handler
	t.mu.Unlock()
}

// Send serializes packet and writes it as one datagram to addr.
func (t *UDPTransport) Send(packet *Packet, addr net.Addr) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	data, err := packet.Serialize()
	if err != nil {
		return err
	}
	if err := limits.ValidatePacket(data); err != nil {
		return err
	}

	if _, err := t.conn.WriteTo(data, addr); err != nil {
		return err
	}
	t.sent.Add(1)
	return nil
}

// Close closes the socket and waits for the receive loop to exit. It is safe
// to call more than once.
func (t *UDPTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.closeErr = t.conn.Close()
		<-t.loopDone
	})
	return t.closeErr
}

// LocalAddr returns the bound address, with the kernel-chosen port if port 0
// was requested.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Stats returns a snapshot of the datagram counters.
func (t *UDPTransport) Stats() UDPStats {
	return UDPStats{
		Sent:          t.sent.Load(),
		Received:      t.received.Load(),
		Dropped:       t.dropped.Load(),
		Unhandled:     t.unhandled.Load(),
		HandlerErrors: t.handlerErrors.Load(),
	}
}

// receiveLoop blocks in ReadFrom until Close closes the socket.
func (t *UDPTransport) receiveLoop() {
	defer close(t.loopDone)
	buf := make([]byte, limits.MaxPacketSize+1)

	for {
		n, addr, err := t.conn.ReadFrom(buf)
		if err != nil {
			if t.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			logrus.WithFields(logrus.Fields{
				"function": "receiveLoop",
				"error":    err.Error(),
			}).Warn("UDP read failed")
			continue
		}
		t.received.Add(1)
		t.handleDatagram(buf[:n], addr)
	}
}

func (t *UDPTransport) handleDatagram(data []byte, addr net.Addr) {
	if err := limits.ValidatePacket(data); err != nil {
		t.dropped.Add(1)
		logrus.WithFields(logrus.Fields{
			"function": "handleDatagram",
			"from":     addr.String(),
			"size":     len(data),
			"error":    err.Error(),
		}).Debug("Dropping invalid datagram")
		return
	}

	// ParsePacket copies the payload out of the shared read buffer.
	packet, err := ParsePacket(data)
	if err != nil {
		t.dropped.Add(1)
		return
	}

	t.mu.RLock()
	handler, ok := t.handlers[packet.PacketType]
	t.mu.RUnlock()
	if !ok {
		t.unhandled.Add(1)
		logrus.WithFields(logrus.Fields{
			"function":    "handleDatagram",
			"packet_type": packet.PacketType.String(),
			"from":        addr.String(),
		}).Debug("No handler for packet type")
		return
	}

	if err := handler(packet, addr); err != nil {
		t.handlerErrors.Add(1)
		logrus.WithFields(logrus.Fields{
			"function":    "handleDatagram",
			"packet_type": packet.PacketType.String(),
			"from":        addr.String(),
			"error":       err.Error(),
		}).Debug("Packet handler failed")
	}
}
