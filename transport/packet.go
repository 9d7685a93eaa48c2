package transport

import (
	"errors"
	"fmt"
)

// PacketType identifies the type of a file transfer packet.
type PacketType byte

const (
	// PacketFileRequest offers a file to a friend.
	PacketFileRequest PacketType = 80
	// PacketFileControl carries a pause, resume or cancel signal.
	PacketFileControl PacketType = 81
	// PacketFileData carries one chunk. An empty chunk ends the transfer.
	PacketFileData PacketType = 82
	// PacketFileChunkRequest asks the sender for bytes at a position.
	PacketFileChunkRequest PacketType = 83
	// PacketFileDataAck acknowledges a completed incoming transfer.
	PacketFileDataAck PacketType = 84
)

func (t PacketType) String() string {
	switch t {
	case PacketFileRequest:
		return "file_request"
	case PacketFileControl:
		return "file_control"
	case PacketFileData:
		return "file_data"
	case PacketFileChunkRequest:
		return "file_chunk_request"
	case PacketFileDataAck:
		return "file_data_ack"
	default:
		return fmt.Sprintf("packet(%d)", byte(t))
	}
}

// Packet is a typed datagram.
type Packet struct {
	PacketType PacketType
	Data       []byte
}

// Serialize converts a packet to a byte slice for transmission.
func (p *Packet) Serialize() ([]byte, error) {
	if p.Data == nil {
		return nil, errors.New("packet data is nil")
	}

	// Format: [packet type (1 byte)][data (variable length)]
	result := make([]byte, 1+len(p.Data))
	result[0] = byte(p.PacketType)
	copy(result[1:], p.Data)

	return result, nil
}

// ParsePacket converts a byte slice to a Packet structure.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < 1 {
		return nil, errors.New("packet too short")
	}

	packet := &Packet{
		PacketType: PacketType(data[0]),
		Data:       make([]byte, len(data)-1),
	}
	copy(packet.Data, data[1:])

	return packet, nil
}
