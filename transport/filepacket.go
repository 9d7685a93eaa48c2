package transport

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/opd-ai/toxfile/limits"
)

// FileIDSize is the length of the file ID carried in offers.
const FileIDSize = 32

// ErrPacketTooShort is returned when a payload is shorter than its fixed header.
var ErrPacketTooShort = errors.New("packet too short")

// FileOffer is the payload of PacketFileRequest.
type FileOffer struct {
	FileNumber uint32
	Kind       uint32
	FileSize   uint64
	FileID     [FileIDSize]byte
	FileName   string
}

const fileOfferHeaderSize = 4 + 4 + 8 + FileIDSize + 2

// Packet encodes the offer.
func (o *FileOffer) Packet() (*Packet, error) {
	// Format: [file_number (4)][kind (4)][file_size (8)][file_id (32)][name_len (2)][file_name]
	if err := limits.ValidateFileName(o.FileName); err != nil {
		return nil, err
	}
	nameBytes := []byte(o.FileName)
	data := make([]byte, fileOfferHeaderSize+len(nameBytes))

	binary.BigEndian.PutUint32(data[0:4], o.FileNumber)
	binary.BigEndian.PutUint32(data[4:8], o.Kind)
	binary.BigEndian.PutUint64(data[8:16], o.FileSize)
	copy(data[16:48], o.FileID[:])
	binary.BigEndian.PutUint16(data[48:50], uint16(len(nameBytes)))
	copy(data[50:], nameBytes)

	return &Packet{PacketType: PacketFileRequest, Data: data}, nil
}

// ParseFileOffer decodes a PacketFileRequest payload. The name is returned as
// sent; judging it is up to the receiver.
func ParseFileOffer(data []byte) (*FileOffer, error) {
	if len(data) < fileOfferHeaderSize {
		return nil, fmt.Errorf("file request: %w", ErrPacketTooShort)
	}

	nameLen := int(binary.BigEndian.Uint16(data[48:50]))
	if len(data) < fileOfferHeaderSize+nameLen {
		return nil, errors.New("file request packet truncated")
	}

	o := &FileOffer{
		FileNumber: binary.BigEndian.Uint32(data[0:4]),
		Kind:       binary.BigEndian.Uint32(data[4:8]),
		FileSize:   binary.BigEndian.Uint64(data[8:16]),
		FileName:   string(data[50 : 50+nameLen]),
	}
	copy(o.FileID[:], data[16:48])
	return o, nil
}

// FileControlPacket is the payload of PacketFileControl. SenderOutgoing is
// true when the signalling side sends the file, which tells the peer which of
// its two transfers with this number is meant.
type FileControlPacket struct {
	FileNumber     uint32
	SenderOutgoing bool
	Control        uint8
}

// Packet encodes the control signal.
func (c *FileControlPacket) Packet() *Packet {
	// Format: [file_number (4)][direction (1)][control (1)]
	data := make([]byte, 6)
	binary.BigEndian.PutUint32(data[0:4], c.FileNumber)
	if c.SenderOutgoing {
		data[4] = 1
	}
	data[5] = c.Control
	return &Packet{PacketType: PacketFileControl, Data: data}
}

// ParseFileControl decodes a PacketFileControl payload.
func ParseFileControl(data []byte) (*FileControlPacket, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("file control: %w", ErrPacketTooShort)
	}
	if data[4] > 1 {
		return nil, fmt.Errorf("file control: invalid direction %d", data[4])
	}
	return &FileControlPacket{
		FileNumber:     binary.BigEndian.Uint32(data[0:4]),
		SenderOutgoing: data[4] == 1,
		Control:        data[5],
	}, nil
}

// FileChunkRequest is the payload of PacketFileChunkRequest.
type FileChunkRequest struct {
	FileNumber uint32
	Position   uint64
	Length     uint16
}

// Packet encodes the request.
func (r *FileChunkRequest) Packet() *Packet {
	// Format: [file_number (4)][position (8)][length (2)]
	data := make([]byte, 14)
	binary.BigEndian.PutUint32(data[0:4], r.FileNumber)
	binary.BigEndian.PutUint64(data[4:12], r.Position)
	binary.BigEndian.PutUint16(data[12:14], r.Length)
	return &Packet{PacketType: PacketFileChunkRequest, Data: data}
}

// ParseFileChunkRequest decodes a PacketFileChunkRequest payload.
func ParseFileChunkRequest(data []byte) (*FileChunkRequest, error) {
	if len(data) < 14 {
		return nil, fmt.Errorf("file chunk request: %w", ErrPacketTooShort)
	}
	return &FileChunkRequest{
		FileNumber: binary.BigEndian.Uint32(data[0:4]),
		Position:   binary.BigEndian.Uint64(data[4:12]),
		Length:     binary.BigEndian.Uint16(data[12:14]),
	}, nil
}

// FileData is the payload of PacketFileData. An empty Chunk is the final
// chunk of a transfer.
type FileData struct {
	FileNumber uint32
	Position   uint64
	Chunk      []byte
}

// Packet encodes the chunk.
func (d *FileData) Packet() (*Packet, error) {
	// Format: [file_number (4)][position (8)][chunk_data]
	if err := limits.ValidateChunk(d.Chunk); err != nil {
		return nil, err
	}
	data := make([]byte, 12+len(d.Chunk))
	binary.BigEndian.PutUint32(data[0:4], d.FileNumber)
	binary.BigEndian.PutUint64(data[4:12], d.Position)
	copy(data[12:], d.Chunk)
	return &Packet{PacketType: PacketFileData, Data: data}, nil
}

// ParseFileData decodes a PacketFileData payload. Chunk is never nil.
func ParseFileData(data []byte) (*FileData, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("file data: %w", ErrPacketTooShort)
	}
	chunk := make([]byte, len(data)-12)
	copy(chunk, data[12:])
	return &FileData{
		FileNumber: binary.BigEndian.Uint32(data[0:4]),
		Position:   binary.BigEndian.Uint64(data[4:12]),
		Chunk:      chunk,
	}, nil
}

// FileDataAck is the payload of PacketFileDataAck.
type FileDataAck struct {
	FileNumber    uint32
	BytesReceived uint64
}

// Packet encodes the acknowledgment.
func (a *FileDataAck) Packet() *Packet {
	// Format: [file_number (4)][bytes_received (8)]
	data := make([]byte, 12)
	binary.BigEndian.PutUint32(data[0:4], a.FileNumber)
	binary.BigEndian.PutUint64(data[4:12], a.BytesReceived)
	return &Packet{PacketType: PacketFileDataAck, Data: data}
}

// ParseFileDataAck decodes a PacketFileDataAck payload.
func ParseFileDataAck(data []byte) (*FileDataAck, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("file data ack: %w", ErrPacketTooShort)
	}
	return &FileDataAck{
		FileNumber:    binary.BigEndian.Uint32(data[0:4]),
		BytesReceived: binary.BigEndian.Uint64(data[4:12]),
	}, nil
}
