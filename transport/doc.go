// Package transport carries file transfer packets between peers.
//
// # Architecture
//
// The core abstraction is the Transport interface, which UDPTransport
// satisfies:
//
//	type Transport interface {
//	    Send(packet *Packet, addr net.Addr) error
//	    Close() error
//	    LocalAddr() net.Addr
//	    RegisterHandler(packetType PacketType, handler PacketHandler)
//	}
//
// Addresses are always net.Addr, never concrete types like *net.UDPAddr.
//
// # Packets
//
// Every datagram is a one byte PacketType followed by a big-endian payload:
//
//	PacketFileRequest       [file_number 4][kind 4][file_size 8][file_id 32][name_len 2][name]
//	PacketFileControl       [file_number 4][direction 1][control 1]
//	PacketFileData          [file_number 4][position 8][chunk]
//	PacketFileChunkRequest  [file_number 4][position 8][length 2]
//	PacketFileDataAck       [file_number 4][bytes_received 8]
//
// A PacketFileData with an empty chunk ends a transfer.
//
// # Example
//
//	udp, err := transport.NewUDPTransport(":33445")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer udp.Close()
//
//	udp.RegisterHandler(transport.PacketFileData, func(p *transport.Packet, addr net.Addr) error {
//	    data, err := transport.ParseFileData(p.Data)
//	    if err != nil {
//	        return err
//	    }
//	    // hand data to the engine
//	    return nil
//	})
//
// Handlers run on the receive goroutine, in arrival order.
package transport
