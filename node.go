package toxfile

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/toxfile/file"
	"github.com/opd-ai/toxfile/limits"
	"github.com/opd-ai/toxfile/transport"
	"github.com/sirupsen/logrus"
)

// ErrUnknownPeer is returned for packets or calls naming a peer not in the
// peer table.
var ErrUnknownPeer = errors.New("unknown peer")

// NodeOptions contains node configuration.
type NodeOptions struct {
	// ListenAddr is the UDP address New binds to.
	ListenAddr string
	// DownloadDir is where New stores incoming files, one directory per friend.
	DownloadDir string
	// AutoAcceptPeers adds the sender of any packet from an unknown address to
	// the peer table instead of dropping the packet.
	AutoAcceptPeers bool
	// Engine configures the transfer engine. Nil uses file.NewOptions.
	Engine *file.Options
}

// NewNodeOptions creates default node options.
func NewNodeOptions() *NodeOptions {
	return &NodeOptions{
		ListenAddr:      "0.0.0.0:33445",
		DownloadDir:     "downloads",
		AutoAcceptPeers: true,
		Engine:          file.NewOptions(),
	}
}

// Node runs a transfer engine over a packet transport. Friends are plain
// peer addresses numbered in the order they become known.
type Node struct {
	transport  transport.Transport
	engine     *file.Engine
	autoAccept bool

	mu          sync.RWMutex
	peers       map[uint32]net.Addr
	peerIDs     map[string]uint32
	nextPeerID  uint32
	nextFileNum map[uint32]uint32

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a node listening on options.ListenAddr over UDP and storing
// incoming files below options.DownloadDir.
func New(options *NodeOptions) (*Node, error) {
	if options == nil {
		options = NewNodeOptions()
	}

	udp, err := transport.NewUDPTransport(options.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", options.ListenAddr, err)
	}

	node, err := NewNode(udp, file.NewDirStorage(options.DownloadDir), options)
	if err != nil {
		udp.Close()
		return nil, err
	}
	return node, nil
}

// NewNode creates a node over an existing transport and storage. The node
// registers its packet handlers on tr and owns it from then on.
func NewNode(tr transport.Transport, storage file.Storage, options *NodeOptions) (*Node, error) {
	if tr == nil {
		return nil, errors.New("transport is required")
	}
	if options == nil {
		options = NewNodeOptions()
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		transport:   tr,
		autoAccept:  options.AutoAcceptPeers,
		peers:       make(map[uint32]net.Addr),
		peerIDs:     make(map[string]uint32),
		nextFileNum: make(map[uint32]uint32),
		ctx:         ctx,
		cancel:      cancel,
	}

	engine, err := file.NewEngine(n, storage, options.Engine)
	if err != nil {
		cancel()
		return nil, err
	}
	n.engine = engine

	n.registerHandlers()

	logrus.WithFields(logrus.Fields{
		"function":    "NewNode",
		"local_addr":  tr.LocalAddr().String(),
		"auto_accept": options.AutoAcceptPeers,
	}).Info("File transfer node created")

	return n, nil
}

func (n *Node) registerHandlers() {
	n.transport.RegisterHandler(transport.PacketFileRequest, n.handleFileRequest)
	n.transport.RegisterHandler(transport.PacketFileControl, n.handleFileControl)
	n.transport.RegisterHandler(transport.PacketFileChunkRequest, n.handleFileChunkRequest)
	n.transport.RegisterHandler(transport.PacketFileData, n.handleFileData)
	n.transport.RegisterHandler(transport.PacketFileDataAck, n.handleFileDataAck)
}

// Engine returns the node's transfer engine. Callbacks must be set before Run.
func (n *Node) Engine() *file.Engine {
	return n.engine
}

// LocalAddr returns the address peers reach this node on.
func (n *Node) LocalAddr() net.Addr {
	return n.transport.LocalAddr()
}

// Run processes transfers until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	return n.engine.Run(ctx)
}

// Close stops delivering packets to the engine and closes the transport.
func (n *Node) Close() error {
	n.cancel()
	err := n.transport.Close()

	if udp, ok := n.transport.(*transport.UDPTransport); ok {
		stats := udp.Stats()
		logrus.WithFields(logrus.Fields{
			"function":       "Close",
			"sent":           stats.Sent,
			"received":       stats.Received,
			"dropped":        stats.Dropped,
			"unhandled":      stats.Unhandled,
			"handler_errors": stats.HandlerErrors,
		}).Info("File transfer node closed")
	}
	return err
}

// AddPeer returns the friend ID for addr, adding it to the peer table if needed.
func (n *Node) AddPeer(addr net.Addr) uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.addPeerLocked(addr)
}

func (n *Node) addPeerLocked(addr net.Addr) uint32 {
	key := addr.String()
	if id, ok := n.peerIDs[key]; ok {
		return id
	}

	id := n.nextPeerID
	n.nextPeerID++
	n.peers[id] = addr
	n.peerIDs[key] = id

	logrus.WithFields(logrus.Fields{
		"function":  "AddPeer",
		"friend_id": id,
		"address":   key,
	}).Info("Peer added")
	return id
}

// AddPeerByAddress resolves a host:port UDP address and adds it as a peer.
func (n *Node) AddPeerByAddress(address string) (uint32, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return 0, fmt.Errorf("resolve peer %s: %w", address, err)
	}
	return n.AddPeer(addr), nil
}

// PeerAddr returns the address of friendID.
func (n *Node) PeerAddr(friendID uint32) (net.Addr, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	addr, ok := n.peers[friendID]
	return addr, ok
}

// resolvePeer maps a packet source to a friend ID.
func (n *Node) resolvePeer(addr net.Addr) (uint32, error) {
	n.mu.RLock()
	id, ok := n.peerIDs[addr.String()]
	n.mu.RUnlock()
	if ok {
		return id, nil
	}
	if !n.autoAccept {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPeer, addr)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	logrus.WithFields(logrus.Fields{
		"function": "resolvePeer",
		"address":  addr.String(),
	}).Info("Auto-accepting packet from new peer")
	return n.addPeerLocked(addr), nil
}

// FileSend offers the file at path to friendID and returns the new transfer's ID.
func (n *Node) FileSend(ctx context.Context, friendID uint32, path string) (file.TransferID, error) {
	var (
		id     file.TransferID
		result error
	)
	err := n.engine.Do(ctx, func(e *file.Engine) {
		t, err := e.SendFile(friendID, file.KindData, path)
		if err != nil {
			result = err
			return
		}
		id = t.ID
	})
	if err != nil {
		return file.TransferID{}, err
	}
	return id, result
}

// FileControl pauses, resumes or cancels a transfer and tells the peer.
func (n *Node) FileControl(ctx context.Context, id file.TransferID, control file.Control) error {
	var result error
	if err := n.engine.Do(ctx, func(e *file.Engine) {
		result = e.Control(id, control)
	}); err != nil {
		return err
	}
	return result
}

// Transfers returns a snapshot of the live transfers.
func (n *Node) Transfers(ctx context.Context) ([]TransferInfo, error) {
	var infos []TransferInfo
	err := n.engine.Do(ctx, func(e *file.Engine) {
		for _, t := range e.Registry().All() {
			infos = append(infos, newTransferInfo(t))
		}
	})
	return infos, err
}

// TransferInfo is a copy of a transfer's public state, safe to keep.
type TransferInfo struct {
	ID          file.TransferID
	FileName    string
	FileSize    uint64
	State       file.TransferState
	Cursor      uint64
	Transferred uint64
	Progress    float64
	Speed       float64
	Remaining   time.Duration
}

func newTransferInfo(t *file.Transfer) TransferInfo {
	return TransferInfo{
		ID:          t.ID,
		FileName:    t.FileName,
		FileSize:    t.FileSize,
		State:       t.State,
		Cursor:      t.Cursor,
		Transferred: t.Transferred,
		Progress:    t.GetProgress(),
		Speed:       t.GetSpeed(),
		Remaining:   t.GetEstimatedTimeRemaining(),
	}
}

// SendControl implements file.Transport.
func (n *Node) SendControl(id file.TransferID, control file.Control) error {
	p := &transport.FileControlPacket{
		FileNumber:     id.FileNumber,
		SenderOutgoing: id.Direction == file.TransferDirectionOutgoing,
		Control:        uint8(control),
	}
	return n.send(id.FriendID, p.Packet())
}

// DeliverChunk implements file.Transport.
func (n *Node) DeliverChunk(id file.TransferID, position uint64, data []byte) error {
	p, err := (&transport.FileData{FileNumber: id.FileNumber, Position: position, Chunk: data}).Packet()
	if err != nil {
		return err
	}
	return n.send(id.FriendID, p)
}

// RequestChunk implements file.Transport.
func (n *Node) RequestChunk(id file.TransferID, position uint64, length int) error {
	p := &transport.FileChunkRequest{
		FileNumber: id.FileNumber,
		Position:   position,
		Length:     uint16(limits.ClampChunkLength(length)),
	}
	return n.send(id.FriendID, p.Packet())
}

// InitiateSend implements file.Transport. File numbers are allocated per
// friend in increasing order.
func (n *Node) InitiateSend(friendID uint32, kind file.Kind, fileName string, fileSize uint64, fileID [file.FileIDLength]byte) (uint32, error) {
	n.mu.Lock()
	if _, ok := n.peers[friendID]; !ok {
		n.mu.Unlock()
		return 0, fmt.Errorf("%w: friend %d", ErrUnknownPeer, friendID)
	}
	number := n.nextFileNum[friendID]
	n.nextFileNum[friendID] = number + 1
	n.mu.Unlock()

	offer := &transport.FileOffer{
		FileNumber: number,
		Kind:       uint32(kind),
		FileSize:   fileSize,
		FileID:     fileID,
		FileName:   fileName,
	}
	p, err := offer.Packet()
	if err != nil {
		return 0, err
	}
	if err := n.send(friendID, p); err != nil {
		return 0, err
	}
	return number, nil
}

// NotifyComplete implements file.CompletionNotifier.
func (n *Node) NotifyComplete(id file.TransferID, received uint64) error {
	ack := &transport.FileDataAck{FileNumber: id.FileNumber, BytesReceived: received}
	return n.send(id.FriendID, ack.Packet())
}

func (n *Node) send(friendID uint32, p *transport.Packet) error {
	addr, ok := n.PeerAddr(friendID)
	if !ok {
		return fmt.Errorf("%w: friend %d", ErrUnknownPeer, friendID)
	}
	return n.transport.Send(p, addr)
}

// submit hands ev to the engine, blocking while its queue is full.
func (n *Node) submit(ev file.Event) error {
	return n.engine.Submit(n.ctx, ev)
}

func (n *Node) handleFileRequest(packet *transport.Packet, addr net.Addr) error {
	friendID, err := n.resolvePeer(addr)
	if err != nil {
		return err
	}
	offer, err := transport.ParseFileOffer(packet.Data)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":    "handleFileRequest",
		"friend_id":   friendID,
		"file_number": offer.FileNumber,
		"file_name":   offer.FileName,
		"file_size":   offer.FileSize,
	}).Debug("Received file request packet")

	return n.submit(file.OfferEvent{
		FriendID:   friendID,
		FileNumber: offer.FileNumber,
		Kind:       file.Kind(offer.Kind),
		FileName:   offer.FileName,
		FileSize:   offer.FileSize,
		FileID:     offer.FileID,
	})
}

func (n *Node) handleFileControl(packet *transport.Packet, addr net.Addr) error {
	friendID, err := n.resolvePeer(addr)
	if err != nil {
		return err
	}
	ctl, err := transport.ParseFileControl(packet.Data)
	if err != nil {
		return err
	}

	// The peer's outgoing transfer is our incoming one.
	direction := file.TransferDirectionOutgoing
	if ctl.SenderOutgoing {
		direction = file.TransferDirectionIncoming
	}

	return n.submit(file.ControlEvent{
		ID:      file.TransferID{FriendID: friendID, FileNumber: ctl.FileNumber, Direction: direction},
		Control: file.Control(ctl.Control),
	})
}

func (n *Node) handleFileChunkRequest(packet *transport.Packet, addr net.Addr) error {
	friendID, err := n.resolvePeer(addr)
	if err != nil {
		return err
	}
	req, err := transport.ParseFileChunkRequest(packet.Data)
	if err != nil {
		return err
	}

	return n.submit(file.ChunkRequestEvent{
		FriendID:   friendID,
		FileNumber: req.FileNumber,
		Position:   req.Position,
		Length:     int(req.Length),
	})
}

func (n *Node) handleFileData(packet *transport.Packet, addr net.Addr) error {
	friendID, err := n.resolvePeer(addr)
	if err != nil {
		return err
	}
	data, err := transport.ParseFileData(packet.Data)
	if err != nil {
		return err
	}

	return n.submit(file.NewChunkEvent(friendID, data.FileNumber, data.Position, data.Chunk))
}

func (n *Node) handleFileDataAck(packet *transport.Packet, addr net.Addr) error {
	friendID, err := n.resolvePeer(addr)
	if err != nil {
		return err
	}
	ack, err := transport.ParseFileDataAck(packet.Data)
	if err != nil {
		return err
	}

	return n.submit(file.DoneEvent{
		FriendID:   friendID,
		FileNumber: ack.FileNumber,
		Received:   ack.BytesReceived,
	})
}
