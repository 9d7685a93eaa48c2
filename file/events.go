package file

// Transport is the network layer the engine calls out to. File numbers and
// friend IDs come from the transport; the engine never invents them.
type Transport interface {
	// SendControl sends a pause, resume or cancel signal for id to the peer.
	SendControl(id TransferID, control Control) error

	// DeliverChunk sends bytes at position for an outgoing transfer.
	// A zero-length chunk tells the receiver the transfer is finished.
	DeliverChunk(id TransferID, position uint64, data []byte) error

	// RequestChunk asks the sender of an incoming transfer for length bytes at position.
	RequestChunk(id TransferID, position uint64, length int) error

	// InitiateSend offers a file to a friend and returns the allocated file number.
	InitiateSend(friendID uint32, kind Kind, fileName string, fileSize uint64, fileID [FileIDLength]byte) (uint32, error)
}

// CompletionNotifier is implemented by transports that acknowledge finished
// incoming transfers to the sender.
type CompletionNotifier interface {
	NotifyComplete(id TransferID, received uint64) error
}

// EventType identifies an inbound event variant in the dispatch table.
type EventType uint8

const (
	EventOffer EventType = iota + 1
	EventControl
	EventChunkRequest
	EventChunk
	EventDone
	eventTask
)

func (t EventType) String() string {
	switch t {
	case EventOffer:
		return "offer"
	case EventControl:
		return "control"
	case EventChunkRequest:
		return "chunk_request"
	case EventChunk:
		return "chunk"
	case EventDone:
		return "done"
	case eventTask:
		return "task"
	default:
		return "unknown"
	}
}

// Event is an inbound event from the transport.
type Event interface {
	Type() EventType
}

// OfferEvent proposes a new incoming transfer.
type OfferEvent struct {
	FriendID   uint32
	FileNumber uint32
	Kind       Kind
	FileName   string
	FileSize   uint64
	FileID     [FileIDLength]byte
}

// Type implements Event.
func (OfferEvent) Type() EventType { return EventOffer }

// TransferID returns the incoming transfer this offer creates.
func (e OfferEvent) TransferID() TransferID {
	return TransferID{FriendID: e.FriendID, FileNumber: e.FileNumber, Direction: TransferDirectionIncoming}
}

// ControlEvent carries a control signal from the peer. ID is expressed from
// the local point of view.
type ControlEvent struct {
	ID      TransferID
	Control Control
}

// Type implements Event.
func (ControlEvent) Type() EventType { return EventControl }

// ChunkRequestEvent asks an outgoing transfer for data.
type ChunkRequestEvent struct {
	FriendID   uint32
	FileNumber uint32
	Position   uint64
	Length     int
}

// Type implements Event.
func (ChunkRequestEvent) Type() EventType { return EventChunkRequest }

// TransferID returns the outgoing transfer the request targets.
func (e ChunkRequestEvent) TransferID() TransferID {
	return TransferID{FriendID: e.FriendID, FileNumber: e.FileNumber, Direction: TransferDirectionOutgoing}
}

// ChunkEvent delivers data to an incoming transfer. A nil Data on a non-final
// chunk is a malformed delivery and is ignored. Final chunks have no data.
type ChunkEvent struct {
	FriendID   uint32
	FileNumber uint32
	Position   uint64
	Data       []byte
	Final      bool
}

// Type implements Event.
func (ChunkEvent) Type() EventType { return EventChunk }

// TransferID returns the incoming transfer the chunk belongs to.
func (e ChunkEvent) TransferID() TransferID {
	return TransferID{FriendID: e.FriendID, FileNumber: e.FileNumber, Direction: TransferDirectionIncoming}
}

// NewChunkEvent builds a chunk event, marking zero-length payloads final.
func NewChunkEvent(friendID, fileNumber uint32, position uint64, data []byte) ChunkEvent {
	if data == nil {
		data = []byte{}
	}
	return ChunkEvent{
		FriendID:   friendID,
		FileNumber: fileNumber,
		Position:   position,
		Data:       data,
		Final:      len(data) == 0,
	}
}

// DoneEvent reports that the receiver acknowledged an outgoing transfer as complete.
type DoneEvent struct {
	FriendID   uint32
	FileNumber uint32
	Received   uint64
}

// Type implements Event.
func (DoneEvent) Type() EventType { return EventDone }

// TransferID returns the outgoing transfer that finished.
func (e DoneEvent) TransferID() TransferID {
	return TransferID{FriendID: e.FriendID, FileNumber: e.FileNumber, Direction: TransferDirectionOutgoing}
}

// taskEvent runs fn on the dispatch goroutine.
type taskEvent struct {
	fn   func(*Engine)
	done chan struct{}
}

func (taskEvent) Type() EventType { return eventTask }
