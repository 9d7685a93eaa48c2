package file

import (
	"fmt"
	"sort"
)

// TransferRegistry maps transfer IDs to live transfers. It is owned by the
// Engine and only touched from the dispatch goroutine, so it holds no lock.
type TransferRegistry struct {
	transfers map[TransferID]*Transfer
}

// NewTransferRegistry creates an empty registry.
func NewTransferRegistry() *TransferRegistry {
	return &TransferRegistry{transfers: make(map[TransferID]*Transfer)}
}

// Register adds t under id. It fails with ErrDuplicateID if id is live.
func (r *TransferRegistry) Register(id TransferID, t *Transfer) error {
	if _, exists := r.transfers[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	r.transfers[id] = t
	return nil
}

// Lookup returns the transfer for id and whether it was found.
func (r *TransferRegistry) Lookup(id TransferID) (*Transfer, bool) {
	t, ok := r.transfers[id]
	return t, ok
}

// Get returns the transfer for id or ErrUnknownTransfer.
func (r *TransferRegistry) Get(id TransferID) (*Transfer, error) {
	t, ok := r.transfers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransfer, id)
	}
	return t, nil
}

// Remove deletes id. Removing an absent id is a no-op.
func (r *TransferRegistry) Remove(id TransferID) {
	delete(r.transfers, id)
}

// Len returns the number of live transfers.
func (r *TransferRegistry) Len() int {
	return len(r.transfers)
}

// All returns the live transfers ordered by friend, direction and file number.
func (r *TransferRegistry) All() []*Transfer {
	out := make([]*Transfer, 0, len(r.transfers))
	for _, t := range r.transfers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].ID, out[j].ID
		if a.FriendID != b.FriendID {
			return a.FriendID < b.FriendID
		}
		if a.Direction != b.Direction {
			return a.Direction < b.Direction
		}
		return a.FileNumber < b.FileNumber
	})
	return out
}
