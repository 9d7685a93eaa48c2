package file

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Control represents a file transfer control signal. The values match TOX_FILE_CONTROL.
type Control uint8

const (
	// ControlResume accepts an offer or restarts a paused transfer.
	ControlResume Control = iota
	// ControlPause stops a transfer until either side resumes it.
	ControlPause
	// ControlCancel ends a transfer and releases its file.
	ControlCancel
)

func (c Control) String() string {
	switch c {
	case ControlResume:
		return "resume"
	case ControlPause:
		return "pause"
	case ControlCancel:
		return "cancel"
	default:
		return fmt.Sprintf("control(%d)", uint8(c))
	}
}

// ControlChannel applies control signals to transfers. Emitted and received
// signals go through the same transition so both peers agree on the state.
//
//	Pending --resume--> Active        (offer accepted)
//	Active  --pause---> Paused
//	Paused  --resume--> Active
//	{Pending,Active,Paused} --cancel--> Cancelled
//	Active  --final---> Completed
type ControlChannel struct {
	transport Transport
}

// NewControlChannel creates a control channel that emits through transport.
func NewControlChannel(transport Transport) *ControlChannel {
	return &ControlChannel{transport: transport}
}

// Receive applies a control signal sent by the peer. Signals that do not apply
// in the current state are logged and ignored.
func (c *ControlChannel) Receive(t *Transfer, control Control) error {
	logrus.WithFields(t.logFields()).WithFields(logrus.Fields{
		"function": "Receive",
		"control":  control,
		"state":    t.State,
	}).Info("Received file control")

	if err := c.apply(t, control); err != nil {
		logrus.WithFields(t.logFields()).WithFields(logrus.Fields{
			"function": "Receive",
			"control":  control,
			"state":    t.State,
			"error":    err.Error(),
		}).Warn("Ignoring file control")
	}
	return nil
}

// Emit applies a local control signal and sends it to the peer. The local
// transition happens even if sending fails so a cancel always releases.
func (c *ControlChannel) Emit(t *Transfer, control Control) error {
	if err := c.apply(t, control); err != nil {
		return err
	}
	return c.send(t.ID, control)
}

// Reject cancels a transfer that was never accepted and tells the peer.
func (c *ControlChannel) Reject(t *Transfer) error {
	c.cancel(t)
	return c.send(t.ID, ControlCancel)
}

func (c *ControlChannel) send(id TransferID, control Control) error {
	if c.transport == nil {
		return nil
	}
	if err := c.transport.SendControl(id, control); err != nil {
		logrus.WithFields(id.fields()).WithFields(logrus.Fields{
			"function": "send",
			"control":  control,
			"error":    err.Error(),
		}).Error("Failed to send file control")
		return fmt.Errorf("send %s control: %w", control, err)
	}
	return nil
}

func (c *ControlChannel) apply(t *Transfer, control Control) error {
	switch control {
	case ControlResume:
		return c.resume(t)
	case ControlPause:
		return c.pause(t)
	case ControlCancel:
		c.cancel(t)
		return nil
	default:
		return fmt.Errorf("%w: unsupported control %s", ErrInvalidTransition, control)
	}
}

func (c *ControlChannel) resume(t *Transfer) error {
	switch t.State {
	case TransferStatePending:
		c.accept(t)
		return nil
	case TransferStatePaused:
		t.State = TransferStateActive
		return nil
	case TransferStateActive:
		// Already flowing; a repeated resume is harmless.
		return nil
	default:
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, t.State)
	}
}

func (c *ControlChannel) pause(t *Transfer) error {
	switch t.State {
	case TransferStateActive:
		t.State = TransferStatePaused
		return nil
	case TransferStatePaused:
		return nil
	default:
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, t.State)
	}
}

// accept moves a pending transfer to active.
func (c *ControlChannel) accept(t *Transfer) {
	if t.State != TransferStatePending {
		return
	}
	t.State = TransferStateActive
	t.StartTime = t.timeProvider.Now()
	t.lastChunkTime = t.StartTime
}

// cancel releases the resource and moves to Cancelled. Cancelling a finished
// transfer is a no-op.
func (c *ControlChannel) cancel(t *Transfer) {
	if t.State.IsTerminal() {
		return
	}
	_ = t.release()
	t.State = TransferStateCancelled
}

// complete releases the resource and moves an active transfer to Completed.
func (c *ControlChannel) complete(t *Transfer) error {
	if t.State != TransferStateActive {
		return fmt.Errorf("%w: complete from %s", ErrInvalidTransition, t.State)
	}
	err := t.release()
	t.State = TransferStateCompleted

	logrus.WithFields(t.logFields()).WithFields(logrus.Fields{
		"function":    "complete",
		"file_name":   t.FileName,
		"transferred": t.Transferred,
	}).Info("File transfer completed")

	if err != nil {
		return fmt.Errorf("%w: close: %v", ErrResourceIO, err)
	}
	return nil
}
