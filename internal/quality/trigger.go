package quality

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTrigger indicates a trigger kind outside the supported set.
var ErrInvalidTrigger = errors.New("quality: invalid trigger kind")

// TriggerKind names the signal mutation that caused a recompute.
type TriggerKind string

const (
	TriggerReaction TriggerKind = "REACTION"
	TriggerFlag     TriggerKind = "FLAG"
	TriggerEdit     TriggerKind = "EDIT"
	TriggerAccept   TriggerKind = "ACCEPT"
	// TriggerSweep marks recomputes issued by the reconciliation sweep rather than a user mutation.
	TriggerSweep TriggerKind = "SWEEP"
)

// ParseTriggerKind validates raw input against the supported trigger kinds.
func ParseTriggerKind(value string) (TriggerKind, error) {
	kind := TriggerKind(strings.ToUpper(strings.TrimSpace(value)))
	if err := kind.validate(); err != nil {
		return "", err
	}
	return kind, nil
}

func (k TriggerKind) validate() error {
	switch k {
	case TriggerReaction, TriggerFlag, TriggerEdit, TriggerAccept, TriggerSweep:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTrigger, string(k))
	}
}

// String returns the wire form of the trigger.
func (k TriggerKind) String() string {
	return string(k)
}
