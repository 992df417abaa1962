// Package fault implements the single hardened path every other package
// in this module funnels suspected tampering or fault-injection through.
// It charges one PIN attempt and halts; on recurrence it wipes the
// device outright.
package fault

import (
	"fmt"
	"sync"

	"github.com/coldvault/securestore/internal/norcow"
	"github.com/coldvault/securestore/internal/pinlog"
	"github.com/coldvault/securestore/log"
)

// Halted is the panic value produced by Handler.Trip. It never signals a
// recoverable condition: real firmware would halt the CPU here; a Go
// process embedding this library recovers exactly this type at the
// storage package's public API boundary and surfaces it as
// ErrDeviceHalted.
type Halted struct {
	Reason string
}

func (h Halted) Error() string {
	return fmt.Sprintf("device halted: %s", h.Reason)
}

// Handler is the process-wide fault sink. Exactly one should exist per
// *storage.Store.
type Handler struct {
	mu         sync.Mutex
	inProgress bool

	n       norcow.Norcow
	pinKey  norcow.Key
	wipe    func() error
	logger  log.Logger
}

// New constructs a Handler bound to n's PIN log at pinKey. wipe is called
// to erase the device when a fault recurs while handling is already in
// progress, or when the PIN counter fails to advance as expected.
func New(n norcow.Norcow, pinKey norcow.Key, wipe func() error) *Handler {
	return &Handler{n: n, pinKey: pinKey, wipe: wipe, logger: log.New()}
}

// Trip is invoked by every suspected-inconsistency call site across this
// module. It never returns: it always ends in a panic(Halted{...}).
//
// Behavior mirrors the original handle_fault(): a guard flag detects
// reentrancy (a fault raised while already handling one, which is itself
// strong evidence of an active fault-injection attack) and wipes
// immediately; otherwise it charges one PIN attempt by incrementing the
// failure counter, double-checks the increment landed, wipes if it did
// not, and halts either way.
func (h *Handler) Trip(reason string) {
	h.mu.Lock()
	if h.inProgress {
		h.mu.Unlock()
		h.logger.Level(log.FaultLevel).Field("reason", reason).Message("fault detected while already handling a fault; wiping")
		if err := h.wipe(); err != nil {
			h.logger.Level(log.FaultLevel).Error(err).Message("wipe during nested fault handling failed")
		}
		panic(Halted{Reason: "fault while handling fault: " + reason})
	}
	h.inProgress = true
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.inProgress = false
		h.mu.Unlock()
	}()

	h.logger.Level(log.FaultLevel).Field("reason", reason).Message("fault detected; charging a PIN attempt and halting")

	before := pinlog.GetFails(h.n, h.pinKey, h.Trip)
	pinlog.Increase(h.n, h.pinKey, h.Trip)
	after := pinlog.GetFails(h.n, h.pinKey, h.Trip)

	if after != before+1 {
		h.logger.Level(log.FaultLevel).Message("PIN counter failed to advance while handling fault; wiping")
		if err := h.wipe(); err != nil {
			h.logger.Level(log.FaultLevel).Error(err).Message("wipe during fault handling failed")
		}
	}

	panic(Halted{Reason: reason})
}

// Halt is the direct equivalent of the original firmware's
// ensure(secfalse, reason) call sites that do not go through
// handle_fault() because the caller already performed its own wipe and
// attempt-counting (e.g. storage_unlock's max-tries branch, which wipes
// and halts without charging a further PIN attempt). It never returns.
func Halt(reason string) {
	panic(Halted{Reason: reason})
}
