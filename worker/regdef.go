package worker

import (
	"github.com/pkg/errors"

	"github.com/lukjok/faultsim/campaign"
)

// psrRegister is the register written when a fault names the status
// register alias "PSR".
const psrRegister = "XPSR"

// CorruptRegDef overwrites the output register of the instruction at the
// injection point with a configured fault value.
type CorruptRegDef struct {
	HardPSRFault bool
	FaultValue   uint64
}

func (*CorruptRegDef) Name() string {
	return "CorruptRegDef"
}

// Inject runs to the injection point and corrupts the named register.
// The corrupted value propagates through program execution, so the
// injection breakpoint is dropped right away and nothing needs restoring
// later.
func (c *CorruptRegDef) Inject(w *Worker, f *campaign.Fault) error {
	if err := w.runToInjectionPoint(f); err != nil {
		return err
	}
	if err := w.clearInjectionBreakpoint(); err != nil {
		return err
	}

	if f.FaultedReg == "PSR" {
		if c.HardPSRFault {
			if err := w.ctrl.WriteRegister(psrRegister, c.FaultValue); err != nil {
				return errors.Wrapf(err, "worker %d: failed to fault %s", w.index, psrRegister)
			}
			return nil
		}
		// Soft fault: only touch the condition flag bits, keep the rest.
		reg, err := w.ctrl.ReadRegister(psrRegister)
		if err != nil {
			return errors.Wrapf(err, "worker %d: failed to read %s", w.index, psrRegister)
		}
		reg = (reg & 0x0FF0FFFF) | (c.FaultValue & 0xF00F0000)
		if err := w.ctrl.WriteRegister(psrRegister, reg); err != nil {
			return errors.Wrapf(err, "worker %d: failed to fault %s flags", w.index, psrRegister)
		}
		return nil
	}

	if err := w.ctrl.WriteRegister(f.FaultedReg, c.FaultValue); err != nil {
		return errors.Wrapf(err, "worker %d: failed to fault register %s", w.index, f.FaultedReg)
	}
	return nil
}

// Restore is a no-op: there is no opcode to write back and the injection
// breakpoint was already removed during injection.
func (c *CorruptRegDef) Restore(w *Worker, f *campaign.Fault) error {
	return nil
}
