package worker

import (
	"github.com/pkg/errors"

	"github.com/lukjok/faultsim/campaign"
	"github.com/lukjok/faultsim/target"
)

// InstructionSkip replaces the instruction at the injection point with a
// recorded replacement encoding (typically a NOP).
type InstructionSkip struct{}

func (*InstructionSkip) Name() string {
	return "InstructionSkip"
}

// Inject runs to the injection point, asserts the live instruction
// matches the campaign's recorded encoding and overwrites it with the
// faulted one. An encoding mismatch means the campaign no longer matches
// the target image and is fatal.
func (s *InstructionSkip) Inject(w *Worker, f *campaign.Fault) error {
	if err := w.runToInjectionPoint(f); err != nil {
		return err
	}

	pc, err := w.ctrl.ReadPC()
	if err != nil {
		return errors.Wrapf(err, "worker %d: failed to read pc", w.index)
	}
	var live uint32
	if f.Width == 16 {
		live, err = target.ReadMemHalf(w.ctrl, pc)
	} else {
		live, err = target.ReadMemWord(w.ctrl, pc, true)
	}
	if err != nil {
		return errors.Wrapf(err, "worker %d: failed to read the live instruction", w.index)
	}
	if live != f.Instruction {
		return errors.Wrapf(ErrConsistency,
			"instruction mismatch for fault id %d: Instruction=0x%08X expected, but got 0x%08X",
			f.Id, f.Instruction, live)
	}

	if f.Width == 16 {
		err = target.WriteMemHalf(w.ctrl, f.Address, f.FaultedInstr)
	} else {
		err = target.WriteMemWord(w.ctrl, f.Address, f.FaultedInstr, true)
	}
	if err != nil {
		return errors.Wrapf(err, "worker %d: failed to write the faulted instruction", w.index)
	}

	// Make sure the target re-fetches the modified memory.
	return target.SimulationBarrier(w.ctrl)
}

// Restore writes the original instruction back when a fault is given (the
// injection point was re-entered, e.g. a loop revisiting the faulted
// instruction) and clears the injection breakpoint.
func (s *InstructionSkip) Restore(w *Worker, f *campaign.Fault) error {
	if f != nil {
		pc, err := w.ctrl.ReadPC()
		if err != nil {
			return errors.Wrapf(err, "worker %d: failed to read pc", w.index)
		}
		if pc != f.Breakpoint.Address {
			return errors.Wrapf(ErrConsistency,
				"unexpected pc for restoring the injection point for fault id %d: pc=0x%08X expected, but got 0x%08X",
				f.Id, f.Breakpoint.Address, pc)
		}

		if f.Width == 16 {
			err = target.WriteMemHalf(w.ctrl, f.Address, f.Instruction)
		} else {
			err = target.WriteMemWord(w.ctrl, f.Address, f.Instruction, true)
		}
		if err != nil {
			return errors.Wrapf(err, "worker %d: failed to restore the original instruction", w.index)
		}
		if err := target.SimulationBarrier(w.ctrl); err != nil {
			return err
		}
	}

	return w.clearInjectionBreakpoint()
}
