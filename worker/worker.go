// Package worker implements the fault injection state machine. One worker
// owns one target control session and loops against the shared dispatcher
// queue: reset the target, run to the injection point, inject, run to a
// decision, classify, restore, report.
package worker

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/lukjok/faultsim/campaign"
	"github.com/lukjok/faultsim/dispatch"
	"github.com/lukjok/faultsim/target"
	"github.com/lukjok/faultsim/util"
)

const (
	// vectorTableReg is where the vector table base pointer is read from.
	vectorTableReg = 0xE000ED08
	// resetPSR pins the status register after reset. Its architectural
	// reset value is UNKNOWN, so the protocol fixes it for reproducible
	// simulations.
	resetPSR = 0x01000000
)

// ErrConsistency marks a disagreement between the campaign file and the
// live target state. It is fatal for the whole session: the campaign no
// longer matches the target binary or trace, and partial results would be
// meaningless.
var ErrConsistency = errors.New("campaign and target state have diverged")

// Options tune the decision loop of a worker.
type Options struct {
	// Watchdog bounds one run attempt while waiting for a classification.
	Watchdog time.Duration
	// SpinBudget is the number of extra run attempts granted before the
	// fallback classification takes over.
	SpinBudget int
}

// Worker drives one target control session through the per-fault
// injection protocol.
type Worker struct {
	index  int
	ctrl   target.Controller
	disp   *dispatch.Dispatcher
	model  FaultModel
	logger *util.Log
	opts   Options

	ibp     target.Breakpoint
	ibpAddr uint64
	ibpSet  bool
}

// New builds a worker bound to its own control session. The index is
// assigned by the caller and only used for logging and error reporting.
func New(index int, ctrl target.Controller, disp *dispatch.Dispatcher, model FaultModel, logger *util.Log, opts Options) *Worker {
	if opts.Watchdog <= 0 {
		opts.Watchdog = 5 * time.Second
	}
	if opts.SpinBudget <= 0 {
		opts.SpinBudget = 3
	}
	return &Worker{
		index:  index,
		ctrl:   ctrl,
		disp:   disp,
		model:  model,
		logger: logger,
		opts:   opts,
	}
}

// Run drains the dispatcher queue, one fault at a time, until it reports
// empty. A returned error is fatal for this session only; other workers
// keep draining the queue.
func (w *Worker) Run() error {
	camp := w.disp.Campaign()

	// Breakpoints persist over target resets, so the oracle breakpoints
	// are set once for the whole session.
	for _, cl := range camp.Oracle {
		if _, err := w.ctrl.AddBreakpoint(cl.Pc); err != nil {
			return errors.Wrapf(err, "worker %d: failed to set oracle breakpoint at 0x%x", w.index, cl.Pc)
		}
	}

	var processed []uint64
	for {
		f, ok := w.disp.ClaimNext()
		if !ok {
			break
		}
		processed = append(processed, f.Id)

		if err := w.processFault(f); err != nil {
			return err
		}

		w.disp.ReportProgress()
		w.logInfo(fmt.Sprintf("Fault #%d => %s", f.Id, f.Effect))
	}
	if len(processed) > 0 {
		w.logInfo(fmt.Sprintf("This session can be replayed by adding '-f %s' to your faultsim invocation.",
			util.FormatFaultIds(processed)))
	}
	return nil
}

func (w *Worker) processFault(f *campaign.Fault) error {
	if err := w.resetTarget(); err != nil {
		return err
	}
	if err := w.model.Inject(w, f); err != nil {
		return err
	}

	met, pc, err := w.runToDecision(f)
	if err != nil {
		return err
	}
	if !met {
		w.classifyFallback(f, pc)
	}

	// Clear any residual injection state, whatever branch was taken.
	return w.model.Restore(w, nil)
}

// resetTarget brings the target back to a known state: reset, point the
// reset vector at the image entry (low bit set, per the target's function
// pointer convention), reload the image and pin the status register.
func (w *Worker) resetTarget() error {
	camp := w.disp.Campaign()

	if err := w.ctrl.Stop(); err != nil {
		return errors.Wrapf(err, "worker %d: failed to stop the target", w.index)
	}
	if err := w.ctrl.Reset(); err != nil {
		return errors.Wrapf(err, "worker %d: failed to reset the target", w.index)
	}

	vectorTable, err := target.ReadMemWord(w.ctrl, vectorTableReg, false)
	if err != nil {
		return errors.Wrapf(err, "worker %d: failed to read the vector table pointer", w.index)
	}
	entry := uint32(camp.ProgramEntryAddress) | 0x01
	if err := target.WriteMemWord(w.ctrl, uint64(vectorTable)+4, entry, false); err != nil {
		return errors.Wrapf(err, "worker %d: failed to patch the reset vector", w.index)
	}
	if err := w.ctrl.LoadImage(); err != nil {
		return errors.Wrapf(err, "worker %d: failed to reload the image", w.index)
	}
	if err := w.ctrl.WriteRegister("XPSR", resetPSR); err != nil {
		return errors.Wrapf(err, "worker %d: failed to pin the status register", w.index)
	}
	return nil
}

// runToInjectionPoint runs the target until the fault's breakpoint has
// been hit 1+Count times, then asserts the program counter sits exactly
// there. The reference trace guarantees the breakpoint is reached; if it
// is not, the campaign file is wrong.
func (w *Worker) runToInjectionPoint(f *campaign.Fault) error {
	bpAddr := f.Breakpoint.Address
	if err := w.setInjectionBreakpoint(bpAddr); err != nil {
		return err
	}

	cnt := 1 + int(f.Breakpoint.Count)
	for cnt > 0 {
		if _, err := w.ctrl.Run(0); err != nil {
			return errors.Wrapf(err, "worker %d: run to injection point failed", w.index)
		}
		pc, err := w.ctrl.ReadPC()
		if err != nil {
			return errors.Wrapf(err, "worker %d: failed to read pc", w.index)
		}
		if pc != bpAddr {
			// The target idled somewhere else; keep the simulation going.
			continue
		}
		cnt--
	}

	pc, err := w.ctrl.ReadPC()
	if err != nil {
		return errors.Wrapf(err, "worker %d: failed to read pc", w.index)
	}
	if pc != bpAddr {
		return errors.Wrapf(ErrConsistency,
			"unexpected injection point for fault id %d: pc=0x%08X expected, but got 0x%08X",
			f.Id, bpAddr, pc)
	}
	return nil
}

// runToDecision runs the target, bounded by the watchdog and spin budget,
// until the program end is reached or an oracle breakpoint decides the
// effect. It returns whether a decision was met and the last observed pc.
func (w *Worker) runToDecision(f *campaign.Fault) (bool, uint64, error) {
	camp := w.disp.Campaign()

	met := false
	var pc uint64
	spins := 0
	for !met && spins < w.opts.SpinBudget {
		reason, err := w.ctrl.Run(w.opts.Watchdog)
		if err != nil {
			return false, 0, errors.Wrapf(err, "worker %d: run to decision failed", w.index)
		}
		if pc, err = w.ctrl.ReadPC(); err != nil {
			return false, 0, errors.Wrapf(err, "worker %d: failed to read pc", w.index)
		}

		if reason == target.StopTimeout {
			// The target looks stuck in some loop; let the fallback
			// heuristic judge from the current pc.
			break
		}

		// Program end is not a declared oracle term, but it is an easy
		// guess and an early exit.
		if pc == camp.ProgramEndAddress {
			f.SetEffect(campaign.EffectNoEffect)
			met = true
			break
		}

		// Back at the injection point: the faulted instruction sits in a
		// loop. Restore the original state and keep running. This does
		// not consume spin budget.
		if w.isInjectionBreakpoint(pc) {
			if err := w.model.Restore(w, f); err != nil {
				return false, 0, err
			}
			continue
		}

		if cl := camp.Oracle.At(pc); cl != nil {
			effect, err := cl.Evaluate(w.ctrl)
			if err != nil {
				return false, 0, errors.Wrapf(err, "worker %d: oracle evaluation at pc=0x%x failed", w.index, pc)
			}
			f.SetEffect(effect)
			met = true
			break
		}

		// Possibly a computation taking longer than usual; grant another
		// attempt.
		spins++
	}
	return met, pc, nil
}

// classifyFallback makes an educated guess when the decision loop ended
// without an oracle statement: a pc still inside a declared injection
// window is plausibly running, anything else counts as a crash.
func (w *Worker) classifyFallback(f *campaign.Fault, pc uint64) {
	for i := range w.disp.Campaign().InjectionRanges {
		if w.disp.Campaign().InjectionRanges[i].Contains(pc) {
			f.SetEffect(campaign.EffectUndecided)
			return
		}
	}
	f.SetEffect(campaign.EffectCrash)
}

func (w *Worker) setInjectionBreakpoint(addr uint64) error {
	if w.ibpSet {
		return errors.Errorf("worker %d: previous injection breakpoint found", w.index)
	}
	bp, err := w.ctrl.AddBreakpoint(addr)
	if err != nil {
		return errors.Wrapf(err, "worker %d: failed to set injection breakpoint at 0x%x", w.index, addr)
	}
	w.ibp, w.ibpAddr, w.ibpSet = bp, addr, true
	return nil
}

func (w *Worker) clearInjectionBreakpoint() error {
	if !w.ibpSet {
		return nil
	}
	if err := w.ctrl.RemoveBreakpoint(w.ibp); err != nil {
		return errors.Wrapf(err, "worker %d: failed to clear injection breakpoint", w.index)
	}
	w.ibpSet = false
	return nil
}

func (w *Worker) isInjectionBreakpoint(pc uint64) bool {
	return w.ibpSet && w.ibpAddr == pc
}

func (w *Worker) logInfo(msg string) {
	if w.logger != nil {
		w.logger.LogInfo(msg)
	}
}
