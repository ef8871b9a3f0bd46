package worker

import (
	"github.com/pkg/errors"

	"github.com/lukjok/faultsim/campaign"
)

// FaultModel is the capability set of a fault model variant: inject a
// claimed fault into the running target, and restore whatever injection
// state is left behind. Restore with a nil fault only clears residual
// session state.
type FaultModel interface {
	Name() string
	Inject(w *Worker, f *campaign.Fault) error
	Restore(w *Worker, f *campaign.Fault) error
}

// ModelOptions carry the run-level knobs of the register fault models.
type ModelOptions struct {
	// HardPSRFault overwrites the whole status register instead of only
	// the condition flags.
	HardPSRFault bool
	// RegFaultValue selects the injected register value: "reset" (all
	// zero), "set" (all one) or "one" (the literal value 1).
	RegFaultValue string
}

// NewFaultModel builds the variant selected by the campaign's FaultModel
// field. The variant is fixed for the whole run.
func NewFaultModel(model campaign.FaultModel, opts ModelOptions) (FaultModel, error) {
	switch model {
	case campaign.ModelInstructionSkip:
		return &InstructionSkip{}, nil
	case campaign.ModelCorruptRegDef:
		value, err := parseRegFaultValue(opts.RegFaultValue)
		if err != nil {
			return nil, err
		}
		return &CorruptRegDef{HardPSRFault: opts.HardPSRFault, FaultValue: value}, nil
	}
	return nil, errors.Errorf("unsupported fault injection driver requested: '%s'", model)
}

func parseRegFaultValue(spec string) (uint64, error) {
	switch spec {
	case "", "reset":
		return 0x00000000, nil
	case "set":
		return 0xFFFFFFFF, nil
	case "one":
		return 1, nil
	}
	return 0, errors.Errorf("register fault value is expected to be one of 'reset', 'one' or 'set', got '%s'", spec)
}
