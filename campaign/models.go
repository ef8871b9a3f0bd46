package campaign

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Effect is the classification outcome of a single fault.
type Effect string

const (
	EffectSuccess   Effect = "success"
	EffectCrash     Effect = "crash"
	EffectNoEffect  Effect = "noeffect"
	EffectCaught    Effect = "caught"
	EffectUndecided Effect = "undecided"
	// EffectNotRun is reported for faults that have no effect recorded yet.
	// It is a summary bucket, not a value a worker may set.
	EffectNotRun Effect = "notrun"
)

// Effects lists the outcomes a fault simulation may assign.
var Effects = []Effect{EffectSuccess, EffectCrash, EffectNoEffect, EffectCaught, EffectUndecided}

// FaultModel selects the fault model used by a whole campaign.
type FaultModel string

const (
	ModelInstructionSkip FaultModel = "InstructionSkip"
	ModelCorruptRegDef   FaultModel = "CorruptRegDef"
)

// BreakpointInfo describes where a fault is injected: the breakpoint
// address and how many prior hits of that address to ignore, so a precise
// loop iteration can be faulted.
type BreakpointInfo struct {
	Address uint64 `yaml:"Address"`
	Count   uint   `yaml:"Count"`
}

func (b *BreakpointInfo) UnmarshalYAML(node *yaml.Node) error {
	m, err := fieldMap(node, "BreakpointInfo")
	if err != nil {
		return err
	}
	if err := requireFields(m, "BreakpointInfo", "Address", "Count"); err != nil {
		return err
	}
	if b.Address, err = decodeUint(m, "BreakpointInfo", "Address"); err != nil {
		return err
	}
	cnt, err := decodeUint(m, "BreakpointInfo", "Count")
	if err != nil {
		return err
	}
	b.Count = uint(cnt)
	return nil
}

func (b BreakpointInfo) String() string {
	return fmt.Sprintf("{ Address: 0x%x, Count: %d}", b.Address, b.Count)
}

// InjectionRangeInfo describes the temporal and address window of a
// function under fault injection. It doubles as the fallback plausibility
// check when no oracle decision was reached.
type InjectionRangeInfo struct {
	Name         string `yaml:"Name"`
	StartTime    uint64 `yaml:"StartTime"`
	EndTime      uint64 `yaml:"EndTime"`
	StartAddress uint64 `yaml:"StartAddress"`
	EndAddress   uint64 `yaml:"EndAddress"`
}

func (r *InjectionRangeInfo) UnmarshalYAML(node *yaml.Node) error {
	m, err := fieldMap(node, "InjectionRangeInfo")
	if err != nil {
		return err
	}
	if err := requireFields(m, "InjectionRangeInfo", "Name", "StartTime", "EndTime", "StartAddress", "EndAddress"); err != nil {
		return err
	}
	if err := m["Name"].Decode(&r.Name); err != nil {
		return errors.Wrap(err, "InjectionRangeInfo field 'Name'")
	}
	if r.StartTime, err = decodeUint(m, "InjectionRangeInfo", "StartTime"); err != nil {
		return err
	}
	if r.EndTime, err = decodeUint(m, "InjectionRangeInfo", "EndTime"); err != nil {
		return err
	}
	if r.StartAddress, err = decodeUint(m, "InjectionRangeInfo", "StartAddress"); err != nil {
		return err
	}
	if r.EndAddress, err = decodeUint(m, "InjectionRangeInfo", "EndAddress"); err != nil {
		return err
	}
	if r.StartAddress > r.EndAddress {
		return errors.Errorf("InjectionRangeInfo '%s': StartAddress 0x%x is above EndAddress 0x%x", r.Name, r.StartAddress, r.EndAddress)
	}
	return nil
}

// Contains reports whether pc falls inside this range's address window.
// Only the top level window of the function is known, not its full call
// tree, so this is a plausibility heuristic rather than a guarantee.
func (r *InjectionRangeInfo) Contains(pc uint64) bool {
	return r.StartAddress <= pc && pc <= r.EndAddress
}

func (r InjectionRangeInfo) String() string {
	return fmt.Sprintf("{ Name: %q, StartTime: %d, EndTime: %d, StartAddress: 0x%x, EndAddress: 0x%x}",
		r.Name, r.StartTime, r.EndTime, r.StartAddress, r.EndAddress)
}

// Fault is one perturbation of target execution. The variant payload in
// use is selected by Model, which every fault inherits from the campaign's
// FaultModel field.
type Fault struct {
	Id          uint64
	Time        uint64
	Address     uint64
	Width       int
	Breakpoint  BreakpointInfo
	Instruction uint32
	Disassembly string
	Effect      Effect

	// InstructionSkip payload.
	Executed     bool
	FaultedInstr uint32

	// CorruptRegDef payload.
	FaultedReg string

	Model FaultModel
}

// SetEffect records the classification outcome of this fault's run.
func (f *Fault) SetEffect(e Effect) error {
	if !validEffect(e) {
		return errors.Errorf("unsupported fault effect: %s", e)
	}
	f.Effect = e
	return nil
}

func validEffect(e Effect) bool {
	for _, known := range Effects {
		if e == known {
			return true
		}
	}
	return false
}

func decodeFault(model FaultModel, node *yaml.Node) (*Fault, error) {
	m, err := fieldMap(node, "Fault")
	if err != nil {
		return nil, err
	}
	if err := requireFields(m, "Fault", "Id", "Time", "Address", "Width", "Breakpoint", "Instruction", "Disassembly"); err != nil {
		return nil, err
	}
	switch model {
	case ModelInstructionSkip:
		if err := requireFields(m, "InstructionSkip", "Executed", "FaultedInstr"); err != nil {
			return nil, err
		}
	case ModelCorruptRegDef:
		if err := requireFields(m, "CorruptRegDef", "FaultedReg"); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Errorf("unsupported fault model '%s'", model)
	}

	f := &Fault{Model: model}
	if f.Id, err = decodeUint(m, "Fault", "Id"); err != nil {
		return nil, err
	}
	if f.Time, err = decodeUint(m, "Fault", "Time"); err != nil {
		return nil, err
	}
	if f.Address, err = decodeUint(m, "Fault", "Address"); err != nil {
		return nil, err
	}
	width, err := decodeUint(m, "Fault", "Width")
	if err != nil {
		return nil, err
	}
	f.Width = int(width)
	if err := m["Breakpoint"].Decode(&f.Breakpoint); err != nil {
		return nil, err
	}
	instr, err := decodeUint(m, "Fault", "Instruction")
	if err != nil {
		return nil, err
	}
	f.Instruction = uint32(instr)
	if err := m["Disassembly"].Decode(&f.Disassembly); err != nil {
		return nil, errors.Wrap(err, "Fault field 'Disassembly'")
	}

	switch model {
	case ModelInstructionSkip:
		if err := m["Executed"].Decode(&f.Executed); err != nil {
			return nil, errors.Wrap(err, "InstructionSkip field 'Executed'")
		}
		faulted, err := decodeUint(m, "InstructionSkip", "FaultedInstr")
		if err != nil {
			return nil, err
		}
		f.FaultedInstr = uint32(faulted)
	case ModelCorruptRegDef:
		if err := m["FaultedReg"].Decode(&f.FaultedReg); err != nil {
			return nil, errors.Wrap(err, "CorruptRegDef field 'FaultedReg'")
		}
		f.FaultedReg = strings.ToUpper(f.FaultedReg)
	}

	if effNode, ok := m["Effect"]; ok {
		var eff string
		if err := effNode.Decode(&eff); err != nil {
			return nil, errors.Wrap(err, "Fault field 'Effect'")
		}
		if !validEffect(Effect(eff)) {
			return nil, errors.Errorf("unsupported fault effect: %s", eff)
		}
		f.Effect = Effect(eff)
	}
	return f, nil
}

type skipFaultDoc struct {
	Id           uint64         `yaml:"Id"`
	Time         uint64         `yaml:"Time"`
	Address      uint64         `yaml:"Address"`
	Width        int            `yaml:"Width"`
	Breakpoint   BreakpointInfo `yaml:"Breakpoint"`
	Instruction  uint32         `yaml:"Instruction"`
	Executed     bool           `yaml:"Executed"`
	FaultedInstr uint32         `yaml:"FaultedInstr"`
	Disassembly  string         `yaml:"Disassembly"`
	Effect       string         `yaml:"Effect,omitempty"`
}

type regDefFaultDoc struct {
	Id          uint64         `yaml:"Id"`
	Time        uint64         `yaml:"Time"`
	Address     uint64         `yaml:"Address"`
	Width       int            `yaml:"Width"`
	Breakpoint  BreakpointInfo `yaml:"Breakpoint"`
	Instruction uint32         `yaml:"Instruction"`
	FaultedReg  string         `yaml:"FaultedReg"`
	Disassembly string         `yaml:"Disassembly"`
	Effect      string         `yaml:"Effect,omitempty"`
}

func (f *Fault) MarshalYAML() (interface{}, error) {
	switch f.Model {
	case ModelInstructionSkip:
		return skipFaultDoc{
			Id:           f.Id,
			Time:         f.Time,
			Address:      f.Address,
			Width:        f.Width,
			Breakpoint:   f.Breakpoint,
			Instruction:  f.Instruction,
			Executed:     f.Executed,
			FaultedInstr: f.FaultedInstr,
			Disassembly:  f.Disassembly,
			Effect:       string(f.Effect),
		}, nil
	case ModelCorruptRegDef:
		return regDefFaultDoc{
			Id:          f.Id,
			Time:        f.Time,
			Address:     f.Address,
			Width:       f.Width,
			Breakpoint:  f.Breakpoint,
			Instruction: f.Instruction,
			FaultedReg:  f.FaultedReg,
			Disassembly: f.Disassembly,
			Effect:      string(f.Effect),
		}, nil
	}
	return nil, errors.Errorf("unsupported fault model '%s'", f.Model)
}

func (f *Fault) String() string {
	s := fmt.Sprintf("Id: %d, Time: %d, Address: 0x%x, Instruction: 0x%x, Width: %d, Breakpoint: %s, Disassembly: %q",
		f.Id, f.Time, f.Address, f.Instruction, f.Width, f.Breakpoint, f.Disassembly)
	switch f.Model {
	case ModelInstructionSkip:
		s += fmt.Sprintf(", Executed: %t, FaultedInstr: 0x%x", f.Executed, f.FaultedInstr)
	case ModelCorruptRegDef:
		s += fmt.Sprintf(", FaultedReg: %q", f.FaultedReg)
	}
	if f.Effect != "" {
		s += fmt.Sprintf(", Effect: %q", f.Effect)
	}
	return "{ " + s + "}"
}

func fieldMap(node *yaml.Node, entity string) (map[string]*yaml.Node, error) {
	if node.Kind != yaml.MappingNode {
		return nil, errors.Errorf("%s: expected a mapping", entity)
	}
	m := make(map[string]*yaml.Node, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		m[node.Content[i].Value] = node.Content[i+1]
	}
	return m, nil
}

func requireFields(m map[string]*yaml.Node, entity string, fields ...string) error {
	for _, f := range fields {
		if _, ok := m[f]; !ok {
			return errors.Errorf("%s is missing field '%s'", entity, f)
		}
	}
	return nil
}

func decodeUint(m map[string]*yaml.Node, entity, field string) (uint64, error) {
	var v int64
	if err := m[field].Decode(&v); err != nil {
		return 0, errors.Wrapf(err, "%s field '%s'", entity, field)
	}
	if v < 0 {
		return 0, errors.Errorf("%s field '%s' must not be negative, got %d", entity, field, v)
	}
	return uint64(v), nil
}
