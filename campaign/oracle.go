package campaign

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// State is the live target state an oracle consults when it evaluates its
// checks. The target control session used by a worker satisfies it.
type State interface {
	ReadRegister(name string) (uint64, error)
	ReadMemory(addr uint64, n int) ([]byte, error)
}

// Check is a named comparison against live target state.
type Check interface {
	Check(st State) (bool, error)
}

// RegCheck compares a register against an expected value.
type RegCheck struct {
	Reg   string `yaml:"Reg"`
	Cmp   string `yaml:"Cmp"`
	Value uint64 `yaml:"Value"`
}

var regCmpOps = []string{"EQ", "NE", "GT", "GE", "LT", "LE"}

func (r *RegCheck) Check(st State) (bool, error) {
	val, err := st.ReadRegister(r.Reg)
	if err != nil {
		return false, errors.Wrapf(err, "RegCheck on %s", r.Reg)
	}
	switch r.Cmp {
	case "EQ":
		return val == r.Value, nil
	case "NE":
		return val != r.Value, nil
	case "GT":
		return val > r.Value, nil
	case "GE":
		return val >= r.Value, nil
	case "LT":
		return val < r.Value, nil
	case "LE":
		return val <= r.Value, nil
	}
	return false, errors.Errorf("unknown Cmp operator: %s", r.Cmp)
}

func (r RegCheck) String() string {
	return fmt.Sprintf("{Reg: %q, Cmp: %q, Value: 0x%08X}", r.Reg, r.Cmp, r.Value)
}

// MemCheck compares the bytes at a symbol's address against an expected
// byte sequence.
type MemCheck struct {
	SymbolName string
	Address    uint64
	Data       []byte
}

func (m *MemCheck) MarshalYAML() (interface{}, error) {
	data := make([]int, len(m.Data))
	for i, d := range m.Data {
		data[i] = int(d)
	}
	return struct {
		SymbolName string `yaml:"SymbolName"`
		Address    uint64 `yaml:"Address"`
		Data       []int  `yaml:"Data,flow"`
	}{m.SymbolName, m.Address, data}, nil
}

func (m *MemCheck) Check(st State) (bool, error) {
	mem, err := st.ReadMemory(m.Address, len(m.Data))
	if err != nil {
		return false, errors.Wrapf(err, "MemCheck on %s", m.SymbolName)
	}
	return bytes.Equal(mem, m.Data), nil
}

func (m MemCheck) String() string {
	parts := make([]string, len(m.Data))
	for i, d := range m.Data {
		parts[i] = fmt.Sprintf("0x%02X", d)
	}
	return fmt.Sprintf("{SymbolName: %q, Address: 0x%08X, Size: %d, Data: [%s]}",
		m.SymbolName, m.Address, len(m.Data), strings.Join(parts, ", "))
}

func decodeCheck(node *yaml.Node) (Check, error) {
	m, err := fieldMap(node, "Check")
	if err != nil {
		return nil, err
	}
	if _, ok := m["SymbolName"]; ok {
		if err := requireFields(m, "MemCheck", "SymbolName", "Address", "Data"); err != nil {
			return nil, err
		}
		mc := &MemCheck{}
		if err := m["SymbolName"].Decode(&mc.SymbolName); err != nil {
			return nil, errors.Wrap(err, "MemCheck field 'SymbolName'")
		}
		if mc.Address, err = decodeUint(m, "MemCheck", "Address"); err != nil {
			return nil, err
		}
		var data []int
		if err := m["Data"].Decode(&data); err != nil {
			return nil, errors.Wrap(err, "MemCheck field 'Data'")
		}
		mc.Data = make([]byte, len(data))
		for i, d := range data {
			if d < 0 || d > 0xFF {
				return nil, errors.Errorf("MemCheck data byte out of range: %d", d)
			}
			mc.Data[i] = byte(d)
		}
		return mc, nil
	}
	if _, ok := m["Reg"]; ok {
		if err := requireFields(m, "RegCheck", "Reg", "Cmp", "Value"); err != nil {
			return nil, err
		}
		rc := &RegCheck{}
		if err := node.Decode(rc); err != nil {
			return nil, errors.Wrap(err, "RegCheck")
		}
		for _, op := range regCmpOps {
			if rc.Cmp == op {
				return rc, nil
			}
		}
		return nil, errors.Errorf("unknown Cmp operator: %s", rc.Cmp)
	}
	return nil, errors.Errorf("can not guess Check type for entry at line %d", node.Line)
}

// ClassificationTerm is one term of a classification expression: a kind
// plus the checks that must all hold for the term to apply.
type ClassificationTerm struct {
	Kind   Effect
	Checks []Check
}

func (t *ClassificationTerm) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode || len(node.Content) != 2 {
		return errors.New("classification term must be a [kind, checks] pair")
	}
	var kind string
	if err := node.Content[0].Decode(&kind); err != nil {
		return errors.Wrap(err, "classification term kind")
	}
	switch Effect(kind) {
	case EffectNoEffect, EffectSuccess, EffectCrash, EffectCaught:
		t.Kind = Effect(kind)
	default:
		return errors.Errorf("%s is not a known classification term", kind)
	}
	if node.Content[1].Kind != yaml.SequenceNode {
		return errors.New("classification term checks must be a sequence")
	}
	for _, cn := range node.Content[1].Content {
		c, err := decodeCheck(cn)
		if err != nil {
			return err
		}
		t.Checks = append(t.Checks, c)
	}
	return nil
}

func (t ClassificationTerm) MarshalYAML() (interface{}, error) {
	checks := make([]interface{}, len(t.Checks))
	for i, c := range t.Checks {
		checks[i] = c
	}
	return []interface{}{string(t.Kind), checks}, nil
}

func (t ClassificationTerm) String() string {
	parts := make([]string, len(t.Checks))
	for i, c := range t.Checks {
		parts[i] = fmt.Sprintf("%v", c)
	}
	return fmt.Sprintf("%q,[%s]", t.Kind, strings.Join(parts, ", "))
}

// ClassificationExpr is an ordered list of classification terms. The first
// term whose checks all hold decides the classification.
type ClassificationExpr []ClassificationTerm

// Eval returns the kind of the first term whose check set holds against
// st, or EffectUndecided when no term matches. A term with no checks
// always holds. Term order is caller declared and significant.
func (e ClassificationExpr) Eval(st State) (Effect, error) {
	for _, t := range e {
		holds := true
		for _, c := range t.Checks {
			ok, err := c.Check(st)
			if err != nil {
				return EffectUndecided, err
			}
			if !ok {
				holds = false
				break
			}
		}
		if holds {
			return t.Kind, nil
		}
	}
	return EffectUndecided, nil
}

// Classifier binds a program counter value to a classification expression.
type Classifier struct {
	Pc             uint64
	Classification ClassificationExpr
}

func (c *Classifier) UnmarshalYAML(node *yaml.Node) error {
	m, err := fieldMap(node, "Classifier")
	if err != nil {
		return err
	}
	if err := requireFields(m, "Classifier", "Pc", "Classification"); err != nil {
		return err
	}
	if c.Pc, err = decodeUint(m, "Classifier", "Pc"); err != nil {
		return err
	}
	return m["Classification"].Decode(&c.Classification)
}

func (c *Classifier) MarshalYAML() (interface{}, error) {
	return struct {
		Pc             uint64             `yaml:"Pc"`
		Classification ClassificationExpr `yaml:"Classification"`
	}{c.Pc, c.Classification}, nil
}

// Evaluate asks this classifier for a statement about the fault's effect.
func (c *Classifier) Evaluate(st State) (Effect, error) {
	return c.Classification.Eval(st)
}

func (c *Classifier) String() string {
	parts := make([]string, len(c.Classification))
	for i, t := range c.Classification {
		parts[i] = t.String()
	}
	return fmt.Sprintf("{ Pc: 0x%x, Classification: [%s]}", c.Pc, strings.Join(parts, ", "))
}

// Oracle is the ordered collection of classifiers of a campaign.
type Oracle []*Classifier

// At returns the classifier registered for pc, or nil.
func (o Oracle) At(pc uint64) *Classifier {
	for _, c := range o {
		if c.Pc == pc {
			return c
		}
	}
	return nil
}

func (o Oracle) String() string {
	lines := make([]string, len(o))
	for i, c := range o {
		lines[i] = fmt.Sprintf("  - %s", c)
	}
	return strings.Join(lines, "\n")
}
