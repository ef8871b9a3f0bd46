package campaign

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type fakeState struct {
	regs map[string]uint64
	mem  map[uint64][]byte
}

func (s *fakeState) ReadRegister(name string) (uint64, error) {
	v, ok := s.regs[name]
	if !ok {
		return 0, errors.Errorf("unknown register %s", name)
	}
	return v, nil
}

func (s *fakeState) ReadMemory(addr uint64, n int) ([]byte, error) {
	b, ok := s.mem[addr]
	if !ok || len(b) < n {
		return nil, errors.Errorf("unmapped memory at 0x%x", addr)
	}
	return b[:n], nil
}

func TestClassificationExprFirstMatchWins(t *testing.T) {
	st := &fakeState{regs: map[string]uint64{"R0": 0x10}}

	expr := ClassificationExpr{
		{Kind: EffectSuccess, Checks: []Check{&RegCheck{Reg: "R0", Cmp: "NE", Value: 0x10}}},
		{Kind: EffectCrash},
		{Kind: EffectCaught},
	}
	effect, err := expr.Eval(st)
	require.NoError(t, err)
	// The success term's check does not hold; crash is declared before
	// caught, so crash wins.
	assert.Equal(t, EffectCrash, effect)
}

func TestClassificationExprEmptyIsUndecided(t *testing.T) {
	effect, err := ClassificationExpr{}.Eval(&fakeState{})
	require.NoError(t, err)
	assert.Equal(t, EffectUndecided, effect)
}

func TestClassificationExprNoMatchIsUndecided(t *testing.T) {
	st := &fakeState{regs: map[string]uint64{"R0": 1}}
	expr := ClassificationExpr{
		{Kind: EffectSuccess, Checks: []Check{&RegCheck{Reg: "R0", Cmp: "EQ", Value: 2}}},
	}
	effect, err := expr.Eval(st)
	require.NoError(t, err)
	assert.Equal(t, EffectUndecided, effect)
}

func TestRegCheckOperators(t *testing.T) {
	st := &fakeState{regs: map[string]uint64{"R1": 5}}
	tests := []struct {
		cmp   string
		value uint64
		want  bool
	}{
		{"EQ", 5, true}, {"EQ", 4, false},
		{"NE", 4, true}, {"NE", 5, false},
		{"GT", 4, true}, {"GT", 5, false},
		{"GE", 5, true}, {"GE", 6, false},
		{"LT", 6, true}, {"LT", 5, false},
		{"LE", 5, true}, {"LE", 4, false},
	}
	for _, tt := range tests {
		c := &RegCheck{Reg: "R1", Cmp: tt.cmp, Value: tt.value}
		got, err := c.Check(st)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s %d", tt.cmp, tt.value)
	}
}

func TestMemCheckComparesBytes(t *testing.T) {
	st := &fakeState{mem: map[uint64][]byte{0x2000: {0xde, 0xad, 0xbe, 0xef}}}

	match := &MemCheck{SymbolName: "pin", Address: 0x2000, Data: []byte{0xde, 0xad}}
	got, err := match.Check(st)
	require.NoError(t, err)
	assert.True(t, got)

	differ := &MemCheck{SymbolName: "pin", Address: 0x2000, Data: []byte{0xde, 0xae}}
	got, err = differ.Check(st)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestCheckErrorPropagates(t *testing.T) {
	expr := ClassificationExpr{
		{Kind: EffectSuccess, Checks: []Check{&RegCheck{Reg: "R9", Cmp: "EQ", Value: 0}}},
	}
	_, err := expr.Eval(&fakeState{})
	require.Error(t, err)
}

func TestOracleAt(t *testing.T) {
	o := Oracle{
		{Pc: 0x8060},
		{Pc: 0x8100},
	}
	require.NotNil(t, o.At(0x8100))
	assert.Equal(t, uint64(0x8100), o.At(0x8100).Pc)
	assert.Nil(t, o.At(0x9999))
}

func TestDecodeChecksFromYAML(t *testing.T) {
	doc := `
Pc: 0x8100
Classification:
  - ["success", [{ Reg: "R0", Cmp: "NE", Value: 0 }]]
  - ["crash", [{ SymbolName: "pin", Address: 0x2000, Data: [1, 2, 3, 4] }]]
`
	c := &Classifier{}
	require.NoError(t, yaml.Unmarshal([]byte(doc), c))
	require.Len(t, c.Classification, 2)

	rc, ok := c.Classification[0].Checks[0].(*RegCheck)
	require.True(t, ok)
	assert.Equal(t, "R0", rc.Reg)
	assert.Equal(t, "NE", rc.Cmp)

	mc, ok := c.Classification[1].Checks[0].(*MemCheck)
	require.True(t, ok)
	assert.Equal(t, "pin", mc.SymbolName)
	assert.Equal(t, uint64(0x2000), mc.Address)
	assert.Equal(t, []byte{1, 2, 3, 4}, mc.Data)

	st := &fakeState{regs: map[string]uint64{"R0": 7}}
	effect, err := c.Evaluate(st)
	require.NoError(t, err)
	assert.Equal(t, EffectSuccess, effect)
}

func TestDecodeCheckRejectsUnknownOperator(t *testing.T) {
	doc := `
Pc: 0x8100
Classification:
  - ["success", [{ Reg: "R0", Cmp: "XX", Value: 0 }]]
`
	err := yaml.Unmarshal([]byte(doc), &Classifier{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown Cmp operator")
}
