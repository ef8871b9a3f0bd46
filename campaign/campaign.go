// Package campaign holds the typed model of a fault injection campaign:
// the faults to inject, the injection windows of the functions under test
// and the oracle used to classify each fault's effect. Campaign files are
// YAML documents; loading is strict, any missing field at any nesting
// level is a fatal validation error.
package campaign

import (
	"fmt"
	"io/ioutil"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Campaign is the aggregate root of a fault injection run description.
type Campaign struct {
	Path                string
	Image               string
	ReferenceTrace      string
	MaxTraceTime        uint64
	ProgramEntryAddress uint64
	ProgramEndAddress   uint64
	FaultModel          FaultModel
	InjectionRanges     []InjectionRangeInfo
	Oracle              Oracle
	Faults              []*Fault

	byID map[uint64]*Fault
}

var campaignFields = []string{
	"Image", "ReferenceTrace", "MaxTraceTime", "ProgramEntryAddress",
	"ProgramEndAddress", "FaultModel", "InjectionRangeInfo", "Oracle", "Campaign",
}

// Load reads and validates a campaign file.
func Load(path string) (*Campaign, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read campaign file '%s'", path)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "campaign file '%s'", path)
	}
	c.Path = path
	return c, nil
}

// Parse validates and builds a Campaign from a YAML document.
func Parse(data []byte) (*Campaign, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "malformed YAML")
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("empty campaign document")
	}
	root := doc.Content[0]
	m, err := fieldMap(root, "fault injection campaign")
	if err != nil {
		return nil, err
	}
	if err := requireFields(m, "fault injection campaign", campaignFields...); err != nil {
		return nil, err
	}

	c := &Campaign{}
	if err := m["Image"].Decode(&c.Image); err != nil {
		return nil, errors.Wrap(err, "field 'Image'")
	}
	if err := m["ReferenceTrace"].Decode(&c.ReferenceTrace); err != nil {
		return nil, errors.Wrap(err, "field 'ReferenceTrace'")
	}
	if c.MaxTraceTime, err = decodeUint(m, "fault injection campaign", "MaxTraceTime"); err != nil {
		return nil, err
	}
	if c.ProgramEntryAddress, err = decodeUint(m, "fault injection campaign", "ProgramEntryAddress"); err != nil {
		return nil, err
	}
	if c.ProgramEndAddress, err = decodeUint(m, "fault injection campaign", "ProgramEndAddress"); err != nil {
		return nil, err
	}
	var model string
	if err := m["FaultModel"].Decode(&model); err != nil {
		return nil, errors.Wrap(err, "field 'FaultModel'")
	}
	c.FaultModel = FaultModel(model)
	if c.FaultModel != ModelInstructionSkip && c.FaultModel != ModelCorruptRegDef {
		return nil, errors.Errorf("unsupported fault model '%s'", model)
	}
	if err := m["InjectionRangeInfo"].Decode(&c.InjectionRanges); err != nil {
		return nil, err
	}
	if err := m["Oracle"].Decode(&c.Oracle); err != nil {
		return nil, err
	}

	faults := m["Campaign"]
	if faults.Kind != yaml.SequenceNode {
		return nil, errors.New("field 'Campaign' must be a sequence of faults")
	}
	c.byID = make(map[uint64]*Fault, len(faults.Content))
	for _, fn := range faults.Content {
		f, err := decodeFault(c.FaultModel, fn)
		if err != nil {
			return nil, err
		}
		if _, dup := c.byID[f.Id]; dup {
			return nil, errors.Errorf("duplicate fault Id %d", f.Id)
		}
		c.Faults = append(c.Faults, f)
		c.byID[f.Id] = f
	}
	return c, nil
}

// NumFaults returns the number of faults in this campaign.
func (c *Campaign) NumFaults() int {
	return len(c.Faults)
}

// AllFaults returns the campaign's faults in declaration order.
func (c *Campaign) AllFaults() []*Fault {
	return c.Faults
}

// GetFault looks a fault up by its declared Id. Ids are not positions:
// a campaign may carry a subset of a larger fault space.
func (c *Campaign) GetFault(id uint64) (*Fault, bool) {
	f, ok := c.byID[id]
	return f, ok
}

// OffsetAllFaultsTimeBy shifts every fault time and every injection range
// window by offset. Addresses are untouched.
func (c *Campaign) OffsetAllFaultsTimeBy(offset int64) {
	for i := range c.InjectionRanges {
		c.InjectionRanges[i].StartTime = addOffset(c.InjectionRanges[i].StartTime, offset)
		c.InjectionRanges[i].EndTime = addOffset(c.InjectionRanges[i].EndTime, offset)
	}
	for _, f := range c.Faults {
		f.Time = addOffset(f.Time, offset)
	}
}

// OffsetAllFaultsAddressBy shifts every fault address, its breakpoint
// address and every injection range address window by offset. Times are
// untouched.
func (c *Campaign) OffsetAllFaultsAddressBy(offset int64) {
	for i := range c.InjectionRanges {
		c.InjectionRanges[i].StartAddress = addOffset(c.InjectionRanges[i].StartAddress, offset)
		c.InjectionRanges[i].EndAddress = addOffset(c.InjectionRanges[i].EndAddress, offset)
	}
	for _, f := range c.Faults {
		f.Address = addOffset(f.Address, offset)
		f.Breakpoint.Address = addOffset(f.Breakpoint.Address, offset)
	}
}

func addOffset(v uint64, offset int64) uint64 {
	return uint64(int64(v) + offset)
}

// Summary counts the campaign's faults per effect bucket. Faults with no
// recorded effect count as notrun. The total bucket always equals the sum
// of all other buckets.
func (c *Campaign) Summary() Summary {
	s := Summary{"total": c.NumFaults()}
	for _, e := range Effects {
		s[string(e)] = 0
	}
	s[string(EffectNotRun)] = 0
	for _, f := range c.Faults {
		if f.Effect != "" {
			s[string(f.Effect)]++
		} else {
			s[string(EffectNotRun)]++
		}
	}
	return s
}

// Summary maps effect buckets (plus "total") to fault counts.
type Summary map[string]int

// String renders the summary as a single line, effect buckets sorted
// alphabetically, the total bucket excluded from the listing.
func (s Summary) String() string {
	buckets := make([]string, 0, len(s))
	for k := range s {
		if k != "total" {
			buckets = append(buckets, k)
		}
	}
	sort.Strings(buckets)
	parts := make([]string, len(buckets))
	for i, k := range buckets {
		parts[i] = fmt.Sprintf("%d %s", s[k], k)
	}
	return fmt.Sprintf("%d faults: %s", s["total"], strings.Join(parts, ", "))
}

type campaignDoc struct {
	Image               string               `yaml:"Image"`
	ReferenceTrace      string               `yaml:"ReferenceTrace"`
	MaxTraceTime        uint64               `yaml:"MaxTraceTime"`
	ProgramEntryAddress uint64               `yaml:"ProgramEntryAddress"`
	ProgramEndAddress   uint64               `yaml:"ProgramEndAddress"`
	FaultModel          string               `yaml:"FaultModel"`
	InjectionRangeInfo  []InjectionRangeInfo `yaml:"InjectionRangeInfo"`
	Oracle              Oracle               `yaml:"Oracle"`
	Campaign            []*Fault             `yaml:"Campaign"`
}

// Save persists the campaign, effects included, in the same structured
// format Load reads. The String dump is a debug aid, not what gets saved.
func (c *Campaign) Save(path string) error {
	doc := campaignDoc{
		Image:               c.Image,
		ReferenceTrace:      c.ReferenceTrace,
		MaxTraceTime:        c.MaxTraceTime,
		ProgramEntryAddress: c.ProgramEntryAddress,
		ProgramEndAddress:   c.ProgramEndAddress,
		FaultModel:          string(c.FaultModel),
		InjectionRangeInfo:  c.InjectionRanges,
		Oracle:              c.Oracle,
		Campaign:            c.Faults,
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal campaign")
	}
	if err := ioutil.WriteFile(path, data, os.FileMode(0644)); err != nil {
		return errors.Wrapf(err, "failed to write campaign file '%s'", path)
	}
	return nil
}

func (c *Campaign) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "FaultInjectionCampaign: %q\n", c.Path)
	fmt.Fprintf(&b, "Image: %q\n", c.Image)
	fmt.Fprintf(&b, "ReferenceTrace: %q\n", c.ReferenceTrace)
	fmt.Fprintf(&b, "MaxTraceTime: %d\n", c.MaxTraceTime)
	fmt.Fprintf(&b, "ProgramEntryAddress: 0x%x\n", c.ProgramEntryAddress)
	fmt.Fprintf(&b, "ProgramEndAddress: 0x%x\n", c.ProgramEndAddress)
	fmt.Fprintf(&b, "FaultModel: %q\n", c.FaultModel)
	b.WriteString("InjectionRangeInfo:\n")
	for _, r := range c.InjectionRanges {
		fmt.Fprintf(&b, "  - %s\n", r)
	}
	fmt.Fprintf(&b, "Oracle:\n%s\n", c.Oracle)
	b.WriteString("Campaign:\n")
	for _, f := range c.Faults {
		fmt.Fprintf(&b, "  - %s\n", f)
	}
	return b.String()
}
