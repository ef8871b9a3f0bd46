// Package dispatch distributes the faults of a campaign to the parallel
// injection workers and aggregates the final result counts.
package dispatch

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pterm/pterm"

	"github.com/lukjok/faultsim/campaign"
)

// Dispatcher hands each selected fault to exactly one worker. The queue
// is preloaded at construction time; once drained, every consumer
// observes the empty signal without blocking.
type Dispatcher struct {
	camp     *campaign.Campaign
	queue    chan *campaign.Fault
	selected []*campaign.Fault

	mu  sync.Mutex
	bar *pterm.ProgressbarPrinter
}

// New builds a dispatcher over the campaign's faults. When faultIds is
// non-nil only the listed ids are enqueued, otherwise all faults are.
func New(c *campaign.Campaign, faultIds []uint64) *Dispatcher {
	var wanted map[uint64]bool
	if faultIds != nil {
		wanted = make(map[uint64]bool, len(faultIds))
		for _, id := range faultIds {
			wanted[id] = true
		}
	}

	d := &Dispatcher{camp: c}
	for _, f := range c.AllFaults() {
		if wanted == nil || wanted[f.Id] {
			d.selected = append(d.selected, f)
		}
	}
	d.queue = make(chan *campaign.Fault, len(d.selected))
	for _, f := range d.selected {
		d.queue <- f
	}
	close(d.queue)
	return d
}

// Campaign returns the campaign being dispatched.
func (d *Dispatcher) Campaign() *campaign.Campaign {
	return d.camp
}

// NumSelected returns how many faults will be injected.
func (d *Dispatcher) NumSelected() int {
	return len(d.selected)
}

// StartProgress enables the terminal progress bar.
func (d *Dispatcher) StartProgress() {
	d.mu.Lock()
	defer d.mu.Unlock()
	bar, err := pterm.DefaultProgressbar.
		WithTotal(len(d.selected)).
		WithTitle("Injecting faults").
		Start()
	if err != nil {
		return
	}
	d.bar = bar
}

// ClaimNext hands out the next unclaimed fault. The second return value
// is false once all faults have been claimed.
func (d *Dispatcher) ClaimNext() (*campaign.Fault, bool) {
	f, ok := <-d.queue
	return f, ok
}

// ReportProgress is called once per completed fault. Safe for concurrent
// callers.
func (d *Dispatcher) ReportProgress() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bar != nil {
		d.bar.Increment()
	}
}

// Result aggregates the effect counts of a finished run.
type Result struct {
	Injected int
	Counts   map[campaign.Effect]int
}

func (r Result) String() string {
	return fmt.Sprintf("%d faults injected: %d successful, %d caught, %d noeffect, %d crash and %d undecided",
		r.Injected, r.Counts[campaign.EffectSuccess], r.Counts[campaign.EffectCaught],
		r.Counts[campaign.EffectNoEffect], r.Counts[campaign.EffectCrash], r.Counts[campaign.EffectUndecided])
}

// Finalize computes the aggregate result. It must only be called after
// all workers have joined.
func (d *Dispatcher) Finalize() Result {
	d.mu.Lock()
	if d.bar != nil {
		d.bar.Stop()
		d.bar = nil
	}
	d.mu.Unlock()

	res := Result{Injected: len(d.selected), Counts: make(map[campaign.Effect]int)}
	for _, f := range d.selected {
		if f.Effect == "" {
			res.Counts[campaign.EffectNotRun]++
		} else {
			res.Counts[f.Effect]++
		}
	}
	return res
}

// SelectedIds returns the ids of the selected faults, in queue order.
func (d *Dispatcher) SelectedIds() string {
	parts := make([]string, len(d.selected))
	for i, f := range d.selected {
		parts[i] = fmt.Sprintf("%d", f.Id)
	}
	return strings.Join(parts, ",")
}
