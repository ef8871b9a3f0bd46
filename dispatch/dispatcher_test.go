package dispatch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukjok/faultsim/campaign"
)

func testCampaign(n int) *campaign.Campaign {
	c := &campaign.Campaign{}
	for i := 0; i < n; i++ {
		c.Faults = append(c.Faults, &campaign.Fault{
			Id:    uint64(i),
			Model: campaign.ModelInstructionSkip,
		})
	}
	return c
}

func TestClaimNextHandsOutEveryFaultOnce(t *testing.T) {
	const faults = 100
	const workers = 8

	d := New(testCampaign(faults), nil)
	require.Equal(t, faults, d.NumSelected())

	var mu sync.Mutex
	claimed := make(map[uint64]int)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				f, ok := d.ClaimNext()
				if !ok {
					return
				}
				mu.Lock()
				claimed[f.Id]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, claimed, faults)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "fault %d claimed %d times", id, n)
	}
}

func TestClaimNextReportsEmptyToLateComers(t *testing.T) {
	d := New(testCampaign(1), nil)

	_, ok := d.ClaimNext()
	require.True(t, ok)

	_, ok = d.ClaimNext()
	assert.False(t, ok)
	_, ok = d.ClaimNext()
	assert.False(t, ok)
}

func TestSelectionBySubsetOfIds(t *testing.T) {
	d := New(testCampaign(10), []uint64{2, 5, 7})
	assert.Equal(t, 3, d.NumSelected())
	assert.Equal(t, "2,5,7", d.SelectedIds())

	var got []uint64
	for {
		f, ok := d.ClaimNext()
		if !ok {
			break
		}
		got = append(got, f.Id)
	}
	assert.Equal(t, []uint64{2, 5, 7}, got)
}

func TestSelectionIgnoresUnknownIds(t *testing.T) {
	d := New(testCampaign(3), []uint64{1, 99})
	assert.Equal(t, 1, d.NumSelected())
}

func TestEmptySelection(t *testing.T) {
	d := New(testCampaign(3), []uint64{})
	assert.Equal(t, 0, d.NumSelected())
	_, ok := d.ClaimNext()
	assert.False(t, ok)
}

func TestFinalizeCountsEffects(t *testing.T) {
	c := testCampaign(6)
	c.Faults[0].Effect = campaign.EffectSuccess
	c.Faults[1].Effect = campaign.EffectSuccess
	c.Faults[2].Effect = campaign.EffectCrash
	c.Faults[3].Effect = campaign.EffectCaught
	c.Faults[4].Effect = campaign.EffectNoEffect
	// Faults[5] was never run.

	d := New(c, nil)
	for {
		if _, ok := d.ClaimNext(); !ok {
			break
		}
	}

	res := d.Finalize()
	assert.Equal(t, 6, res.Injected)
	assert.Equal(t, 2, res.Counts[campaign.EffectSuccess])
	assert.Equal(t, 1, res.Counts[campaign.EffectCrash])
	assert.Equal(t, 1, res.Counts[campaign.EffectCaught])
	assert.Equal(t, 1, res.Counts[campaign.EffectNoEffect])
	assert.Equal(t, 0, res.Counts[campaign.EffectUndecided])
	assert.Equal(t, 1, res.Counts[campaign.EffectNotRun])

	assert.Equal(t,
		"6 faults injected: 2 successful, 1 caught, 1 noeffect, 1 crash and 0 undecided",
		res.String())
}

func TestFinalizeOnSubsetCountsOnlySelected(t *testing.T) {
	c := testCampaign(4)
	c.Faults[1].Effect = campaign.EffectCrash
	c.Faults[3].Effect = campaign.EffectSuccess

	d := New(c, []uint64{1, 3})
	res := d.Finalize()
	assert.Equal(t, 2, res.Injected)
	assert.Equal(t, 1, res.Counts[campaign.EffectCrash])
	assert.Equal(t, 1, res.Counts[campaign.EffectSuccess])
	assert.Equal(t, 0, res.Counts[campaign.EffectNotRun])
}
