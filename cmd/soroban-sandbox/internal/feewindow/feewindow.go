// Package feewindow keeps the inclusion fees of the most recent submissions
// and summarizes them for fee statistics.
package feewindow

import (
	"sync"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

type FeeDistribution struct {
	Max         uint64
	Min         uint64
	Mode        uint64
	P10         uint64
	P20         uint64
	P30         uint64
	P40         uint64
	P50         uint64
	P60         uint64
	P70         uint64
	P80         uint64
	P90         uint64
	P95         uint64
	P99         uint64
	FeeCount    uint32
	LedgerCount uint32
}

type sample struct {
	fee    uint64
	ledger uint32
}

// FeeWindow is a ring buffer of the last submissions' fees.
type FeeWindow struct {
	lock         sync.RWMutex
	samples      []sample
	next         int
	full         bool
	distribution FeeDistribution
}

func NewFeeWindow(size uint32) *FeeWindow {
	if size == 0 {
		size = 1
	}
	return &FeeWindow{samples: make([]sample, size)}
}

// AppendFee adds the inclusion fee of a submission applied at ledgerSeq,
// evicting the oldest one once the window is full.
func (fw *FeeWindow) AppendFee(fee uint64, ledgerSeq uint32) error {
	fw.lock.Lock()
	defer fw.lock.Unlock()
	fw.samples[fw.next] = sample{fee: fee, ledger: ledgerSeq}
	fw.next = (fw.next + 1) % len(fw.samples)
	if fw.next == 0 {
		fw.full = true
	}

	window := fw.samples[:fw.next]
	if fw.full {
		window = fw.samples
	}
	distribution, err := computeFeeDistribution(window)
	if err != nil {
		return err
	}
	fw.distribution = distribution
	return nil
}

func (fw *FeeWindow) GetFeeDistribution() FeeDistribution {
	fw.lock.RLock()
	defer fw.lock.RUnlock()
	return fw.distribution
}

func computeFeeDistribution(samples []sample) (FeeDistribution, error) {
	if len(samples) == 0 {
		return FeeDistribution{}, nil
	}
	fees := make([]uint64, 0, len(samples))
	ledgers := map[uint32]struct{}{}
	for _, s := range samples {
		fees = append(fees, s.fee)
		ledgers[s.ledger] = struct{}{}
	}
	input := stats.LoadRawData(fees)

	minFee, err := input.Min()
	if err != nil {
		return FeeDistribution{}, errors.Wrap(err, "could not compute minimum fee")
	}
	maxFee, err := input.Max()
	if err != nil {
		return FeeDistribution{}, errors.Wrap(err, "could not compute maximum fee")
	}
	modes, err := input.Mode()
	if err != nil {
		return FeeDistribution{}, errors.Wrap(err, "could not compute fee mode")
	}
	// without repeated values every fee is a mode; report the smallest one
	mode := minFee
	if len(modes) > 0 {
		mode = modes[0]
	}

	var percentiles [11]float64
	for i, p := range []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 95, 99} {
		if percentiles[i], err = input.PercentileNearestRank(p); err != nil {
			return FeeDistribution{}, errors.Wrapf(err, "could not compute p%v fee", p)
		}
	}
	return FeeDistribution{
		Max:         uint64(maxFee),
		Min:         uint64(minFee),
		Mode:        uint64(mode),
		P10:         uint64(percentiles[0]),
		P20:         uint64(percentiles[1]),
		P30:         uint64(percentiles[2]),
		P40:         uint64(percentiles[3]),
		P50:         uint64(percentiles[4]),
		P60:         uint64(percentiles[5]),
		P70:         uint64(percentiles[6]),
		P80:         uint64(percentiles[7]),
		P90:         uint64(percentiles[8]),
		P95:         uint64(percentiles[9]),
		P99:         uint64(percentiles[10]),
		FeeCount:    uint32(len(fees)),
		LedgerCount: uint32(len(ledgers)),
	}, nil
}
