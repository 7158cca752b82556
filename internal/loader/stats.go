package loader

import "sync/atomic"

// Stats is a snapshot of pipeline counters.
type Stats struct {
	RecordsRead uint64 // records read from the source, including padding
	Filtered    uint64
	Corrupt     uint64 // corrupt records skipped
	Batches     uint64
	Epochs      uint64 // completed epochs
}

// statsCollector holds the live counters, updated from every goroutine.
type statsCollector struct {
	recordsRead atomic.Uint64
	filtered    atomic.Uint64
	corrupt     atomic.Uint64
	batches     atomic.Uint64
	epochs      atomic.Uint64
}

func (s *statsCollector) snapshot() Stats {
	return Stats{
		RecordsRead: s.recordsRead.Load(),
		Filtered:    s.filtered.Load(),
		Corrupt:     s.corrupt.Load(),
		Batches:     s.batches.Load(),
		Epochs:      s.epochs.Load(),
	}
}
