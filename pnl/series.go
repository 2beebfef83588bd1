package pnl

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Record is one period's attribution. Records are values; a Series hands
// out copies.
type Record struct {
	Index int
	Time  time.Time
	Price decimal.Decimal

	Components Components
	Cumulative Components

	Net           decimal.Decimal
	CumulativeNet decimal.Decimal

	TotalValue decimal.Decimal // direct valuation
	Expected   decimal.Decimal // initial value + cumulative net
	Diff       decimal.Decimal // TotalValue − Expected
	Tolerance  decimal.Decimal
	Reconciled bool
}

// Series is the append-only record of a run.
type Series struct {
	mu      sync.RWMutex
	records []Record
}

// Append adds r as the next period. Index must follow on and time must move
// forward.
func (s *Series) Append(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Index != len(s.records) {
		return fmt.Errorf("pnl: record index %d, want %d", r.Index, len(s.records))
	}
	if n := len(s.records); n > 0 && !r.Time.After(s.records[n-1].Time) {
		return fmt.Errorf("pnl: record time %s not after %s", r.Time, s.records[n-1].Time)
	}
	s.records = append(s.records, r)
	return nil
}

func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Last returns the latest record.
func (s *Series) Last() (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return Record{}, false
	}
	return s.records[len(s.records)-1], true
}

// Records returns a copy of every record.
func (s *Series) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Record(nil), s.records...)
}
