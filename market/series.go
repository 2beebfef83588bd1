package market

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Series is a time-ordered list of samples.
type Series struct {
	samples []Sample
}

// Add inserts a sample keeping time order. A sample at an existing time
// replaces the old value.
func (s *Series) Add(at time.Time, v decimal.Decimal) {
	i := sort.Search(len(s.samples), func(i int) bool { return !s.samples[i].Time.Before(at) })
	if i < len(s.samples) && s.samples[i].Time.Equal(at) {
		s.samples[i].Value = v
		return
	}
	s.samples = append(s.samples, Sample{})
	copy(s.samples[i+1:], s.samples[i:])
	s.samples[i] = Sample{Time: at, Value: v}
}

// At returns the latest sample at or before t.
func (s *Series) At(t time.Time) (Sample, bool) {
	i := sort.Search(len(s.samples), func(i int) bool { return s.samples[i].Time.After(t) })
	if i == 0 {
		return Sample{}, false
	}
	return s.samples[i-1], true
}

func (s *Series) Len() int { return len(s.samples) }

// First returns the earliest sample.
func (s *Series) First() (Sample, bool) {
	if len(s.samples) == 0 {
		return Sample{}, false
	}
	return s.samples[0], true
}

// CheckNonDecreasing reports the first sample that is lower than its
// predecessor. Growth indices must never fall.
func (s *Series) CheckNonDecreasing() error {
	for i := 1; i < len(s.samples); i++ {
		if s.samples[i].Value.LessThan(s.samples[i-1].Value) {
			return fmt.Errorf("series decreases at %s: %s < %s",
				s.samples[i].Time.Format(time.RFC3339), s.samples[i].Value, s.samples[i-1].Value)
		}
	}
	return nil
}
