package market

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionCost is the CSV kind for execution cost rows. Those rows use the
// name column for venue/pair and an optional fifth column for the bucket's
// upper notional bound.
const ExecutionCost Kind = "execution_bps"

// LoadCSVFile reads a feed from path. See LoadCSV for the format.
func LoadCSVFile(path string) (*MemoryFeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadCSV(f)
}

// LoadCSV reads rows of time,kind,name,value[,bucket_max]. A header row whose
// first column is "time" is skipped. Growth index series are checked to be
// non-decreasing.
func LoadCSV(r io.Reader) (*MemoryFeed, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	feed := NewMemoryFeed()
	buckets := map[string][]CostBucket{}

	line := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if len(row) == 0 || (line == 1 && strings.EqualFold(strings.TrimSpace(row[0]), "time")) {
			continue
		}
		if len(row) < 4 {
			return nil, fmt.Errorf("line %d: need at least 4 cols time,kind,name,value: %v", line, row)
		}

		kind := Kind(strings.TrimSpace(row[1]))
		name := strings.TrimSpace(row[2])
		val, err := decimal.NewFromString(strings.TrimSpace(row[3]))
		if err != nil {
			return nil, fmt.Errorf("line %d: bad value %q: %w", line, row[3], err)
		}

		if kind == ExecutionCost {
			b := CostBucket{Bps: val}
			if len(row) > 4 && strings.TrimSpace(row[4]) != "" {
				max, err := decimal.NewFromString(strings.TrimSpace(row[4]))
				if err != nil {
					return nil, fmt.Errorf("line %d: bad bucket max %q: %w", line, row[4], err)
				}
				b.MaxNotional = max
			}
			buckets[name] = append(buckets[name], b)
			continue
		}

		if !knownKind(kind) {
			return nil, fmt.Errorf("line %d: unknown kind %q", line, kind)
		}
		ts, err := parseTime(row[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		feed.Set(Key{Kind: kind, Name: name}, ts, val)
	}

	for name, bs := range buckets {
		venue, pair, ok := strings.Cut(name, "/")
		if !ok {
			return nil, fmt.Errorf("execution cost name %q must be venue/pair", name)
		}
		feed.SetExecutionCost(venue, pair, bs...)
	}

	if err := feed.Validate(); err != nil {
		return nil, err
	}
	return feed, nil
}

func knownKind(k Kind) bool {
	switch k {
	case SupplyIndex, BorrowIndex, OracleRate, SpotPrice, PerpPrice, FundingRate, RewardYield, GasCost:
		return true
	}
	return false
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t2, err2 := time.Parse(time.RFC3339Nano, s)
		if err2 != nil {
			return time.Time{}, fmt.Errorf("bad time %q: %w", s, err)
		}
		t = t2
	}
	return t, nil
}
