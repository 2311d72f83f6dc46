package bin

// BinStats aggregates the records routed to a single bin.
type BinStats struct {
	Count int `json:"count"`
	Usage int `json:"usage"`
}

// TopItem is one entry of the most-sorted ranking.
type TopItem struct {
	Label      string `json:"item_label"`
	Color      Color  `json:"bin_color"`
	UsageCount int    `json:"usage_count"`
}

// Stats is the read-only summary of the classification store.
type Stats struct {
	TotalRecords int                `json:"total_records"`
	PerBin       map[Color]BinStats `json:"per_bin"`
	Top          []TopItem          `json:"top"`
}

// NewStats returns an empty summary with every bin present.
func NewStats() *Stats {
	s := &Stats{
		PerBin: make(map[Color]BinStats, len(Colors)),
		Top:    []TopItem{},
	}
	for _, c := range Colors {
		s.PerBin[c] = BinStats{}
	}
	return s
}

// TotalUsage sums the usage counters across all bins.
func (s *Stats) TotalUsage() int {
	total := 0
	for _, b := range s.PerBin {
		total += b.Usage
	}
	return total
}
