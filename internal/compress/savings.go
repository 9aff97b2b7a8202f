package compress

import "fmt"

// Savings accounts for the space saved by storing transformed files.
type Savings struct {
	OriginalBytes int64
	StoredBytes   int64
}

// Add accumulates one file into the total.
func (s *Savings) Add(original, stored int64) {
	s.OriginalBytes += original
	s.StoredBytes += stored
}

// Ratio is stored size over original size. An empty input has ratio 1.
func (s Savings) Ratio() float64 {
	if s.OriginalBytes == 0 {
		return 1
	}
	return float64(s.StoredBytes) / float64(s.OriginalBytes)
}

// PercentSaved is 0 for an empty input and negative when storage grew.
func (s Savings) PercentSaved() float64 {
	if s.OriginalBytes == 0 {
		return 0
	}
	return (1 - s.Ratio()) * 100
}

func (s Savings) String() string {
	return fmt.Sprintf("%d -> %d bytes (%.1f%% saved)", s.OriginalBytes, s.StoredBytes, s.PercentSaved())
}
