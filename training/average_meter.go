package training

// AverageMeter tracks the latest value and the weighted running average of a
// metric stream. Training losses are weighted by batch size and validation
// metrics by image count, so the average stays exact under a ragged final
// batch.
type AverageMeter struct {
	Val   float64 // Most recent value
	Sum   float64 // Weighted sum of all values
	Count float64 // Total weight observed
}

// NewAverageMeter creates a zeroed meter.
func NewAverageMeter() *AverageMeter {
	return &AverageMeter{}
}

// Reset clears all accumulated state.
func (m *AverageMeter) Reset() {
	m.Val = 0
	m.Sum = 0
	m.Count = 0
}

// Update records a value with the given weight.
func (m *AverageMeter) Update(value float64, weight int) {
	if weight < 1 {
		weight = 1
	}
	m.Val = value
	m.Sum += value * float64(weight)
	m.Count += float64(weight)
}

// Avg returns the weighted mean of all recorded values, or 0 before the
// first update.
func (m *AverageMeter) Avg() float64 {
	if m.Count == 0 {
		return 0
	}
	return m.Sum / m.Count
}
