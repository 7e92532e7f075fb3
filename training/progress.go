package training

import (
	"fmt"
	"strings"
	"time"
)

// ProgressBar provides tqdm-style progress visualization for the training and
// validation loops. The description is re-set each batch to carry the running
// loss or metric readout.
type ProgressBar struct {
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
}

// NewProgressBar creates a new progress bar.
func NewProgressBar(description string, total int) *ProgressBar {
	return &ProgressBar{
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       40, // Character width of the bar itself
	}
}

// SetDescription replaces the text shown ahead of the bar.
func (pb *ProgressBar) SetDescription(description string) {
	pb.description = description
}

// Update advances the progress bar and redraws it.
func (pb *ProgressBar) Update(step int) {
	pb.current = step
	pb.render()
}

// Finish completes the progress bar.
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	fmt.Println()
}

// render draws the progress bar in place via carriage return.
func (pb *ProgressBar) render() {
	percentage := 1.0
	if pb.total > 0 {
		percentage = float64(pb.current) / float64(pb.total)
	}
	if percentage > 1.0 {
		percentage = 1.0
	}

	filled := int(percentage * float64(pb.width))
	if filled > pb.width {
		filled = pb.width
	}
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := time.Since(pb.startTime)
	var eta time.Duration
	var rate float64
	if pb.current > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		if percentage > 0 {
			totalTime := time.Duration(float64(elapsed) / percentage)
			eta = totalTime - elapsed
		}
	}

	line := fmt.Sprintf("\r%s: %3.0f%%|%s| %d/%d [%s<%s",
		pb.description,
		percentage*100,
		bar,
		pb.current,
		pb.total,
		formatDuration(elapsed),
		formatDuration(eta),
	)
	if rate > 0 {
		line += fmt.Sprintf(", %.2fbatch/s", rate)
	}
	line += "]"

	fmt.Print(line)
}

// formatDuration formats duration as MM:SS.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
