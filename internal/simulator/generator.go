package simulator

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

const (
	// BatchSize is how many one-second summaries the watch buffers per upload.
	BatchSize = 30

	movingThreshold = 1.1
	fallThreshold   = 2.5
	timestampLayout = "2006-01-02 15:04:05"
)

// Sample is one second of accelerometer summary.
type Sample struct {
	At      time.Time
	Battery int
	Steps   int
	MaxG    float64
}

// Status derives the activity label the watch reports for a sample.
func (s Sample) Status() string {
	if s.MaxG > movingThreshold {
		return "MOVING"
	}
	return "RESTING"
}

func (s Sample) Fall() bool {
	return s.MaxG > fallThreshold
}

// Line renders the sample in the watch's upload format.
func (s Sample) Line(device string) string {
	fall := 0
	if s.Fall() {
		fall = 1
	}
	return fmt.Sprintf("%s,%s,%s,%d,%d,%.2f,%d\n",
		s.At.Format(timestampLayout), device, s.Status(), s.Battery, s.Steps, s.MaxG, fall)
}

// Generator produces a plausible stream of one-second samples.
type Generator struct {
	Device  string
	rng     *rand.Rand
	at      time.Time
	steps   int
	battery float64
}

func NewGenerator(device string, start time.Time, seed uint64) *Generator {
	return &Generator{
		Device:  device,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		at:      start,
		battery: 100,
	}
}

// Next advances the clock by one second. fallAt, when non-zero, forces a
// high-G spike on the sample taken at that instant.
func (g *Generator) Next(fallAt time.Time) Sample {
	maxG := 0.95 + g.rng.Float64()*0.2
	if g.rng.IntN(4) == 0 {
		maxG = 1.15 + g.rng.Float64()*0.8
		g.steps += 1 + g.rng.IntN(2)
	}
	if !fallAt.IsZero() && g.at.Equal(fallAt) {
		maxG = 2.6 + g.rng.Float64()*2
	}
	g.battery -= 0.01
	if g.battery < 0 {
		g.battery = 0
	}

	s := Sample{At: g.at, Battery: int(g.battery), Steps: g.steps, MaxG: maxG}
	g.at = g.at.Add(time.Second)
	return s
}

// Batch renders n consecutive samples as one upload body.
func (g *Generator) Batch(n int, fallAt time.Time) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString(g.Next(fallAt).Line(g.Device))
	}
	return b.String()
}
