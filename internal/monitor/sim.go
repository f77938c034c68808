package monitor

import (
	"math/rand"
	"sync"
	"time"
)

// SimProbe produces synthetic readings for development machines without a
// battery interface. It models a slow discharge from a configurable start.
type SimProbe struct {
	mu  sync.Mutex
	pct int
	rng *rand.Rand
}

// NewSimProbe creates a simulated probe starting at startPct charge.
func NewSimProbe(startPct int) *SimProbe {
	if startPct <= 0 || startPct > 100 {
		startPct = 85
	}
	return &SimProbe{
		pct: startPct,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *SimProbe) Read() (Reading, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pct > 0 && p.rng.Intn(4) == 0 {
		p.pct--
	}
	return Reading{
		BatteryPct: p.pct,
		Voltage:    3.7,
		CPUPct:     20 + p.rng.Float64()*30,
		TempC:      35 + p.rng.Float64()*5,
		Timestamp:  time.Now(),
	}, nil
}

// Detect returns the best available probe: the system battery interface when
// present, otherwise a simulated probe.
func Detect() Probe {
	sysfs := NewSysfsProbe()
	if sysfs.Available() {
		return sysfs
	}
	return NewSimProbe(85)
}
