package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/optic-one/opticd/internal/pressure"
)

// failSafeStaleReads is how many consecutive probe failures escalate the
// level to Critical. When the probe itself is unreliable, assume the worst.
const failSafeStaleReads = 3

// cpuSustainedSamples is how many consecutive over-threshold CPU samples
// count as sustained load. A single spike does not raise pressure.
const cpuSustainedSamples = 2

// Alert describes one pressure level edge. Alerts fire exactly once per
// boundary crossing, in either direction.
type Alert struct {
	From   pressure.Level
	To     pressure.Level
	Reason string
	Stale  bool
}

// Snapshot is the monitor's externally visible state.
type Snapshot struct {
	Level     pressure.Level `json:"-"`
	LevelName string         `json:"level"`
	Reading   Reading        `json:"reading"`
	Stale     bool           `json:"stale"`
	SampledAt time.Time      `json:"sampled_at"`
}

// Monitor owns the probe poll loop. It is created at process start and
// injected into consumers; the loop stops when its context is cancelled.
type Monitor struct {
	probe      Probe
	interval   time.Duration
	thresholds Thresholds
	logger     *slog.Logger

	mu          sync.Mutex
	level       pressure.Level
	lastReading Reading
	sampledAt   time.Time
	stale       bool
	staleCount  int
	cpuStreak   int
	callbacks   []func(Alert)
	history     []Reading

	maxHistory int
}

// New creates a Monitor polling probe at interval. An interval <= 0 defaults
// to 5 seconds.
func New(probe Probe, interval time.Duration, thresholds Thresholds) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		probe:      probe,
		interval:   interval,
		thresholds: thresholds,
		logger:     slog.Default(),
		level:      pressure.Normal,
		maxHistory: 720,
	}
}

// OnAlert registers a callback invoked whenever the pressure level crosses a
// boundary. Callbacks run on the poll goroutine and must return quickly.
func (m *Monitor) OnAlert(fn func(Alert)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Current returns the last computed pressure level and reading.
func (m *Monitor) Current() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Level:     m.level,
		LevelName: m.level.String(),
		Reading:   m.lastReading,
		Stale:     m.stale,
		SampledAt: m.sampledAt,
	}
}

// Level returns the last computed pressure level.
func (m *Monitor) Level() pressure.Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Run polls the probe until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample()
		}
	}
}

// Sample performs one probe read and updates the derived level. Exposed so
// tests and the status endpoint can force a refresh.
func (m *Monitor) Sample() {
	reading, err := m.probe.Read()

	m.mu.Lock()
	var alerts []Alert
	if err != nil {
		m.staleCount++
		m.stale = true
		m.logger.Warn("probe read failed", "error", err, "consecutive", m.staleCount)
		if m.staleCount >= failSafeStaleReads && m.level != pressure.Critical {
			alerts = m.setLevelLocked(pressure.Critical, "probe unreliable, assuming worst case", true)
		}
	} else {
		m.staleCount = 0
		m.stale = false
		m.lastReading = reading
		m.sampledAt = reading.Timestamp
		if m.sampledAt.IsZero() {
			m.sampledAt = time.Now()
		}
		m.appendHistoryLocked(reading)

		if reading.CPUPct > m.thresholds.CPUElevatedPct {
			m.cpuStreak++
		} else {
			m.cpuStreak = 0
		}

		next := m.classifyLocked(reading)
		if next != m.level {
			alerts = m.setLevelLocked(next, "threshold crossed", false)
		}
	}
	callbacks := make([]func(Alert), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	for _, a := range alerts {
		for _, fn := range callbacks {
			fn(a)
		}
	}
}

// setLevelLocked records a level edge and returns the alert to deliver.
func (m *Monitor) setLevelLocked(next pressure.Level, reason string, stale bool) []Alert {
	a := Alert{From: m.level, To: next, Reason: reason, Stale: stale}
	m.level = next
	m.logger.Info("pressure level changed",
		"from", a.From.String(), "to", a.To.String(), "reason", reason)
	return []Alert{a}
}

func (m *Monitor) classifyLocked(r Reading) pressure.Level {
	level := pressure.Normal

	if r.BatteryPct <= m.thresholds.BatteryCriticalPct {
		level = pressure.Max(level, pressure.Critical)
	} else if r.BatteryPct <= m.thresholds.BatteryLowPct {
		level = pressure.Max(level, pressure.Low)
	}

	if m.cpuStreak >= cpuSustainedSamples {
		level = pressure.Max(level, pressure.Elevated)
	}

	if r.TempC >= m.thresholds.TempCriticalC {
		level = pressure.Max(level, pressure.Critical)
	} else if r.TempC >= m.thresholds.TempElevatedC {
		level = pressure.Max(level, pressure.Elevated)
	}

	return level
}

func (m *Monitor) appendHistoryLocked(r Reading) {
	m.history = append(m.history, r)
	if len(m.history) > m.maxHistory {
		m.history = m.history[len(m.history)-m.maxHistory:]
	}
}

// HealthReport summarizes recent readings for the status surface.
type HealthReport struct {
	Readings      int     `json:"readings"`
	AvgVoltage    float64 `json:"avg_voltage"`
	AvgCPUPct     float64 `json:"avg_cpu_pct"`
	DischargeRate float64 `json:"discharge_rate_pct_per_min"`
}

// Health derives a report from the bounded reading history.
func (m *Monitor) Health() HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	rep := HealthReport{Readings: len(m.history)}
	if len(m.history) == 0 {
		return rep
	}

	var sumV, sumCPU float64
	for _, r := range m.history {
		sumV += r.Voltage
		sumCPU += r.CPUPct
	}
	rep.AvgVoltage = sumV / float64(len(m.history))
	rep.AvgCPUPct = sumCPU / float64(len(m.history))

	first, last := m.history[0], m.history[len(m.history)-1]
	if mins := last.Timestamp.Sub(first.Timestamp).Minutes(); mins > 0 {
		rep.DischargeRate = float64(first.BatteryPct-last.BatteryPct) / mins
	}
	return rep
}
