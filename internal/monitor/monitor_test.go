package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/optic-one/opticd/internal/pressure"
)

// scriptedProbe returns its readings (or errors) in order, repeating the
// last one when exhausted.
type scriptedProbe struct {
	readings []Reading
	errs     []error
	idx      int
}

func (p *scriptedProbe) Read() (Reading, error) {
	i := p.idx
	if i >= len(p.readings) {
		i = len(p.readings) - 1
	}
	p.idx++
	if i < len(p.errs) && p.errs[i] != nil {
		return Reading{}, p.errs[i]
	}
	return p.readings[i], nil
}

func reading(battery int, cpu, temp float64) Reading {
	return Reading{BatteryPct: battery, Voltage: 3.7, CPUPct: cpu, TempC: temp, Timestamp: time.Now()}
}

func newTestMonitor(p Probe) *Monitor {
	return New(p, time.Second, DefaultThresholds())
}

func TestClassifyBattery(t *testing.T) {
	tests := []struct {
		name    string
		battery int
		want    pressure.Level
	}{
		{"healthy", 80, pressure.Normal},
		{"low", 15, pressure.Low},
		{"low boundary", 20, pressure.Low},
		{"critical", 8, pressure.Critical},
		{"critical boundary", 10, pressure.Critical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMonitor(&scriptedProbe{readings: []Reading{reading(tt.battery, 10, 40)}})
			m.Sample()
			if got := m.Level(); got != tt.want {
				t.Errorf("level = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyTemperature(t *testing.T) {
	m := newTestMonitor(&scriptedProbe{readings: []Reading{reading(90, 10, 85)}})
	m.Sample()
	if got := m.Level(); got != pressure.Critical {
		t.Errorf("level at 85C = %v, want Critical", got)
	}
}

// TestCPUSustained verifies a single CPU spike does not raise pressure but a
// sustained run does.
func TestCPUSustained(t *testing.T) {
	m := newTestMonitor(&scriptedProbe{readings: []Reading{
		reading(90, 95, 40),
		reading(90, 95, 40),
		reading(90, 20, 40),
	}})

	m.Sample()
	if got := m.Level(); got != pressure.Normal {
		t.Errorf("level after one spike = %v, want Normal", got)
	}

	m.Sample()
	if got := m.Level(); got != pressure.Elevated {
		t.Errorf("level after sustained load = %v, want Elevated", got)
	}

	m.Sample()
	if got := m.Level(); got != pressure.Normal {
		t.Errorf("level after load drops = %v, want Normal", got)
	}
}

// TestProbeFailureFailSafe checks the three-strikes escalation: with prior
// pressure Normal, three consecutive probe failures force Critical and fire
// the Normal→Critical alert exactly once.
func TestProbeFailureFailSafe(t *testing.T) {
	errRead := errors.New("i2c read failed")
	m := newTestMonitor(&scriptedProbe{
		readings: []Reading{reading(80, 10, 40), {}, {}, {}},
		errs:     []error{nil, errRead, errRead, errRead},
	})

	var alerts []Alert
	m.OnAlert(func(a Alert) { alerts = append(alerts, a) })

	m.Sample() // healthy baseline
	m.Sample() // failure 1
	m.Sample() // failure 2
	if got := m.Level(); got != pressure.Normal {
		t.Fatalf("level after 2 failures = %v, want Normal (last known)", got)
	}
	if !m.Current().Stale {
		t.Error("snapshot should be marked stale after a failed read")
	}

	m.Sample() // failure 3: fail-safe
	if got := m.Level(); got != pressure.Critical {
		t.Fatalf("level after 3 failures = %v, want Critical", got)
	}

	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want exactly 1", len(alerts))
	}
	if alerts[0].From != pressure.Normal || alerts[0].To != pressure.Critical {
		t.Errorf("alert edge = %v→%v, want Normal→Critical", alerts[0].From, alerts[0].To)
	}
	if !alerts[0].Stale {
		t.Error("fail-safe alert should be marked stale")
	}
}

// TestAlertEdgeBothDirections verifies alerts fire on recovery too, and only
// on actual level changes.
func TestAlertEdgeBothDirections(t *testing.T) {
	m := newTestMonitor(&scriptedProbe{readings: []Reading{
		reading(80, 10, 40), // Normal
		reading(15, 10, 40), // Low
		reading(15, 10, 40), // still Low: no alert
		reading(80, 10, 40), // back to Normal
	}})

	var alerts []Alert
	m.OnAlert(func(a Alert) { alerts = append(alerts, a) })

	for i := 0; i < 4; i++ {
		m.Sample()
	}

	if len(alerts) != 2 {
		t.Fatalf("got %d alerts, want 2 (one per edge)", len(alerts))
	}
	if alerts[0].From != pressure.Normal || alerts[0].To != pressure.Low {
		t.Errorf("first alert = %v→%v, want Normal→Low", alerts[0].From, alerts[0].To)
	}
	if alerts[1].From != pressure.Low || alerts[1].To != pressure.Normal {
		t.Errorf("second alert = %v→%v, want Low→Normal", alerts[1].From, alerts[1].To)
	}
}

func TestRecoveryAfterStale(t *testing.T) {
	errRead := errors.New("probe gone")
	m := newTestMonitor(&scriptedProbe{
		readings: []Reading{{}, {}, {}, reading(80, 10, 40)},
		errs:     []error{errRead, errRead, errRead, nil},
	})

	for i := 0; i < 4; i++ {
		m.Sample()
	}

	if got := m.Level(); got != pressure.Normal {
		t.Errorf("level after recovery = %v, want Normal", got)
	}
	if m.Current().Stale {
		t.Error("snapshot should no longer be stale after a good read")
	}
}

func TestHealthReport(t *testing.T) {
	base := time.Now()
	m := newTestMonitor(&scriptedProbe{readings: []Reading{
		{BatteryPct: 80, Voltage: 3.8, CPUPct: 20, Timestamp: base},
		{BatteryPct: 78, Voltage: 3.6, CPUPct: 40, Timestamp: base.Add(2 * time.Minute)},
	}})
	m.Sample()
	m.Sample()

	rep := m.Health()
	if rep.Readings != 2 {
		t.Fatalf("readings = %d, want 2", rep.Readings)
	}
	if rep.AvgVoltage < 3.69 || rep.AvgVoltage > 3.71 {
		t.Errorf("avg voltage = %f, want 3.7", rep.AvgVoltage)
	}
	if rep.DischargeRate != 1 {
		t.Errorf("discharge rate = %f %%/min, want 1", rep.DischargeRate)
	}
}

func TestSimProbe(t *testing.T) {
	p := NewSimProbe(50)
	r, err := p.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if r.BatteryPct > 50 || r.BatteryPct < 49 {
		t.Errorf("battery = %d, want 49-50", r.BatteryPct)
	}
}
