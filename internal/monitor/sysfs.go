package monitor

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default Linux sysfs/procfs locations for the system probe.
const (
	defaultCapacityPath = "/sys/class/power_supply/battery/capacity"
	defaultVoltagePath  = "/sys/class/power_supply/battery/voltage_now"
	defaultThermalPath  = "/sys/class/thermal/thermal_zone0/temp"
	defaultStatPath     = "/proc/stat"
)

// SysfsProbe reads battery, thermal, and CPU state from the Linux sysfs and
// procfs interfaces. CPU utilization is derived from the delta between
// consecutive /proc/stat samples, so the first read reports 0%.
type SysfsProbe struct {
	CapacityPath string
	VoltagePath  string
	ThermalPath  string
	StatPath     string

	prevIdle  uint64
	prevTotal uint64
}

// NewSysfsProbe creates a probe using the default sysfs paths.
func NewSysfsProbe() *SysfsProbe {
	return &SysfsProbe{
		CapacityPath: defaultCapacityPath,
		VoltagePath:  defaultVoltagePath,
		ThermalPath:  defaultThermalPath,
		StatPath:     defaultStatPath,
	}
}

// Available reports whether the system battery interface exists.
func (p *SysfsProbe) Available() bool {
	_, err := os.Stat(p.CapacityPath)
	return err == nil
}

func (p *SysfsProbe) Read() (Reading, error) {
	capRaw, err := readInt(p.CapacityPath)
	if err != nil {
		return Reading{}, fmt.Errorf("reading battery capacity: %w", err)
	}

	r := Reading{
		BatteryPct: int(capRaw),
		Voltage:    3.7, // nominal fallback when voltage_now is absent
		Timestamp:  time.Now(),
	}

	if uv, err := readInt(p.VoltagePath); err == nil {
		r.Voltage = float64(uv) / 1e6
	}
	if milli, err := readInt(p.ThermalPath); err == nil {
		r.TempC = float64(milli) / 1000
	}
	if cpu, err := p.readCPU(); err == nil {
		r.CPUPct = cpu
	}

	return r, nil
}

// readCPU computes utilization from the aggregate cpu line of /proc/stat.
func (p *SysfsProbe) readCPU() (float64, error) {
	data, err := os.ReadFile(p.StatPath)
	if err != nil {
		return 0, err
	}

	line, _, _ := strings.Cut(string(data), "\n")
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, fmt.Errorf("unexpected /proc/stat format")
	}

	var total, idle uint64
	for i, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing /proc/stat field %d: %w", i+1, err)
		}
		total += v
		if i == 3 { // idle column
			idle = v
		}
	}

	dTotal := total - p.prevTotal
	dIdle := idle - p.prevIdle
	first := p.prevTotal == 0
	p.prevTotal, p.prevIdle = total, idle

	if first || dTotal == 0 {
		return 0, nil
	}
	return float64(dTotal-dIdle) / float64(dTotal) * 100, nil
}

func readInt(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}
