package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/magpielabs/magpie/config"
)

func TestComputeCPUPercent(t *testing.T) {
	tests := []struct {
		name string
		prev cpu.TimesStat
		cur  cpu.TimesStat
		want float64
	}{
		{
			name: "steady mixed load",
			prev: cpu.TimesStat{User: 100, System: 50, Idle: 800, Iowait: 50},
			cur:  cpu.TimesStat{User: 160, System: 70, Idle: 820, Iowait: 50},
			want: 80,
		},
		{
			name: "iowait counts as idle",
			prev: cpu.TimesStat{User: 100, System: 50, Idle: 800, Iowait: 50},
			cur:  cpu.TimesStat{User: 110, System: 55, Idle: 860, Iowait: 75},
			want: 15,
		},
		{
			name: "steal counts as busy",
			prev: cpu.TimesStat{User: 100, Idle: 900},
			cur:  cpu.TimesStat{User: 100, Idle: 950, Steal: 50},
			want: 50,
		},
		{
			name: "no elapsed time",
			prev: cpu.TimesStat{User: 100, Idle: 900},
			cur:  cpu.TimesStat{User: 100, Idle: 900},
			want: 0,
		},
		{
			name: "counter regression",
			prev: cpu.TimesStat{User: 500, Idle: 900},
			cur:  cpu.TimesStat{User: 100, Idle: 900},
			want: 0,
		},
		{
			name: "fully busy interval",
			prev: cpu.TimesStat{User: 100, Idle: 900},
			cur:  cpu.TimesStat{User: 200, Idle: 900},
			want: 100,
		},
		{
			name: "negative busy clamps to zero",
			prev: cpu.TimesStat{User: 100, System: 50, Idle: 850},
			cur:  cpu.TimesStat{User: 90, System: 50, Idle: 960},
			want: 0,
		},
		{
			name: "busy above hundred clamps",
			prev: cpu.TimesStat{User: 100, Idle: 900},
			cur:  cpu.TimesStat{User: 210, Idle: 890},
			want: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computeCPUPercent(tt.prev, tt.cur)
			if got != tt.want {
				t.Errorf("computeCPUPercent = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCPUTotalExcludesGuest(t *testing.T) {
	stat := cpu.TimesStat{
		User: 1, System: 2, Idle: 3, Nice: 4,
		Iowait: 5, Irq: 6, Softirq: 7, Steal: 8,
		Guest: 100, GuestNice: 100,
	}
	if got := cpuTotal(stat); got != 36 {
		t.Errorf("cpuTotal = %v, want 36 (guest buckets excluded)", got)
	}
}

type fakePausable struct{}

func (fakePausable) Pause(context.Context, string) error           { return nil }
func (fakePausable) Resume(context.Context, string) (bool, error)  { return true, nil }
func (fakePausable) IsPaused(context.Context) bool                 { return false }
func (fakePausable) PausedByCPU(context.Context) bool              { return false }

func TestMonitorStartStop(t *testing.T) {
	m := NewMonitor(fakePausable{}, config.MonitorConfig{
		CPUInterval: time.Hour,
		MemInterval: time.Hour,
	})
	m.Start()
	m.Start() // second Start is a no-op

	done := make(chan struct{})
	go func() {
		m.Stop()
		m.Stop() // as is a second Stop
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
