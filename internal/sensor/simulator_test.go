package sensor

import (
	"testing"
	"time"

	"github.com/obdsim/vecu/internal/clock"
)

func TestEngineStartSequence(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	sim := New(DefaultConfig(), clk, nil)

	if sim.Snapshot().EngineState != EngineOff {
		t.Fatalf("expected engine off initially")
	}

	sim.StartEngine()
	if sim.Snapshot().EngineState != EngineCranking {
		t.Fatalf("expected cranking after StartEngine")
	}

	for i := 0; i < 20 && sim.Snapshot().EngineState == EngineCranking; i++ {
		sim.Tick(100 * time.Millisecond)
	}
	snap := sim.Snapshot()
	if snap.EngineState != EngineRunning {
		t.Fatalf("expected running after cranking completes, got %v", snap.EngineState)
	}
	if snap.RPM != DefaultConfig().RPMIdle {
		t.Fatalf("expected RPM pinned to idle on crank completion, got %.1f", snap.RPM)
	}
}

func TestStartEngineNoopWhenNotOff(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	sim := New(DefaultConfig(), clk, nil)
	sim.StartEngine()
	sim.Tick(2 * time.Second) // now running
	running := sim.Snapshot().EngineState
	sim.StartEngine() // should be a no-op
	if sim.Snapshot().EngineState != running {
		t.Fatalf("StartEngine while running changed state to %v", sim.Snapshot().EngineState)
	}
}

func TestThrottleDrivesRPMUp(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	sim := New(DefaultConfig(), clk, nil)
	sim.StartEngine()
	for sim.Snapshot().EngineState == EngineCranking {
		sim.Tick(100 * time.Millisecond)
	}
	idleRPM := sim.Snapshot().RPM

	sim.SetThrottle(100)
	for i := 0; i < 50; i++ {
		sim.Tick(100 * time.Millisecond)
	}
	if sim.Snapshot().RPM <= idleRPM {
		t.Fatalf("expected RPM to climb under full throttle, idle=%.1f now=%.1f", idleRPM, sim.Snapshot().RPM)
	}
}

func TestOffStateCoolsDownAndZeroesRunningFields(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	sim := New(DefaultConfig(), clk, nil)
	sim.StartEngine()
	for sim.Snapshot().EngineState == EngineCranking {
		sim.Tick(100 * time.Millisecond)
	}
	sim.SetThrottle(80)
	for i := 0; i < 100; i++ {
		sim.Tick(100 * time.Millisecond)
	}
	warmSnap := sim.Snapshot()
	if warmSnap.CoolantTemp <= DefaultConfig().AmbientTemp {
		t.Fatalf("expected coolant to warm up while running")
	}

	sim.StopEngine()
	sim.Tick(time.Second)
	offSnap := sim.Snapshot()
	if offSnap.RPM != 0 || offSnap.VehicleSpeed != 0 || offSnap.EngineLoad != 0 {
		t.Fatalf("expected running fields zeroed when off, got %+v", offSnap)
	}
	if offSnap.CoolantTemp >= warmSnap.CoolantTemp {
		t.Fatalf("expected coolant to start cooling once off")
	}
}

func TestReadinessMonitorsCompleteOverTime(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	sim := New(DefaultConfig(), clk, nil)
	sim.StartEngine()
	for sim.Snapshot().EngineState == EngineCranking {
		sim.Tick(100 * time.Millisecond)
	}
	sim.SetThrottle(40)
	for i := 0; i < 700; i++ { // 70s simulated running time
		sim.Tick(100 * time.Millisecond)
	}
	dc := sim.DriveCycle()
	if !dc.ComponentMonitorComplete {
		t.Error("expected component monitor complete after 70s running")
	}
	if !dc.MisfireMonitorComplete {
		t.Error("expected misfire monitor complete after 70s running")
	}
}

func TestResetClearCountersPreservesLiveState(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	sim := New(DefaultConfig(), clk, nil)
	sim.StartEngine()
	for sim.Snapshot().EngineState == EngineCranking {
		sim.Tick(100 * time.Millisecond)
	}
	sim.SetThrottle(50)
	sim.SetMIL(true)
	for i := 0; i < 50; i++ {
		sim.Tick(100 * time.Millisecond)
	}
	before := sim.Snapshot()
	if before.DistanceWithMIL <= 0 {
		t.Fatalf("expected distance with MIL to accumulate while MIL is on, got %.4f", before.DistanceWithMIL)
	}

	sim.ResetClearCounters()
	after := sim.Snapshot()

	if after.DistanceSinceClear != 0 {
		t.Errorf("expected distance since clear reset to 0, got %.4f", after.DistanceSinceClear)
	}
	if after.DistanceWithMIL != 0 {
		t.Errorf("expected distance with MIL reset to 0, got %.4f", after.DistanceWithMIL)
	}
	if after.WarmupsSinceClear != 0 {
		t.Errorf("expected warmups since clear reset to 0, got %d", after.WarmupsSinceClear)
	}
	if after.RPM != before.RPM || after.EngineState != before.EngineState {
		t.Error("expected ResetClearCounters to leave live engine state untouched")
	}
	dc := sim.DriveCycle()
	if dc.ComponentMonitorComplete || dc.MisfireMonitorComplete {
		t.Error("expected drive cycle monitors reset")
	}
}

func TestCompletionMaskBitLayout(t *testing.T) {
	var dc DriveCycle
	dc.MisfireMonitorComplete = true
	dc.EGRSystemMonitorComplete = true
	mask := dc.CompletionMask()
	if mask != (1<<0)|(1<<9) {
		t.Fatalf("unexpected mask: %#x", mask)
	}
}
