package geo

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSimulatedProvider_CurrentStartsAtOrigin(t *testing.T) {
	p := &SimulatedProvider{
		Start:    RawPosition{Lat: -1.2864, Lng: 36.8172},
		Interval: 10 * time.Millisecond,
	}

	raw, err := p.Current(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if raw.Lat != -1.2864 || raw.Lng != 36.8172 {
		t.Errorf("first fix should be the start point: %f,%f", raw.Lat, raw.Lng)
	}
	if raw.SpeedMs == nil || *raw.SpeedMs <= 0 {
		t.Error("simulated fix should carry a speed")
	}
}

func TestSimulatedProvider_WatchDeliversAndStops(t *testing.T) {
	p := &SimulatedProvider{
		Start:    RawPosition{Lat: -1.2864, Lng: 36.8172},
		Interval: 5 * time.Millisecond,
	}

	var delivered atomic.Int64
	stop, err := p.Watch(Options{}, func(raw RawPosition, err error) {
		if err != nil {
			t.Errorf("unexpected watch error: %v", err)
			return
		}
		delivered.Add(1)
	})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for delivered.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("watch never delivered")
		case <-time.After(time.Millisecond):
		}
	}

	stop()
	after := delivered.Load()
	time.Sleep(25 * time.Millisecond)
	// One in-flight tick may land after stop; the stream must not continue.
	if delivered.Load() > after+1 {
		t.Errorf("watch kept delivering after stop: %d -> %d", after, delivered.Load())
	}

	// Stopping twice is harmless.
	stop()
}

func TestSimulatedProvider_VehicleMoves(t *testing.T) {
	p := &SimulatedProvider{
		Start:    RawPosition{Lat: -1.2864, Lng: 36.8172},
		Interval: 100 * time.Millisecond,
	}
	ctx := context.Background()

	first, _ := p.Current(ctx, Options{})
	var moved bool
	for i := 0; i < 50; i++ {
		next, _ := p.Current(ctx, Options{})
		if next.Lat != first.Lat || next.Lng != first.Lng {
			moved = true
			break
		}
	}
	if !moved {
		t.Error("simulated vehicle never moved")
	}
}
