package geo

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// SimulatedProvider is a Provider that drives a fake vehicle around a start
// point: random heading changes, bounded speed. Useful for local runs and
// demos where no real position source exists.
type SimulatedProvider struct {
	Start    RawPosition
	Interval time.Duration

	mu      sync.Mutex
	lat     float64
	lng     float64
	heading float64
	speedMs float64
	started bool
}

func (p *SimulatedProvider) step() RawPosition {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		p.lat = p.Start.Lat
		p.lng = p.Start.Lng
		p.heading = rand.Float64() * 2 * math.Pi
		p.speedMs = 8 + rand.Float64()*6
		p.started = true
	} else {
		if rand.Float64() < 0.1 {
			p.heading += (rand.Float64() - 0.5) * 0.6
		}
		// Roughly meters-to-degrees at city scale.
		dist := p.speedMs * p.Interval.Seconds() / 111000
		p.lat += dist * math.Cos(p.heading)
		p.lng += dist * math.Sin(p.heading) / math.Cos(p.lat*math.Pi/180)
	}

	speed := p.speedMs
	accuracy := 5 + rand.Float64()*10
	headingDeg := math.Mod(p.heading*180/math.Pi+360, 360)
	return RawPosition{
		Lat:       p.lat,
		Lng:       p.lng,
		SpeedMs:   &speed,
		AccuracyM: &accuracy,
		Heading:   &headingDeg,
		Timestamp: time.Now(),
	}
}

func (p *SimulatedProvider) Current(ctx context.Context, opts Options) (RawPosition, error) {
	return p.step(), nil
}

func (p *SimulatedProvider) Watch(opts Options, fn func(RawPosition, error)) (func(), error) {
	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}

	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn(p.step(), nil)
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }, nil
}
