// Package tracking broadcasts the driver's position: throttled realtime
// emits plus asynchronous uploads to the location API.
package tracking

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/safedrive/go-dispatch-client/internal/config"
	"github.com/safedrive/go-dispatch-client/internal/models"
	"github.com/safedrive/go-dispatch-client/internal/realtime"
	"github.com/safedrive/go-dispatch-client/internal/worker"
)

// Sampler is the continuous position source feeding the tracker.
type Sampler interface {
	StartContinuous(fn func(models.LocationSample, error)) error
	Stop()
}

// Channel is the emit surface for location broadcasts.
type Channel interface {
	Emit(event string, payload any)
}

// Uploader persists location fixes through the Backend API.
type Uploader interface {
	UpdateLocation(ctx context.Context, loc models.DriverLocation) error
}

// Tracker consumes position samples, throttles them to the configured
// interval, emits location-update frames and uploads fixes via a worker pool.
type Tracker struct {
	sampler  Sampler
	channel  Channel
	uploader Uploader
	cfg      config.TrackingConfig

	mu       sync.Mutex
	driverID string
	lastSent time.Time
	pool     *worker.Pool[models.DriverLocation]
	cancel   context.CancelFunc
}

func NewTracker(sampler Sampler, channel Channel, uploader Uploader, cfg config.TrackingConfig) *Tracker {
	return &Tracker{
		sampler:  sampler,
		channel:  channel,
		uploader: uploader,
		cfg:      cfg,
	}
}

// Start begins tracking the driver. A second Start replaces the first; the
// sampler guarantees the prior watch is stopped before the new one begins.
func (t *Tracker) Start(ctx context.Context, driverID string) error {
	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		t.stopLocked()
		t.mu.Lock()
	}

	poolCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.driverID = driverID
	t.lastSent = time.Time{}
	t.pool = worker.NewPool(t.cfg.WorkerCount, t.cfg.UploadBuffer, t.upload)
	t.pool.Start(poolCtx)
	pool := t.pool
	t.mu.Unlock()

	if err := t.sampler.StartContinuous(t.onSample); err != nil {
		cancel()
		pool.Stop()
		t.mu.Lock()
		t.cancel = nil
		t.pool = nil
		t.mu.Unlock()
		return err
	}

	t.channel.Emit(realtime.EventStartTracking, driverID)
	slog.Info("tracking started", "driver", driverID, "interval", t.cfg.Interval)
	return nil
}

// Stop ends tracking and drains pending uploads.
func (t *Tracker) Stop() {
	t.stopLocked()
}

func (t *Tracker) stopLocked() {
	t.mu.Lock()
	cancel := t.cancel
	pool := t.pool
	driverID := t.driverID
	t.cancel = nil
	t.pool = nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}

	t.sampler.Stop()
	t.channel.Emit(realtime.EventStopTracking, driverID)
	pool.Stop()
	cancel()
	slog.Info("tracking stopped", "driver", driverID)
}

func (t *Tracker) onSample(sample models.LocationSample, err error) {
	if err != nil {
		slog.Warn("position sample failed", "error", err)
		return
	}

	t.mu.Lock()
	if t.pool == nil {
		t.mu.Unlock()
		return
	}
	if time.Since(t.lastSent) < t.cfg.Interval {
		t.mu.Unlock()
		return
	}
	t.lastSent = time.Now()
	driverID := t.driverID
	pool := t.pool
	t.mu.Unlock()

	loc := models.DriverLocation{
		DriverID:   driverID,
		Lat:        sample.Lat,
		Lng:        sample.Lng,
		SpeedKmh:   sample.SpeedKmh,
		HeadingDeg: sample.HeadingDeg,
		AccuracyM:  sample.AccuracyM,
		Timestamp:  sample.CapturedAt,
	}

	t.channel.Emit(realtime.EventLocationUpdate, loc)
	pool.Submit(loc)
}

func (t *Tracker) upload(ctx context.Context, loc models.DriverLocation) error {
	if err := t.uploader.UpdateLocation(ctx, loc); err != nil {
		slog.Warn("location upload failed", "driver", loc.DriverID, "error", err)
		return err
	}
	return nil
}
