package geo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/safedrive/go-dispatch-client/internal/config"
	"github.com/safedrive/go-dispatch-client/internal/models"
)

type PositionErrorKind string

const (
	PermissionDenied PositionErrorKind = "permission-denied"
	Unavailable      PositionErrorKind = "unavailable"
	Timeout          PositionErrorKind = "timeout"
)

type PositionError struct {
	Kind PositionErrorKind
	Msg  string
}

func (e *PositionError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("position error: %s", e.Kind)
	}
	return fmt.Sprintf("position error: %s: %s", e.Kind, e.Msg)
}

// RawPosition is a fix as delivered by the platform position source. Optional
// fields are pointers: an absent field is nil, matching platforms that omit
// speed or heading.
type RawPosition struct {
	Lat       float64
	Lng       float64
	SpeedMs   *float64
	AccuracyM *float64
	Heading   *float64
	AltitudeM *float64
	Timestamp time.Time
}

type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration
}

// Provider abstracts the platform position source. Watch returns a stop
// function; after stop returns, the callback is never invoked again.
type Provider interface {
	Current(ctx context.Context, opts Options) (RawPosition, error)
	Watch(opts Options, fn func(RawPosition, error)) (stop func(), err error)
}

// Sampler owns the continuous-watch lifecycle and normalizes raw fixes into
// immutable LocationSamples. At most one watch is active per Sampler.
type Sampler struct {
	provider Provider
	opts     Options

	mu     sync.Mutex
	stop   func()
	gen    int
	cached *models.LocationSample
}

func NewSampler(provider Provider, cfg config.GeoConfig) *Sampler {
	return &Sampler{
		provider: provider,
		opts: Options{
			HighAccuracy: cfg.HighAccuracy,
			Timeout:      cfg.OneShotTimeout,
			MaximumAge:   cfg.MaximumAge,
		},
	}
}

// normalize converts a raw platform fix into a canonical sample. Absent
// numeric fields become 0, never NaN.
func normalize(raw RawPosition) models.LocationSample {
	s := models.LocationSample{
		Lat:        raw.Lat,
		Lng:        raw.Lng,
		CapturedAt: raw.Timestamp,
	}
	if raw.SpeedMs != nil && !math.IsNaN(*raw.SpeedMs) {
		s.SpeedKmh = *raw.SpeedMs * 3.6
	}
	if raw.AccuracyM != nil && !math.IsNaN(*raw.AccuracyM) {
		s.AccuracyM = *raw.AccuracyM
	}
	if raw.Heading != nil && !math.IsNaN(*raw.Heading) {
		s.HeadingDeg = *raw.Heading
	}
	if raw.AltitudeM != nil && !math.IsNaN(*raw.AltitudeM) {
		s.AltitudeM = *raw.AltitudeM
	}
	if s.CapturedAt.IsZero() {
		s.CapturedAt = time.Now()
	}
	return s
}

// StartContinuous begins watching and delivers a sample or error to fn on
// every platform update. A second call replaces the prior watch: stacked
// watchers would deliver duplicate callbacks.
func (s *Sampler) StartContinuous(fn func(models.LocationSample, error)) error {
	s.mu.Lock()
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	stop, err := s.provider.Watch(s.opts, func(raw RawPosition, err error) {
		if err != nil {
			fn(models.LocationSample{}, err)
			return
		}
		sample := normalize(raw)

		s.mu.Lock()
		stale := s.gen != gen
		if !stale {
			s.cached = &sample
		}
		s.mu.Unlock()
		if stale {
			// Late delivery from a replaced watch.
			return
		}
		fn(sample, nil)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.gen != gen {
		// Replaced while starting; tear down the watch we just opened.
		s.mu.Unlock()
		stop()
		return nil
	}
	s.stop = stop
	s.mu.Unlock()

	slog.Debug("position watch started", "highAccuracy", s.opts.HighAccuracy)
	return nil
}

// Stop ends the active watch, if any.
func (s *Sampler) Stop() {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.gen++
	s.mu.Unlock()

	if stop != nil {
		stop()
		slog.Debug("position watch stopped")
	}
}

// Watching reports whether a continuous watch is active.
func (s *Sampler) Watching() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

// Once fetches a single fresh fix, bounded by the configured one-shot
// timeout. The failure is always a *PositionError.
func (s *Sampler) Once(ctx context.Context) (models.LocationSample, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	raw, err := s.provider.Current(ctx, s.opts)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return models.LocationSample{}, &PositionError{Kind: Timeout, Msg: "one-shot fix timed out"}
		}
		var perr *PositionError
		if errors.As(err, &perr) {
			return models.LocationSample{}, perr
		}
		return models.LocationSample{}, &PositionError{Kind: Unavailable, Msg: err.Error()}
	}

	sample := normalize(raw)
	s.mu.Lock()
	s.cached = &sample
	s.mu.Unlock()
	return sample, nil
}

// Cached returns the most recent sample, either from the watch or a one-shot
// fix, and whether one exists.
func (s *Sampler) Cached() (models.LocationSample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached == nil {
		return models.LocationSample{}, false
	}
	return *s.cached, true
}
