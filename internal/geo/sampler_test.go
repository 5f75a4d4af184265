package geo

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/safedrive/go-dispatch-client/internal/config"
	"github.com/safedrive/go-dispatch-client/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeProvider is a scriptable position source.
type fakeProvider struct {
	mu      sync.Mutex
	current func(ctx context.Context) (RawPosition, error)
	watches int
	stops   int
	fn      func(RawPosition, error)
}

func (f *fakeProvider) Current(ctx context.Context, _ Options) (RawPosition, error) {
	if f.current != nil {
		return f.current(ctx)
	}
	return RawPosition{Lat: 1, Lng: 2}, nil
}

func (f *fakeProvider) Watch(_ Options, fn func(RawPosition, error)) (func(), error) {
	f.mu.Lock()
	f.watches++
	f.fn = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.stops++
		f.mu.Unlock()
	}, nil
}

func (f *fakeProvider) deliver(raw RawPosition) {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		fn(raw, nil)
	}
}

func testGeoConfig() config.GeoConfig {
	return config.GeoConfig{
		HighAccuracy:   true,
		OneShotTimeout: 50 * time.Millisecond,
	}
}

func TestNormalize_MissingFieldsBecomeZero(t *testing.T) {
	s := normalize(RawPosition{Lat: -1.28, Lng: 36.81, Timestamp: time.Now()})
	if s.SpeedKmh != 0 || s.AccuracyM != 0 || s.HeadingDeg != 0 || s.AltitudeM != 0 {
		t.Errorf("absent fields must normalize to zero: %+v", s)
	}
}

func TestNormalize_NaNBecomesZero(t *testing.T) {
	nan := math.NaN()
	s := normalize(RawPosition{Lat: 1, Lng: 2, SpeedMs: &nan, Heading: &nan})
	if math.IsNaN(s.SpeedKmh) || math.IsNaN(s.HeadingDeg) {
		t.Error("NaN leaked through normalization")
	}
	if s.SpeedKmh != 0 {
		t.Errorf("NaN speed should become 0, got %f", s.SpeedKmh)
	}
}

func TestNormalize_SpeedConvertedToKmh(t *testing.T) {
	ms := 10.0
	s := normalize(RawPosition{Lat: 1, Lng: 2, SpeedMs: &ms})
	if math.Abs(s.SpeedKmh-36) > 1e-9 {
		t.Errorf("10 m/s should be 36 km/h, got %f", s.SpeedKmh)
	}
}

func TestSampler_StartContinuousReplacesWatch(t *testing.T) {
	provider := &fakeProvider{}
	sampler := NewSampler(provider, testGeoConfig())

	var mu sync.Mutex
	var got []float64

	if err := sampler.StartContinuous(func(s models.LocationSample, err error) {
		mu.Lock()
		got = append(got, s.Lat)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("first start: %v", err)
	}
	firstFn := provider.fn

	if err := sampler.StartContinuous(func(s models.LocationSample, err error) {
		mu.Lock()
		got = append(got, s.Lat)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("second start: %v", err)
	}

	provider.mu.Lock()
	watches, stops := provider.watches, provider.stops
	provider.mu.Unlock()
	if watches != 2 {
		t.Errorf("expected 2 watches, got %d", watches)
	}
	if stops != 1 {
		t.Errorf("first watch should have been stopped, got %d stops", stops)
	}

	// A late callback from the replaced watch must be silenced.
	firstFn(RawPosition{Lat: 99, Lng: 99}, nil)
	provider.deliver(RawPosition{Lat: 5, Lng: 6})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != 5 {
		t.Errorf("expected only the live watch to deliver, got %v", got)
	}
}

func TestSampler_StopEndsWatch(t *testing.T) {
	provider := &fakeProvider{}
	sampler := NewSampler(provider, testGeoConfig())

	if err := sampler.StartContinuous(func(models.LocationSample, error) {}); err != nil {
		t.Fatal(err)
	}
	if !sampler.Watching() {
		t.Error("expected Watching after start")
	}

	sampler.Stop()
	if sampler.Watching() {
		t.Error("expected not Watching after stop")
	}
	provider.mu.Lock()
	defer provider.mu.Unlock()
	if provider.stops != 1 {
		t.Errorf("expected stop to reach provider, got %d", provider.stops)
	}
}

func TestSampler_OnceTimeoutIsPositionError(t *testing.T) {
	provider := &fakeProvider{
		current: func(ctx context.Context) (RawPosition, error) {
			<-ctx.Done()
			return RawPosition{}, ctx.Err()
		},
	}
	sampler := NewSampler(provider, testGeoConfig())

	_, err := sampler.Once(context.Background())
	var perr *PositionError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *PositionError, got %T: %v", err, err)
	}
	if perr.Kind != Timeout {
		t.Errorf("expected Timeout kind, got %s", perr.Kind)
	}
}

func TestSampler_OnceWrapsForeignErrors(t *testing.T) {
	provider := &fakeProvider{
		current: func(ctx context.Context) (RawPosition, error) {
			return RawPosition{}, errors.New("gps chip offline")
		},
	}
	sampler := NewSampler(provider, testGeoConfig())

	_, err := sampler.Once(context.Background())
	var perr *PositionError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *PositionError, got %T: %v", err, err)
	}
	if perr.Kind != Unavailable {
		t.Errorf("expected Unavailable kind, got %s", perr.Kind)
	}
}

func TestSampler_OncePreservesProviderPositionError(t *testing.T) {
	provider := &fakeProvider{
		current: func(ctx context.Context) (RawPosition, error) {
			return RawPosition{}, &PositionError{Kind: PermissionDenied, Msg: "user declined"}
		},
	}
	sampler := NewSampler(provider, testGeoConfig())

	_, err := sampler.Once(context.Background())
	var perr *PositionError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *PositionError, got %T: %v", err, err)
	}
	if perr.Kind != PermissionDenied {
		t.Errorf("expected PermissionDenied kind, got %s", perr.Kind)
	}
}

func TestSampler_OncePopulatesCache(t *testing.T) {
	provider := &fakeProvider{}
	sampler := NewSampler(provider, testGeoConfig())

	if _, ok := sampler.Cached(); ok {
		t.Fatal("cache should start empty")
	}
	sample, err := sampler.Once(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	cached, ok := sampler.Cached()
	if !ok {
		t.Fatal("expected cached sample after Once")
	}
	if cached.Lat != sample.Lat || cached.Lng != sample.Lng {
		t.Errorf("cache mismatch: %+v vs %+v", cached, sample)
	}
}
