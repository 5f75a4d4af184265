package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/safedrive/go-dispatch-client/internal/config"
	"github.com/safedrive/go-dispatch-client/internal/models"
	"github.com/safedrive/go-dispatch-client/internal/realtime"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSampler struct {
	mu       sync.Mutex
	fn       func(models.LocationSample, error)
	starts   int
	stops    int
	startErr error
}

func (f *fakeSampler) StartContinuous(fn func(models.LocationSample, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	f.fn = fn
	return nil
}

func (f *fakeSampler) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakeSampler) deliver(sample models.LocationSample) {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		fn(sample, nil)
	}
}

type emitRecord struct {
	event   string
	payload any
}

type fakeChannel struct {
	mu    sync.Mutex
	emits []emitRecord
}

func (f *fakeChannel) Emit(event string, payload any) {
	f.mu.Lock()
	f.emits = append(f.emits, emitRecord{event, payload})
	f.mu.Unlock()
}

func (f *fakeChannel) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.emits))
	for i, e := range f.emits {
		out[i] = e.event
	}
	return out
}

type fakeUploader struct {
	mu      sync.Mutex
	uploads []models.DriverLocation
}

func (f *fakeUploader) UpdateLocation(_ context.Context, loc models.DriverLocation) error {
	f.mu.Lock()
	f.uploads = append(f.uploads, loc)
	f.mu.Unlock()
	return nil
}

func (f *fakeUploader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

func testTrackingConfig(interval time.Duration) config.TrackingConfig {
	return config.TrackingConfig{
		Interval:     interval,
		WorkerCount:  1,
		UploadBuffer: 8,
	}
}

func sampleAt(lat, lng float64) models.LocationSample {
	return models.LocationSample{Lat: lat, Lng: lng, SpeedKmh: 50, CapturedAt: time.Now()}
}

func TestTracker_StartEmitsAndUploads(t *testing.T) {
	sampler := &fakeSampler{}
	channel := &fakeChannel{}
	uploader := &fakeUploader{}
	tracker := NewTracker(sampler, channel, uploader, testTrackingConfig(time.Millisecond))

	if err := tracker.Start(context.Background(), "D1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	sampler.deliver(sampleAt(-1.28, 36.81))
	tracker.Stop()

	events := channel.events()
	if events[0] != realtime.EventStartTracking {
		t.Errorf("first emit should announce tracking, got %v", events)
	}
	found := false
	for _, e := range events {
		if e == realtime.EventLocationUpdate {
			found = true
		}
	}
	if !found {
		t.Errorf("no location-update emitted: %v", events)
	}
	if events[len(events)-1] != realtime.EventStopTracking {
		t.Errorf("stop should announce, got %v", events)
	}

	if uploader.count() != 1 {
		t.Errorf("expected 1 upload, got %d", uploader.count())
	}
	uploader.mu.Lock()
	loc := uploader.uploads[0]
	uploader.mu.Unlock()
	if loc.DriverID != "D1" || loc.Lat != -1.28 {
		t.Errorf("bad upload payload: %+v", loc)
	}
}

func TestTracker_ThrottlesToInterval(t *testing.T) {
	sampler := &fakeSampler{}
	channel := &fakeChannel{}
	uploader := &fakeUploader{}
	tracker := NewTracker(sampler, channel, uploader, testTrackingConfig(time.Hour))

	if err := tracker.Start(context.Background(), "D1"); err != nil {
		t.Fatal(err)
	}
	sampler.deliver(sampleAt(1, 1))
	sampler.deliver(sampleAt(2, 2))
	sampler.deliver(sampleAt(3, 3))
	tracker.Stop()

	if got := uploader.count(); got != 1 {
		t.Errorf("interval throttle should pass 1 sample, got %d", got)
	}
}

func TestTracker_SampleErrorsAreSkipped(t *testing.T) {
	sampler := &fakeSampler{}
	channel := &fakeChannel{}
	uploader := &fakeUploader{}
	tracker := NewTracker(sampler, channel, uploader, testTrackingConfig(time.Millisecond))

	if err := tracker.Start(context.Background(), "D1"); err != nil {
		t.Fatal(err)
	}
	sampler.fn(models.LocationSample{}, errors.New("gps glitch"))
	tracker.Stop()

	if uploader.count() != 0 {
		t.Error("errored samples must not upload")
	}
}

func TestTracker_StartFailurePropagates(t *testing.T) {
	sampler := &fakeSampler{startErr: errors.New("no position source")}
	tracker := NewTracker(sampler, &fakeChannel{}, &fakeUploader{}, testTrackingConfig(time.Second))

	if err := tracker.Start(context.Background(), "D1"); err == nil {
		t.Fatal("expected start to fail")
	}
	// A failed start leaves nothing running; Stop is a no-op.
	tracker.Stop()
}

func TestTracker_RestartReplacesSession(t *testing.T) {
	sampler := &fakeSampler{}
	channel := &fakeChannel{}
	uploader := &fakeUploader{}
	tracker := NewTracker(sampler, channel, uploader, testTrackingConfig(time.Millisecond))

	if err := tracker.Start(context.Background(), "D1"); err != nil {
		t.Fatal(err)
	}
	if err := tracker.Start(context.Background(), "D2"); err != nil {
		t.Fatal(err)
	}
	tracker.Stop()

	sampler.mu.Lock()
	starts, stops := sampler.starts, sampler.stops
	sampler.mu.Unlock()
	if starts != 2 {
		t.Errorf("expected 2 sampler starts, got %d", starts)
	}
	// First session's stop plus the final Stop.
	if stops != 2 {
		t.Errorf("expected 2 sampler stops, got %d", stops)
	}
}

func TestTracker_StopWithoutStartIsNoop(t *testing.T) {
	tracker := NewTracker(&fakeSampler{}, &fakeChannel{}, &fakeUploader{}, testTrackingConfig(time.Second))
	tracker.Stop()
}

// gatedChannel stalls location-update emits until the test releases them,
// pinning a sample delivery between the pool capture and the upload submit.
type gatedChannel struct {
	fakeChannel
	entered   chan struct{}
	gate      chan struct{}
	enterOnce sync.Once
}

func (g *gatedChannel) Emit(event string, payload any) {
	if event == realtime.EventLocationUpdate {
		g.enterOnce.Do(func() { close(g.entered) })
		<-g.gate
	}
	g.fakeChannel.Emit(event, payload)
}

func TestTracker_StopDuringSampleDeliveryDropsUpload(t *testing.T) {
	sampler := &fakeSampler{}
	channel := &gatedChannel{entered: make(chan struct{}), gate: make(chan struct{})}
	uploader := &fakeUploader{}
	tracker := NewTracker(sampler, channel, uploader, testTrackingConfig(time.Millisecond))

	if err := tracker.Start(context.Background(), "D1"); err != nil {
		t.Fatal(err)
	}

	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		sampler.deliver(sampleAt(1, 1))
	}()

	select {
	case <-channel.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("sample never reached the emit")
	}

	// Stop lands while the delivery holds a reference to the pool; the
	// late submit must be dropped, not panic on the closed channel.
	tracker.Stop()
	close(channel.gate)

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("sample delivery never returned")
	}
	if uploader.count() != 0 {
		t.Errorf("upload after stop should be dropped, got %d", uploader.count())
	}
}

func TestTracker_SamplesAfterStopIgnored(t *testing.T) {
	sampler := &fakeSampler{}
	channel := &fakeChannel{}
	uploader := &fakeUploader{}
	tracker := NewTracker(sampler, channel, uploader, testTrackingConfig(time.Millisecond))

	if err := tracker.Start(context.Background(), "D1"); err != nil {
		t.Fatal(err)
	}
	tracker.Stop()
	sampler.deliver(sampleAt(1, 1))

	if uploader.count() != 0 {
		t.Error("samples after Stop must be dropped")
	}
}
