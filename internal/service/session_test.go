package service

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-coverage/internal/styles"
)

const testDebounce = 20 * time.Millisecond

type harness struct {
	backend  *fakeBackend
	base     *fakeMap
	renderer *fakeRenderer
	sink     *fakeSink
	bus      *EventBus
	session  *Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		backend: &fakeBackend{
			process: func() (*IngestResult, error) {
				return &IngestResult{Handle: "cache-1", Collections: collections("ingest", 3, 9, 5)}, nil
			},
			newBuffer: func(buffer int) (*Collections, error) {
				c := collections("buffer", 1, 2, 40)
				return &c, nil
			},
			clusters: func() (*geojson.FeatureCollection, error) {
				return geojson.NewFeatureCollection(), nil
			},
		},
		base:     newFakeMap(),
		renderer: &fakeRenderer{},
		sink:     &fakeSink{},
		bus:      NewEventBus(),
	}
	h.session = NewSession(Config{
		Backend:  h.backend,
		Map:      h.base,
		Renderer: h.renderer,
		Errors:   h.sink,
		Bus:      h.bus,
		Scheme:   styles.DefaultScheme(),
		Debounce: testDebounce,
	})
	t.Cleanup(h.session.Close)
	return h
}

func (h *harness) ingest(t *testing.T) {
	t.Helper()
	err := h.session.Ingest(context.Background(),
		&Upload{Name: "gtfs.zip", Body: strings.NewReader("gtfs")},
		&Upload{Name: "pop.csv", Body: strings.NewReader("pop")})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestIngestScenario(t *testing.T) {
	h := newHarness(t)
	h.ingest(t)

	if got := h.session.Handle(); got != "cache-1" {
		t.Fatalf("handle = %q, want cache-1", got)
	}
	if n := h.session.Registry().Len(); n != 3 {
		t.Fatalf("registry has %d layers, want 3", n)
	}
	fly, ok := h.base.lastFly()
	if !ok {
		t.Fatal("camera did not move")
	}
	if fly.Longitude != 2 || fly.Latitude != 2 || fly.Zoom != DefaultZoom {
		t.Fatalf("fly to %+v, want (2,2) zoom %d", fly, DefaultZoom)
	}
	ids := LayerIDs(h.renderer.lastLayers())
	want := []string{LayerCoverageArea, LayerStops, LayerPopulation}
	if strings.Join(ids, ",") != strings.Join(want, ",") {
		t.Fatalf("rendered %v, want %v", ids, want)
	}
	panels := h.session.Panels()
	for _, p := range []string{PanelLegend, PanelSliders, PanelLayerControl, PanelLayerButton} {
		if !panels[p] {
			t.Errorf("panel %s not revealed", p)
		}
	}
	if panels[PanelUpload] {
		t.Error("upload form still visible")
	}

	// drag 200 -> 500 and release
	h.session.DragBuffer("200")
	h.session.DragBuffer("350")
	h.session.DragBuffer("500")
	if calls := h.backend.buffers(); len(calls) != 0 {
		t.Fatalf("drag reached the backend: %v", calls)
	}
	h.session.CommitBuffer("500")

	waitFor(t, func() bool {
		l, ok := h.session.Registry().Get(LayerStops)
		return ok && tagOf(l) == "buffer"
	})
	time.Sleep(3 * testDebounce)
	if calls := h.backend.buffers(); len(calls) != 1 || calls[0] != 500 {
		t.Fatalf("buffer calls = %v, want [500]", calls)
	}
	for _, name := range []string{LayerStops, LayerCoverageArea, LayerPopulation} {
		l, _ := h.session.Registry().Get(name)
		if name == LayerStops && tagOf(l) != "buffer" {
			t.Errorf("%s not replaced", name)
		}
	}
	fly, _ = h.base.lastFly()
	if fly.Longitude != 3 || fly.Latitude != 3 {
		t.Fatalf("re-centered on %+v, want (3,3)", fly)
	}
}

func TestIngestRequiresBothFiles(t *testing.T) {
	h := newHarness(t)

	err := h.session.Ingest(context.Background(), &Upload{Name: "gtfs.zip"}, nil)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if h.backend.processCalls != 0 {
		t.Fatal("request sent without both files")
	}
	if msgs := h.sink.all(); len(msgs) != 1 || msgs[0] != MsgMissingFiles {
		t.Fatalf("errors shown = %v", msgs)
	}
}

func TestIngestApplicationErrorLeavesStateUntouched(t *testing.T) {
	h := newHarness(t)
	h.backend.process = func() (*IngestResult, error) {
		return nil, &ApplicationError{Messages: []string{"bad gtfs", "bad population"}}
	}

	err := h.session.Ingest(context.Background(), &Upload{}, &Upload{})
	if err == nil {
		t.Fatal("expected error")
	}
	if h.session.Handle() != "" || h.session.Registry().Len() != 0 {
		t.Fatal("state mutated on failure")
	}
	if !h.session.Panels()[PanelUpload] {
		t.Fatal("upload form hidden after failure")
	}
	msgs := h.sink.all()
	if strings.Join(msgs, "\n") != "bad gtfs\nbad population" {
		t.Fatalf("errors shown = %q", msgs)
	}
}

func TestIngestEmptyPopulationFallsBack(t *testing.T) {
	h := newHarness(t)
	h.backend.process = func() (*IngestResult, error) {
		return &IngestResult{Handle: "c", Collections: collections("empty")}, nil
	}
	h.ingest(t)

	fly, _ := h.base.lastFly()
	if fly.Longitude != DefaultCenter.Lon() || fly.Latitude != DefaultCenter.Lat() {
		t.Fatalf("fly to %+v, want default centre", fly)
	}
}

func TestDebounceCoalescesCommits(t *testing.T) {
	h := newHarness(t)
	h.ingest(t)

	for _, v := range []string{"200", "300", "400", "450"} {
		h.session.CommitBuffer(v)
	}
	waitFor(t, func() bool { return len(h.backend.buffers()) == 1 })
	time.Sleep(3 * testDebounce)

	if calls := h.backend.buffers(); len(calls) != 1 || calls[0] != 450 {
		t.Fatalf("buffer calls = %v, want [450]", calls)
	}
}

func TestValidationGating(t *testing.T) {
	t.Run("non-integer", func(t *testing.T) {
		h := newHarness(t)
		h.ingest(t)
		h.session.CommitBuffer("12.5")
		waitFor(t, func() bool { return len(h.sink.all()) > 0 })
		if calls := h.backend.buffers(); len(calls) != 0 {
			t.Fatalf("backend called: %v", calls)
		}
		if h.sink.all()[0] != MsgBufferNotInteger {
			t.Fatalf("error = %q", h.sink.all()[0])
		}
	})

	t.Run("no session", func(t *testing.T) {
		h := newHarness(t)
		h.session.CommitBuffer("500")
		waitFor(t, func() bool { return len(h.sink.all()) > 0 })
		if calls := h.backend.buffers(); len(calls) != 0 {
			t.Fatalf("backend called: %v", calls)
		}
		if h.sink.all()[0] != MsgNoSession {
			t.Fatalf("error = %q", h.sink.all()[0])
		}

		err := h.session.GenerateClusters(context.Background(), 500, 100)
		var ve *ValidationError
		if !errors.As(err, &ve) || h.backend.clusterCalls != 0 {
			t.Fatalf("clusters without session: err=%v calls=%d", err, h.backend.clusterCalls)
		}
	})
}

func TestStaleBufferResponseIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.ingest(t)

	release := make(chan struct{})
	h.backend.bufferStarted = make(chan int, 2)
	h.backend.newBuffer = func(buffer int) (*Collections, error) {
		if buffer == 200 {
			<-release // R1 is slow
			c := collections("r1", 100)
			return &c, nil
		}
		c := collections("r2", 7)
		return &c, nil
	}

	h.session.CommitBuffer("200")
	if got := <-h.backend.bufferStarted; got != 200 {
		t.Fatalf("first request buffer = %d", got)
	}
	h.session.CommitBuffer("500")
	<-h.backend.bufferStarted

	waitFor(t, func() bool {
		l, _ := h.session.Registry().Get(LayerStops)
		return tagOf(l) == "r2"
	})
	close(release)
	time.Sleep(5 * testDebounce)

	l, _ := h.session.Registry().Get(LayerStops)
	if tagOf(l) != "r2" {
		t.Fatalf("stops layer from %q, want r2", tagOf(l))
	}
	if msgs := h.sink.all(); len(msgs) != 0 {
		t.Fatalf("stale response surfaced: %v", msgs)
	}
}

func TestBufferTransportErrorShowsGenericMessage(t *testing.T) {
	h := newHarness(t)
	h.ingest(t)
	h.backend.newBuffer = func(int) (*Collections, error) {
		return nil, &TransportError{Err: errors.New("connection refused")}
	}

	h.session.CommitBuffer("800")
	waitFor(t, func() bool { return len(h.sink.all()) > 0 })

	if h.sink.all()[0] != MsgTransport {
		t.Fatalf("error = %q", h.sink.all()[0])
	}
	l, _ := h.session.Registry().Get(LayerStops)
	if tagOf(l) != "ingest" {
		t.Fatal("layers mutated after transport error")
	}
}

func TestGenerateClustersIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.ingest(t)
	controls := h.bus.Subscribe()
	defer h.bus.Unsubscribe(controls)

	first := geojson.NewFeatureCollection()
	second := geojson.NewFeatureCollection()
	second.Append(geojson.NewFeature(populationFC(1).Features[0].Geometry))

	h.backend.clusters = func() (*geojson.FeatureCollection, error) { return first, nil }
	if err := h.session.GenerateClusters(context.Background(), 500, 100); err != nil {
		t.Fatal(err)
	}
	h.backend.clusters = func() (*geojson.FeatureCollection, error) { return second, nil }
	if err := h.session.GenerateClusters(context.Background(), 600, 50); err != nil {
		t.Fatal(err)
	}

	n := 0
	for _, tg := range h.session.Toggles() {
		if tg.Name == LayerClusters {
			n++
			if !tg.Checked {
				t.Error("clusters toggle not checked")
			}
		}
	}
	if n != 1 {
		t.Fatalf("%d clusters toggles, want 1", n)
	}
	l, ok := h.session.Registry().Get(LayerClusters)
	if !ok || l.Data != second {
		t.Fatal("clusters entry is not the second response")
	}
	ids := LayerIDs(h.renderer.lastLayers())
	if ids[len(ids)-1] != LayerClusters {
		t.Fatalf("rendered %v, clusters missing", ids)
	}

	created := 0
	for len(controls) > 0 {
		if ev := <-controls; ev.Resource == ResourceControls && ev.Action == "created" {
			created++
		}
	}
	if created != 1 {
		t.Fatalf("%d control creations published, want 1", created)
	}
}

func TestGenerateClustersRejectsEmptyResponse(t *testing.T) {
	h := newHarness(t)
	h.ingest(t)
	h.backend.clusters = func() (*geojson.FeatureCollection, error) { return nil, nil }

	err := h.session.GenerateClusters(context.Background(), 500, 100)
	var ae *ApplicationError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want ApplicationError", err)
	}
	if _, ok := h.session.Registry().Get(LayerClusters); ok {
		t.Fatal("clusters registered from empty response")
	}
	if h.sink.all()[0] != MsgInvalidClusters {
		t.Fatalf("error = %q", h.sink.all()[0])
	}
}

func TestSetToggleRecomposes(t *testing.T) {
	h := newHarness(t)
	h.ingest(t)

	if err := h.session.SetToggle(LayerStops, false); err != nil {
		t.Fatal(err)
	}
	ids := LayerIDs(h.renderer.lastLayers())
	if strings.Join(ids, ",") != "coverage-area,population" {
		t.Fatalf("rendered %v", ids)
	}
	if err := h.session.SetToggle("roads", true); err == nil {
		t.Fatal("expected error for unknown toggle")
	}
}

func TestSessionSyncsViewport(t *testing.T) {
	h := newHarness(t)

	v := Viewport{Longitude: 10, Latitude: 20, Zoom: 5, Pitch: 30, Bearing: 90}
	h.base.move(v)

	h.renderer.mu.Lock()
	defer h.renderer.mu.Unlock()
	if got := h.renderer.views[len(h.renderer.views)-1]; got != v {
		t.Fatalf("renderer view = %+v, want %+v", got, v)
	}
}

func TestBufferCommitDuringUploadKeepsNewerDatasets(t *testing.T) {
	h := newHarness(t)
	h.ingest(t)

	release := make(chan struct{})
	started := make(chan struct{})
	h.backend.process = func() (*IngestResult, error) {
		close(started)
		<-release
		return &IngestResult{Handle: "cache-2", Collections: collections("ingest-2", 6)}, nil
	}
	h.backend.bufferStarted = make(chan int, 1)

	done := make(chan error, 1)
	go func() {
		done <- h.session.Ingest(context.Background(), &Upload{Name: "gtfs.zip"}, &Upload{Name: "pop.csv"})
	}()
	<-started

	h.session.CommitBuffer("700")
	if got := <-h.backend.bufferStarted; got != 700 {
		t.Fatalf("buffer request = %d, want 700", got)
	}
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("newer upload discarded: %v", err)
	}
	time.Sleep(5 * testDebounce)

	if got := h.session.Handle(); got != "cache-2" {
		t.Fatalf("handle = %q, want cache-2", got)
	}
	l, _ := h.session.Registry().Get(LayerStops)
	if tagOf(l) != "ingest-2" {
		t.Fatalf("stops layer from %q, want ingest-2", tagOf(l))
	}
	if msgs := h.sink.all(); len(msgs) != 0 {
		t.Fatalf("errors shown: %v", msgs)
	}
}

func TestOlderUploadFinishingLastIsIgnored(t *testing.T) {
	h := newHarness(t)

	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32
	h.backend.process = func() (*IngestResult, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
			return &IngestResult{Handle: "cache-old", Collections: collections("old", 1)}, nil
		}
		return &IngestResult{Handle: "cache-new", Collections: collections("new", 2)}, nil
	}

	slow := make(chan error, 1)
	go func() {
		slow <- h.session.Ingest(context.Background(), &Upload{}, &Upload{})
	}()
	<-started

	h.ingest(t)
	close(release)

	if err := <-slow; !errors.Is(err, ErrStale) {
		t.Fatalf("older upload err = %v, want ErrStale", err)
	}
	if got := h.session.Handle(); got != "cache-new" {
		t.Fatalf("handle = %q, want cache-new", got)
	}
	l, _ := h.session.Registry().Get(LayerStops)
	if tagOf(l) != "new" {
		t.Fatalf("stops layer from %q, want new", tagOf(l))
	}
	if msgs := h.sink.all(); len(msgs) != 0 {
		t.Fatalf("stale upload surfaced: %v", msgs)
	}
}

func TestOverlappingClustersKeepLatest(t *testing.T) {
	h := newHarness(t)
	h.ingest(t)

	slowFC := geojson.NewFeatureCollection()
	fastFC := geojson.NewFeatureCollection()
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32
	h.backend.clusters = func() (*geojson.FeatureCollection, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
			return slowFC, nil
		}
		return fastFC, nil
	}

	slow := make(chan error, 1)
	go func() {
		slow <- h.session.GenerateClusters(context.Background(), 500, 100)
	}()
	<-started

	if err := h.session.GenerateClusters(context.Background(), 800, 10); err != nil {
		t.Fatal(err)
	}
	close(release)

	if err := <-slow; !errors.Is(err, ErrStale) {
		t.Fatalf("slow clusters err = %v, want ErrStale", err)
	}
	l, ok := h.session.Registry().Get(LayerClusters)
	if !ok || l.Data != fastFC {
		t.Fatal("clusters entry is not the latest response")
	}
}

func TestClustersFromReplacedDatasetAreDropped(t *testing.T) {
	h := newHarness(t)
	h.ingest(t)

	release := make(chan struct{})
	started := make(chan struct{})
	h.backend.clusters = func() (*geojson.FeatureCollection, error) {
		close(started)
		<-release
		return geojson.NewFeatureCollection(), nil
	}

	pending := make(chan error, 1)
	go func() {
		pending <- h.session.GenerateClusters(context.Background(), 500, 100)
	}()
	<-started

	h.backend.process = func() (*IngestResult, error) {
		return &IngestResult{Handle: "cache-2", Collections: collections("ingest-2", 4)}, nil
	}
	h.ingest(t)
	close(release)

	if err := <-pending; !errors.Is(err, ErrStale) {
		t.Fatalf("clusters err = %v, want ErrStale", err)
	}
	if _, ok := h.session.Registry().Get(LayerClusters); ok {
		t.Fatal("clusters of the previous dataset registered")
	}
	for _, tg := range h.session.Toggles() {
		if tg.Name == LayerClusters {
			t.Fatal("clusters toggle created for a dropped response")
		}
	}
}
