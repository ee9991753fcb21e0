package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-coverage/internal/styles"
)

func testScheme() styles.Scheme { return styles.DefaultScheme() }

type fakeBackend struct {
	mu            sync.Mutex
	processCalls  int
	bufferCalls   []int
	clusterCalls  int
	process       func() (*IngestResult, error)
	newBuffer     func(buffer int) (*Collections, error)
	clusters      func() (*geojson.FeatureCollection, error)
	bufferStarted chan int
}

func (b *fakeBackend) Process(ctx context.Context, gtfs, population Upload) (*IngestResult, error) {
	b.mu.Lock()
	b.processCalls++
	fn := b.process
	b.mu.Unlock()
	return fn()
}

func (b *fakeBackend) NewBuffer(ctx context.Context, handle string, buffer int) (*Collections, error) {
	b.mu.Lock()
	b.bufferCalls = append(b.bufferCalls, buffer)
	fn := b.newBuffer
	started := b.bufferStarted
	b.mu.Unlock()
	if started != nil {
		started <- buffer
	}
	return fn(buffer)
}

func (b *fakeBackend) GenerateClusters(ctx context.Context, handle string, coverage, minpop int) (*geojson.FeatureCollection, error) {
	b.mu.Lock()
	b.clusterCalls++
	fn := b.clusters
	b.mu.Unlock()
	return fn()
}

func (b *fakeBackend) buffers() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]int, len(b.bufferCalls))
	copy(out, b.bufferCalls)
	return out
}

type fakeMap struct {
	mu    sync.Mutex
	vp    Viewport
	subs  map[int]func()
	next  int
	flies []Viewport
}

func newFakeMap() *fakeMap {
	return &fakeMap{vp: Viewport{Longitude: -9.1393, Latitude: 38.7223, Zoom: 12}, subs: map[int]func(){}}
}

func (m *fakeMap) Viewport() Viewport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vp
}

func (m *fakeMap) OnMove(fn func()) func() {
	m.mu.Lock()
	id := m.next
	m.next++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *fakeMap) FlyTo(v Viewport, d time.Duration) {
	m.mu.Lock()
	m.flies = append(m.flies, v)
	m.mu.Unlock()
}

func (m *fakeMap) move(v Viewport) {
	m.mu.Lock()
	m.vp = v
	var fns []func()
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (m *fakeMap) lastFly() (Viewport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.flies) == 0 {
		return Viewport{}, false
	}
	return m.flies[len(m.flies)-1], true
}

type fakeRenderer struct {
	mu      sync.Mutex
	views   []Viewport
	layers  [][]Layer
	viewErr error
}

func (r *fakeRenderer) SetViewState(v Viewport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.viewErr != nil {
		return r.viewErr
	}
	r.views = append(r.views, v)
	return nil
}

func (r *fakeRenderer) SetLayers(layers []Layer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.layers = append(r.layers, layers)
	return nil
}

func (r *fakeRenderer) lastLayers() []Layer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.layers) == 0 {
		return nil
	}
	return r.layers[len(r.layers)-1]
}

type fakeSink struct {
	mu   sync.Mutex
	msgs []string
}

func (s *fakeSink) ShowErrors(msgs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msgs...)
}

func (s *fakeSink) Clear() {}

func (s *fakeSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// populationFC builds point features with the given populations at (i+1, i+1).
func populationFC(pops ...float64) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i, p := range pops {
		f := geojson.NewFeature(orb.Point{float64(i + 1), float64(i + 1)})
		f.Properties["number_of_people"] = p
		f.Properties["covered"] = "Covered"
		fc.Append(f)
	}
	return fc
}

func collections(tag string, pops ...float64) Collections {
	stops := geojson.NewFeatureCollection()
	stops.Append(geojson.NewFeature(orb.Point{0, 0}))
	stops.Features[0].Properties["tag"] = tag
	return Collections{
		Stops:        stops,
		CoverageArea: geojson.NewFeatureCollection(),
		Population:   populationFC(pops...),
	}
}

func tagOf(l Layer) string {
	if l.Data == nil || len(l.Data.Features) == 0 {
		return ""
	}
	return fmt.Sprint(l.Data.Features[0].Properties["tag"])
}
