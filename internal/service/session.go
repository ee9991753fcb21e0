package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-coverage/internal/styles"
)

// Camera defaults applied when re-centering on new data.
const (
	DefaultZoom        = 12
	DefaultFlyDuration = 500 * time.Millisecond
)

// Slider ranges accepted by the backend.
const (
	BufferMin, BufferMax = 100, 3000
	MinPopMin, MinPopMax = 1, 10000
)

// Backend is the remote computation service.
type Backend interface {
	Process(ctx context.Context, gtfs, population Upload) (*IngestResult, error)
	NewBuffer(ctx context.Context, handle string, buffer int) (*Collections, error)
	GenerateClusters(ctx context.Context, handle string, coverage, minpop int) (*geojson.FeatureCollection, error)
}

// Recorder receives every applied population collection. version increases
// with each application.
type Recorder interface {
	Record(ctx context.Context, version uint64, population *geojson.FeatureCollection) error
}

// Config holds the collaborators of a Session.
type Config struct {
	Backend  Backend
	Map      BaseMap
	Renderer Renderer
	Errors   ErrorSink
	Bus      *EventBus
	Recorder Recorder // optional
	Scheme   styles.Scheme
	Logger   *slog.Logger

	Debounce      time.Duration
	FlyDuration   time.Duration
	DefaultCenter orb.Point
	SliderWidth   float64
}

// Session is the state of one analysis page: the session handle, layer
// registry, toggles and panels. All mutations happen under mu and complete
// before the mutating call returns; backend calls happen outside it.
type Session struct {
	ID string

	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger

	backend  Backend
	base     BaseMap
	renderer Renderer
	errs     ErrorSink
	bus      *EventBus
	recorder Recorder
	scheme   styles.Scheme

	flyDuration   time.Duration
	defaultCenter orb.Point
	sliderWidth   float64

	mu       sync.Mutex
	handle   string
	applied  uint64 // bumped on every base layer replacement
	registry *Registry
	toggles  *ToggleSet
	panels   *Panels

	buffer *Slider
	minpop *Slider

	// ingestSeq numbers uploads; a newer upload supersedes every older
	// request. bufferSeq and clusterSeq order requests within one dataset.
	ingestSeq  Sequencer
	bufferSeq  Sequencer
	clusterSeq Sequencer
	debounce   *Debouncer
	syncer     *Synchronizer
}

// NewSession creates a session and starts viewport synchronization.
func NewSession(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Bus == nil {
		cfg.Bus = NewEventBus()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.FlyDuration <= 0 {
		cfg.FlyDuration = DefaultFlyDuration
	}
	if cfg.DefaultCenter == (orb.Point{}) {
		cfg.DefaultCenter = DefaultCenter
	}
	if cfg.SliderWidth <= 0 {
		cfg.SliderWidth = 300
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:            id,
		ctx:           ctx,
		cancel:        cancel,
		log:           cfg.Logger.With("session", id),
		backend:       cfg.Backend,
		base:          cfg.Map,
		renderer:      cfg.Renderer,
		errs:          cfg.Errors,
		bus:           cfg.Bus,
		recorder:      cfg.Recorder,
		scheme:        cfg.Scheme,
		flyDuration:   cfg.FlyDuration,
		defaultCenter: cfg.DefaultCenter,
		sliderWidth:   cfg.SliderWidth,
		registry:      NewRegistry(),
		toggles:       NewToggleSet(DefaultToggles()...),
		panels:        NewPanels(),
		buffer:        NewSlider("buffer", BufferMin, BufferMax, "500"),
		minpop:        NewSlider("minpop", MinPopMin, MinPopMax, "100"),
	}
	s.debounce = NewDebouncer(cfg.Debounce, func(raw string) {
		_ = s.updateBuffer(raw)
	})
	s.syncer = NewSynchronizer(cfg.Map, cfg.Renderer, s.renderFailed)
	s.syncer.Start()
	return s
}

// Close stops synchronization, drops pending commits and cancels in-flight requests.
func (s *Session) Close() {
	s.debounce.Stop()
	s.syncer.Stop()
	s.cancel()
}

// Handle returns the current session handle, or "" before ingestion.
func (s *Session) Handle() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Registry exposes the layer registry for reads.
func (s *Session) Registry() *Registry { return s.registry }

// Toggles returns the layer toggles in creation order.
func (s *Session) Toggles() []Toggle { return s.toggles.List() }

// Panels returns the panel visibility flags.
func (s *Session) Panels() map[string]bool { return s.panels.Snapshot() }

// Sliders returns the display state of both sliders.
func (s *Session) Sliders() []SliderLabel {
	return []SliderLabel{s.buffer.Label(s.sliderWidth), s.minpop.Label(s.sliderWidth)}
}

// SliderValues returns the raw buffer and minpop values.
func (s *Session) SliderValues() (buffer, minpop string) {
	return s.buffer.Value(), s.minpop.Value()
}

// VisibleLayers composes the layer set for the current state.
func (s *Session) VisibleLayers() []Layer {
	return Compose(s.registry, s.toggles.States())
}

// Ingest uploads both datasets and renders the result.
func (s *Session) Ingest(ctx context.Context, gtfs, population *Upload) error {
	if gtfs == nil || population == nil {
		return s.fail(&ValidationError{Msg: MsgMissingFiles})
	}
	s.errs.Clear()

	seq := s.ingestSeq.Next()
	res, err := s.backend.Process(ctx, *gtfs, *population)
	if !s.ingestSeq.Latest(seq) {
		return s.stale("ingest", seq)
	}
	if err != nil {
		return s.fail(err)
	}
	if res == nil || !res.complete() {
		return s.fail(&ApplicationError{Messages: []string{MsgMalformedResponse}})
	}

	s.mu.Lock()
	if !s.ingestSeq.Latest(seq) {
		s.mu.Unlock()
		return s.stale("ingest", seq)
	}
	s.handle = res.Handle
	version := s.applyLocked(res.Collections)
	s.panels.Show(false, PanelUpload)
	s.panels.Show(true, PanelLegend, PanelSliders, PanelLayerControl, PanelLayerButton)
	s.bus.Publish(Event{Resource: ResourcePanels, Action: "updated", Payload: s.panels.Snapshot()})
	s.mu.Unlock()

	s.log.Info("datasets ingested", "seq", seq, "features", len(res.Population.Features))
	s.record(version, res.Population)
	return nil
}

// DragBuffer updates the buffer label during a drag. It never calls the backend.
func (s *Session) DragBuffer(raw string) SliderLabel {
	return s.drag(s.buffer, raw)
}

// DragMinPop updates the minimum population label during a drag.
func (s *Session) DragMinPop(raw string) SliderLabel {
	return s.drag(s.minpop, raw)
}

func (s *Session) drag(sl *Slider, raw string) SliderLabel {
	sl.Move(raw)
	label := sl.Label(s.sliderWidth)
	s.bus.Publish(Event{Resource: ResourceSlider, Action: "updated", ID: sl.Name, Payload: label})
	return label
}

// CommitBuffer schedules a buffer recomputation. Commits within the debounce
// window coalesce into one request with the last value.
func (s *Session) CommitBuffer(raw string) {
	s.buffer.Move(raw)
	s.debounce.Trigger(raw)
}

func (s *Session) updateBuffer(raw string) error {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return s.fail(&ValidationError{Msg: MsgBufferNotInteger})
	}
	handle, gen := s.dataset()
	if handle == "" {
		return s.fail(&ValidationError{Msg: MsgNoSession})
	}

	seq := s.bufferSeq.Next()
	s.log.Debug("buffer update", "seq", seq, "buffer", value)
	c, err := s.backend.NewBuffer(s.ctx, handle, value)
	if !s.bufferSeq.Latest(seq) || !s.sameDataset(handle, gen) {
		return s.stale("buffer", seq)
	}
	if err != nil {
		return s.fail(err)
	}
	if c == nil || !c.complete() {
		return s.fail(&ApplicationError{Messages: []string{MsgMalformedResponse}})
	}

	s.mu.Lock()
	if !s.bufferSeq.Latest(seq) || !s.sameDatasetLocked(handle, gen) {
		s.mu.Unlock()
		return s.stale("buffer", seq)
	}
	version := s.applyLocked(*c)
	s.mu.Unlock()

	s.record(version, c.Population)
	return nil
}

// GenerateClusters fetches the cluster overlay and registers it under
// "clusters", replacing any previous one.
func (s *Session) GenerateClusters(ctx context.Context, coverage, minpop int) error {
	handle, gen := s.dataset()
	if handle == "" {
		return s.fail(&ValidationError{Msg: MsgNoSession})
	}

	seq := s.clusterSeq.Next()
	fc, err := s.backend.GenerateClusters(ctx, handle, coverage, minpop)
	if !s.clusterSeq.Latest(seq) || !s.sameDataset(handle, gen) {
		return s.stale("clusters", seq)
	}
	if err != nil {
		return s.fail(err)
	}
	if fc == nil {
		return s.fail(&ApplicationError{Messages: []string{MsgInvalidClusters}})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.clusterSeq.Latest(seq) || !s.sameDatasetLocked(handle, gen) {
		return s.stale("clusters", seq)
	}
	s.registry.Set(LayerClusters, ClustersLayer(fc, s.scheme))
	if s.toggles.Ensure(LayerClusters, ClustersLabel, true) {
		s.bus.Publish(Event{Resource: ResourceControls, Action: "created", ID: LayerClusters, Payload: s.toggles.List()})
	}
	s.recomposeLocked()
	s.log.Info("clusters generated", "seq", seq, "clusters", len(fc.Features))
	return nil
}

// SetToggle changes a layer toggle and recomposes.
func (s *Session) SetToggle(name string, checked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.toggles.Set(name, checked); err != nil {
		return err
	}
	s.bus.Publish(Event{Resource: ResourceControls, Action: "updated", ID: name, Payload: s.toggles.List()})
	s.recomposeLocked()
	return nil
}

// FlipPanel inverts a panel's visibility.
func (s *Session) FlipPanel(name string) (bool, error) {
	visible, err := s.panels.Flip(name)
	if err != nil {
		return false, err
	}
	s.bus.Publish(Event{Resource: ResourcePanels, Action: "updated", ID: name, Payload: s.panels.Snapshot()})
	return visible, nil
}

// dataset returns the current handle and the upload generation it belongs to.
// Requests made against it are stale once another upload starts.
func (s *Session) dataset() (string, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle, s.ingestSeq.Current()
}

func (s *Session) sameDataset(handle string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sameDatasetLocked(handle, gen)
}

func (s *Session) sameDatasetLocked(handle string, gen uint64) bool {
	return s.handle == handle && s.ingestSeq.Current() == gen
}

// applyLocked re-centers the camera, replaces the base layers and recomposes.
// It returns the new snapshot version.
func (s *Session) applyLocked(c Collections) uint64 {
	center, pop := MaxPopulation(c.Population, s.defaultCenter)
	s.log.Debug("re-centering", "lon", center.Lon(), "lat", center.Lat(), "population", pop)
	s.base.FlyTo(Viewport{
		Longitude: center.Lon(),
		Latitude:  center.Lat(),
		Zoom:      DefaultZoom,
	}, s.flyDuration)

	for name, layer := range BaseLayers(c, s.scheme) {
		s.registry.Set(name, layer)
	}
	s.recomposeLocked()
	s.applied++
	return s.applied
}

func (s *Session) recomposeLocked() {
	layers := Compose(s.registry, s.toggles.States())
	if err := s.renderer.SetLayers(layers); err != nil {
		s.renderFailed(err)
		return
	}
	s.log.Debug("layers composed", "ids", LayerIDs(layers))
}

func (s *Session) renderFailed(err error) {
	s.log.Error("renderer rejected update", "err", err)
	s.errs.ShowErrors(MsgRenderFailed)
}

func (s *Session) record(version uint64, population *geojson.FeatureCollection) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(s.ctx, version, population); err != nil {
		s.log.Warn("recording coverage snapshot", "version", version, "err", err)
	}
}

func (s *Session) stale(stream string, seq uint64) error {
	s.log.Debug("discarding stale response", "stream", stream, "seq", seq)
	return ErrStale
}

// fail logs err, shows it in the error sink and returns it.
func (s *Session) fail(err error) error {
	var te *TransportError
	var ve *ValidationError
	switch {
	case errors.As(err, &te):
		s.log.Error("backend request failed", "err", err)
	case errors.As(err, &ve):
		s.log.Info("validation failed", "err", err)
	default:
		s.log.Warn("backend reported failure", "err", err)
	}
	s.errs.ShowErrors(UserMessages(err)...)
	return err
}
