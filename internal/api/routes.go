// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-coverage/internal/db"
	"github.com/joeblew999/plat-coverage/internal/humastar"
	"github.com/joeblew999/plat-coverage/internal/service"
	"github.com/joeblew999/plat-coverage/internal/templates"
)

// Services holds the dependencies of the API handlers.
type Services struct {
	Session  *service.Session
	Map      *service.RemoteMap
	Renderer *service.StreamRenderer
	Bus      *service.EventBus
	Store    *db.CoverageStore // nil when analytics are disabled
}

// maxUploadBytes bounds the combined size of the ingestion upload.
const maxUploadBytes = 512 << 20

// Types

type NameInput struct {
	Name string `path:"name" doc:"Toggle or panel name" example:"population"`
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

// SessionBody is the observable state of the analysis session.
type SessionBody struct {
	ID       string                `json:"id" doc:"Session id"`
	Ready    bool                  `json:"ready" doc:"Whether datasets have been ingested"`
	Toggles  []service.Toggle      `json:"toggles" doc:"Layer toggles in creation order"`
	Panels   map[string]bool       `json:"panels" doc:"Panel visibility"`
	Sliders  []service.SliderLabel `json:"sliders" doc:"Slider labels"`
	Viewport service.Viewport      `json:"viewport" doc:"Current camera"`
	Layers   []string              `json:"layers" doc:"Visible layer ids in draw order"`
}

// Actions advertises the operations available in the current state.
func (b SessionBody) Actions() []humastar.Action {
	actions := []humastar.Action{
		{Rel: "ingest", Href: "/api/v1/session/ingest", Method: http.MethodPost, Title: "Upload datasets"},
	}
	if b.Ready {
		actions = append(actions,
			humastar.Action{Rel: "buffer", Href: "/api/v1/session/buffer", Method: http.MethodPost, Title: "Change coverage radius"},
			humastar.Action{Rel: "clusters", Href: "/api/v1/session/clusters", Method: http.MethodPost, Title: "Generate clusters"},
		)
	}
	return actions
}

type IngestInput struct {
	RawBody multipart.Form
}

type ToggleInput struct {
	NameInput
	Body struct {
		Checked bool `json:"checked" doc:"Whether the layer is visible"`
	}
}

type PanelBody struct {
	Name    string `json:"name" doc:"Panel name"`
	Visible bool   `json:"visible" doc:"New visibility"`
}

type ViewMoveInput struct {
	Body service.Viewport
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	humastar.Handler
	svc *Services
}

func NewAPIHandler(svc *Services, renderer *templates.Renderer) *APIHandler {
	return &APIHandler{Handler: humastar.Handler{Renderer: renderer}, svc: svc}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterSession registers the analysis session routes.
func (h *APIHandler) RegisterSession(api huma.API) {
	huma.Get(api, "/api/v1/session", h.GetSession, huma.OperationTags("session"))
	huma.Post(api, "/api/v1/session/ingest", h.Ingest, huma.OperationTags("session"), func(o *huma.Operation) {
		o.MaxBodyBytes = maxUploadBytes
	})
	huma.Register(api, huma.Operation{
		OperationID:   "commit-buffer",
		Method:        http.MethodPost,
		Path:          "/api/v1/session/buffer",
		Summary:       "Commit buffer",
		Description:   "Schedules a debounced coverage recomputation for the buffer signal.",
		Tags:          []string{"session"},
		DefaultStatus: http.StatusAccepted,
	}, h.CommitBuffer)
	huma.Post(api, "/api/v1/session/buffer/drag", h.DragBuffer, huma.OperationTags("session"))
	huma.Post(api, "/api/v1/session/minpop/drag", h.DragMinPop, huma.OperationTags("session"))
	huma.Post(api, "/api/v1/session/clusters", h.GenerateClusters, huma.OperationTags("session"))
	huma.Put(api, "/api/v1/session/toggles/{name}", h.SetToggle, huma.OperationTags("session"))
	huma.Post(api, "/api/v1/session/panels/{name}/toggle", h.FlipPanel, huma.OperationTags("session"))
}

// RegisterView registers the camera and event stream routes.
func (h *APIHandler) RegisterView(api huma.API) {
	huma.Post(api, "/api/v1/view/move", h.MoveView, huma.OperationTags("view"))
	huma.Get(api, "/api/v1/view/events", h.Events, huma.OperationTags("view"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: "1.0.0"}}, nil
}

func (h *APIHandler) GetSession(ctx context.Context, input *struct{}) (*struct{ Body SessionBody }, error) {
	s := h.svc.Session
	return &struct{ Body SessionBody }{Body: SessionBody{
		ID:       s.ID,
		Ready:    s.Handle() != "",
		Toggles:  s.Toggles(),
		Panels:   s.Panels(),
		Sliders:  s.Sliders(),
		Viewport: h.svc.Map.Viewport(),
		Layers:   service.LayerIDs(s.VisibleLayers()),
	}}, nil
}

func (h *APIHandler) Ingest(ctx context.Context, input *IngestInput) (*struct{ Body MessageBody }, error) {
	gtfs, closeGTFS, err := formUpload(&input.RawBody, "gtfsFile")
	if err != nil {
		return nil, huma.Error400BadRequest("Failed to read upload", err)
	}
	defer closeGTFS()
	pop, closePop, err := formUpload(&input.RawBody, "populationFile")
	if err != nil {
		return nil, huma.Error400BadRequest("Failed to read upload", err)
	}
	defer closePop()

	if err := h.svc.Session.Ingest(ctx, gtfs, pop); err != nil {
		return messageOrError(err)
	}
	return message("Datasets processed")
}

func (h *APIHandler) CommitBuffer(ctx context.Context, input *humastar.SignalsInput) (*struct{ Body MessageBody }, error) {
	signals, err := input.Parse()
	if err != nil {
		return nil, err
	}
	h.svc.Session.CommitBuffer(signals.Raw("buffer"))
	return message("Buffer update scheduled")
}

func (h *APIHandler) DragBuffer(ctx context.Context, input *humastar.SignalsInput) (*struct{ Body service.SliderLabel }, error) {
	signals, err := input.Parse()
	if err != nil {
		return nil, err
	}
	return &struct{ Body service.SliderLabel }{Body: h.svc.Session.DragBuffer(signals.Raw("buffer"))}, nil
}

func (h *APIHandler) DragMinPop(ctx context.Context, input *humastar.SignalsInput) (*struct{ Body service.SliderLabel }, error) {
	signals, err := input.Parse()
	if err != nil {
		return nil, err
	}
	return &struct{ Body service.SliderLabel }{Body: h.svc.Session.DragMinPop(signals.Raw("minpop"))}, nil
}

func (h *APIHandler) GenerateClusters(ctx context.Context, input *humastar.SignalsInput) (*struct{ Body MessageBody }, error) {
	signals, err := input.Parse()
	if err != nil {
		return nil, err
	}
	bufferRaw, minpopRaw := h.svc.Session.SliderValues()
	if signals.Has("buffer") {
		bufferRaw = signals.Raw("buffer")
	}
	if signals.Has("minpop") {
		minpopRaw = signals.Raw("minpop")
	}

	coverage, err := strconv.Atoi(strings.TrimSpace(bufferRaw))
	if err != nil {
		return nil, huma.Error400BadRequest(service.MsgBufferNotInteger)
	}
	minpop, err := strconv.Atoi(strings.TrimSpace(minpopRaw))
	if err != nil {
		return nil, huma.Error400BadRequest("Minimum population must be an integer.")
	}

	if err := h.svc.Session.GenerateClusters(ctx, coverage, minpop); err != nil {
		return messageOrError(err)
	}
	return message("Clusters generated")
}

func (h *APIHandler) SetToggle(ctx context.Context, input *ToggleInput) (*struct{ Body service.Toggle }, error) {
	if err := h.svc.Session.SetToggle(input.Name, input.Body.Checked); err != nil {
		return nil, toHTTPError(err)
	}
	return &struct{ Body service.Toggle }{Body: service.Toggle{
		Name:    input.Name,
		Label:   labelOf(h.svc.Session.Toggles(), input.Name),
		Checked: input.Body.Checked,
	}}, nil
}

func (h *APIHandler) FlipPanel(ctx context.Context, input *NameInput) (*struct{ Body PanelBody }, error) {
	visible, err := h.svc.Session.FlipPanel(input.Name)
	if err != nil {
		return nil, toHTTPError(err)
	}
	return &struct{ Body PanelBody }{Body: PanelBody{Name: input.Name, Visible: visible}}, nil
}

func (h *APIHandler) MoveView(ctx context.Context, input *ViewMoveInput) (*struct{ Body service.Viewport }, error) {
	if err := input.Body.Validate(); err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	h.svc.Map.Move(input.Body)
	view, _ := h.svc.Renderer.Snapshot()
	return &struct{ Body service.Viewport }{Body: view}, nil
}

// formUpload opens the first file of a multipart field, or returns nil if
// the field is absent.
func formUpload(form *multipart.Form, field string) (*service.Upload, func(), error) {
	noop := func() {}
	if form == nil || len(form.File[field]) == 0 {
		return nil, noop, nil
	}
	fh := form.File[field][0]
	f, err := fh.Open()
	if err != nil {
		return nil, noop, err
	}
	return &service.Upload{Name: fh.Filename, Body: f}, func() { f.Close() }, nil
}

func labelOf(toggles []service.Toggle, name string) string {
	for _, t := range toggles {
		if t.Name == name {
			return t.Label
		}
	}
	return name
}

func message(msg string) (*struct{ Body MessageBody }, error) {
	return &struct{ Body MessageBody }{Body: MessageBody{Message: msg}}, nil
}

// messageOrError answers superseded requests with 200 and maps the rest.
func messageOrError(err error) (*struct{ Body MessageBody }, error) {
	if errors.Is(err, service.ErrStale) {
		return message("superseded")
	}
	return nil, toHTTPError(err)
}
