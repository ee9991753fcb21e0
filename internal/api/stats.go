package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-coverage/internal/db"
)

// RegisterStats registers coverage analytics routes.
func (h *APIHandler) RegisterStats(api huma.API) {
	huma.Get(api, "/api/v1/stats", h.GetStats, huma.OperationTags("stats"))
}

// StatsOutput is the coverage summary of the last applied population layer.
type StatsOutput struct {
	Body db.Summary
}

// GetStats summarises the population snapshot held in DuckDB.
func (h *APIHandler) GetStats(ctx context.Context, input *struct{}) (*StatsOutput, error) {
	if h.svc.Store == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	sum, err := h.svc.Store.Summary(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to summarise coverage", err)
	}
	return &StatsOutput{Body: *sum}, nil
}
