package handlers

import (
	"context"
	"field-route-planner/internal/api/dto"
	"field-route-planner/internal/domain"
	"field-route-planner/internal/services"
	"net/http"
	"strings"
	"time"
)

// RoutePlanner is the planning surface served over HTTP.
type RoutePlanner interface {
	PreviewRoutePlan(ctx context.Context, in services.PlanRoutesInput) (*services.RoutePlanPreview, error)
	PlanRoutes(ctx context.Context, in services.PlanRoutesInput) (*services.PlanRoutesResponse, error)
	ClusterForDate(ctx context.Context, date time.Time, serviceID string, maxStops int) (services.ClusteringResult, error)
	Routes(ctx context.Context, date time.Time) ([]*domain.Route, error)
}

type PlanHandler struct {
	Planner RoutePlanner
}

// Preview proposes a default allocation for a day without optimizing.
func (h *PlanHandler) Preview(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodePlanRequest(w, r)
	if !ok {
		return
	}

	preview, err := h.Planner.PreviewRoutePlan(r.Context(), in)
	if err != nil {
		writePlanningError(w, r, "preview route plan", err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.FromPreview(preview))
}

// Plan optimizes and stores the day's routes.
func (h *PlanHandler) Plan(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodePlanRequest(w, r)
	if !ok {
		return
	}

	resp, err := h.Planner.PlanRoutes(r.Context(), in)
	if err != nil {
		writePlanningError(w, r, "plan routes", err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.FromPlan(resp))
}

func (h *PlanHandler) decodePlanRequest(w http.ResponseWriter, r *http.Request) (services.PlanRoutesInput, bool) {
	var req dto.PlanRequest
	if !decodeJSON(w, r, &req) {
		return services.PlanRoutesInput{}, false
	}
	if req.MaxStopsPerRoute < 0 || req.MaxStopsPerRoute > 100 {
		writeError(w, r, http.StatusBadRequest, "maxStopsPerRoute must be between 0 and 100")
		return services.PlanRoutesInput{}, false
	}

	in, err := req.Input()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return services.PlanRoutesInput{}, false
	}
	return in, true
}

// Cluster groups a day's stored bookings by depot.
func (h *PlanHandler) Cluster(w http.ResponseWriter, r *http.Request) {
	var req dto.ClusterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	date, err := dto.ParseDate("date", req.Date)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.Planner.ClusterForDate(r.Context(), date, strings.TrimSpace(req.ServiceID), req.MaxStopsPerVehicle)
	if err != nil {
		writePlanningError(w, r, "cluster bookings", err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.FromClustering(res))
}

// ListRoutes returns the stored routes of ?date=YYYY-MM-DD.
func (h *PlanHandler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	date, err := dto.ParseDate("date", r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	routes, err := h.Planner.Routes(r.Context(), date)
	if err != nil {
		writePlanningError(w, r, "list routes", err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.ListRoutesResponse{Routes: dto.FromRoutes(routes)})
}
