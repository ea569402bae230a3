package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendwell/personalize/pkg/personalize"
)

// AdminHandler handles the admin authoring surface: content items,
// visibility overrides, experiments, variants and targets.
type AdminHandler struct {
	service personalize.Service
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(service personalize.Service) *AdminHandler {
	return &AdminHandler{service: service}
}

// Routes returns the admin routes
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/content", func(r chi.Router) {
		r.Post("/", h.CreateContentItem)
		r.Get("/", h.ListContentItems)
		r.Get("/{id}", h.GetContentItem)
		r.Get("/{id}/overrides", h.ListOverrides)
		r.Post("/{id}/overrides", h.CreateOverride)
	})

	r.Route("/overrides", func(r chi.Router) {
		r.Put("/{id}", h.UpdateOverride)
		r.Delete("/{id}", h.DeleteOverride)
	})

	r.Route("/experiments", func(r chi.Router) {
		r.Post("/", h.CreateExperiment)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetExperiment)
			r.Post("/variants", h.AddVariant)
			r.Post("/start", h.statusAction(personalize.ExperimentStatusActive))
			r.Post("/pause", h.statusAction(personalize.ExperimentStatusPaused))
			r.Post("/resume", h.statusAction(personalize.ExperimentStatusActive))
			r.Post("/complete", h.statusAction(personalize.ExperimentStatusCompleted))
			r.Get("/assignments", h.CountAssignments)
		})
	})

	return r
}

func parseIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// writeServiceError maps service errors onto HTTP statuses: validation
// failures are the admin's to fix, missing records are 404s.
func writeServiceError(w http.ResponseWriter, err error) {
	var validationErr *personalize.ValidationError
	if errors.As(err, &validationErr) {
		http.Error(w, validationErr.Error(), http.StatusUnprocessableEntity)
		return
	}
	if errors.Is(err, personalize.ErrInvalidStatusTransition) ||
		errors.Is(err, personalize.ErrExperimentNotEditable) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if errors.Is(err, personalize.ErrContentNotFound) ||
		errors.Is(err, personalize.ErrOverrideNotFound) ||
		errors.Is(err, personalize.ErrExperimentNotFound) ||
		errors.Is(err, personalize.ErrVariantNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	slog.Error("Admin operation failed", "error", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// Content items

// CreateContentItemRequest is the request body for creating a content item
type CreateContentItemRequest struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	ImageRef    string `json:"image_ref,omitempty"`
	IsActive    bool   `json:"is_active"`
}

func (h *AdminHandler) CreateContentItem(w http.ResponseWriter, r *http.Request) {
	var req CreateContentItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	item, err := h.service.CreateContentItem(r.Context(), personalize.CreateContentItemRequest{
		Type:        personalize.ContentType(req.Type),
		Title:       req.Title,
		Description: req.Description,
		ImageRef:    req.ImageRef,
		IsActive:    req.IsActive,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, item)
}

func (h *AdminHandler) GetContentItem(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	item, err := h.service.GetContentItem(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	render.JSON(w, r, item)
}

func (h *AdminHandler) ListContentItems(w http.ResponseWriter, r *http.Request) {
	contentType := personalize.ContentType(r.URL.Query().Get("type"))

	items, err := h.service.ListContentItems(r.Context(), contentType)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	render.JSON(w, r, items)
}

// Overrides

// SaveOverrideRequest is the request body for creating or updating a
// visibility override. Omitted persona/funnel_stage act as wildcards.
type SaveOverrideRequest struct {
	Persona     *string `json:"persona,omitempty"`
	FunnelStage *string `json:"funnel_stage,omitempty"`
	IsVisible   bool    `json:"is_visible"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	ImageRef    *string `json:"image_ref,omitempty"`
	Order       int     `json:"order"`
}

func (req *SaveOverrideRequest) toDomain(contentItemID uuid.UUID) personalize.SaveOverrideRequest {
	out := personalize.SaveOverrideRequest{
		ContentItemID: contentItemID,
		IsVisible:     req.IsVisible,
		Title:         req.Title,
		Description:   req.Description,
		ImageRef:      req.ImageRef,
		Order:         req.Order,
	}
	if req.Persona != nil {
		persona := personalize.Persona(*req.Persona)
		out.Persona = &persona
	}
	if req.FunnelStage != nil {
		stage := personalize.FunnelStage(*req.FunnelStage)
		out.FunnelStage = &stage
	}
	return out
}

func (h *AdminHandler) CreateOverride(w http.ResponseWriter, r *http.Request) {
	contentItemID, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	var req SaveOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	override, err := h.service.CreateOverride(r.Context(), req.toDomain(contentItemID))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, override)
}

func (h *AdminHandler) UpdateOverride(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	var req struct {
		SaveOverrideRequest
		ContentItemID string `json:"content_item_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	contentItemID, err := uuid.Parse(req.ContentItemID)
	if err != nil {
		http.Error(w, "Invalid content item ID", http.StatusBadRequest)
		return
	}

	override, err := h.service.UpdateOverride(r.Context(), id, req.toDomain(contentItemID))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	render.JSON(w, r, override)
}

func (h *AdminHandler) DeleteOverride(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteOverride(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}

	render.Status(r, http.StatusNoContent)
	render.NoContent(w, r)
}

func (h *AdminHandler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	contentItemID, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	overrides, err := h.service.ListOverridesForContent(r.Context(), contentItemID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	render.JSON(w, r, overrides)
}

// Experiments

// CreateExperimentRequest is the request body for creating an experiment
type CreateExperimentRequest struct {
	Name              string `json:"name"`
	ContentType       string `json:"content_type"`
	TrafficAllocation int    `json:"traffic_allocation"`
	Targets           []struct {
		Persona     string `json:"persona"`
		FunnelStage string `json:"funnel_stage"`
	} `json:"targets,omitempty"`
}

func (h *AdminHandler) CreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req CreateExperimentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	createReq := personalize.CreateExperimentRequest{
		Name:              req.Name,
		ContentType:       personalize.ContentType(req.ContentType),
		TrafficAllocation: req.TrafficAllocation,
	}
	for _, t := range req.Targets {
		createReq.Targets = append(createReq.Targets, personalize.TargetSpec{
			Persona:     personalize.Persona(t.Persona),
			FunnelStage: personalize.FunnelStage(t.FunnelStage),
		})
	}

	experiment, err := h.service.CreateExperiment(r.Context(), createReq)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, experiment)
}

func (h *AdminHandler) GetExperiment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	experiment, err := h.service.GetExperiment(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	render.JSON(w, r, experiment)
}

func (h *AdminHandler) statusAction(status personalize.ExperimentStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		if err := h.service.UpdateExperimentStatus(r.Context(), id, status); err != nil {
			writeServiceError(w, err)
			return
		}

		render.JSON(w, r, map[string]string{"status": string(status)})
	}
}

// AddVariantRequest is the request body for adding a variant
type AddVariantRequest struct {
	Name                string                     `json:"name,omitempty"`
	TrafficWeight       int                        `json:"traffic_weight"`
	IsControl           bool                       `json:"is_control"`
	LinkedContentItemID *string                    `json:"linked_content_item_id,omitempty"`
	Config              *personalize.VariantConfig `json:"config,omitempty"`
}

func (h *AdminHandler) AddVariant(w http.ResponseWriter, r *http.Request) {
	experimentID, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	var req AddVariantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	addReq := personalize.AddVariantRequest{
		ExperimentID:  experimentID,
		Name:          req.Name,
		TrafficWeight: req.TrafficWeight,
		IsControl:     req.IsControl,
		Config:        req.Config,
	}
	if req.LinkedContentItemID != nil {
		linkedID, err := uuid.Parse(*req.LinkedContentItemID)
		if err != nil {
			http.Error(w, "Invalid linked content item ID", http.StatusBadRequest)
			return
		}
		addReq.LinkedContentItemID = &linkedID
	}

	variant, err := h.service.AddVariant(r.Context(), addReq)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, variant)
}

func (h *AdminHandler) CountAssignments(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	counts, err := h.service.CountAssignments(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	render.JSON(w, r, counts)
}
