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

// ResolveHandler handles HTTP requests for content resolution
type ResolveHandler struct {
	service personalize.Service
}

// NewResolveHandler creates a new resolve handler
func NewResolveHandler(service personalize.Service) *ResolveHandler {
	return &ResolveHandler{service: service}
}

// Routes returns the routes for resolution
func (h *ResolveHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Resolve)
	r.Post("/all", h.ResolveAll)

	return r
}

// ResolveRequest is the request body for resolving a single content item
type ResolveRequest struct {
	ContentItemID string                `json:"content_item_id"`
	Persona       string                `json:"persona"`
	FunnelStage   string                `json:"funnel_stage"`
	SessionID     string                `json:"session_id"`
	Preview       *PreviewOverrideInput `json:"preview,omitempty"`
}

// ResolveAllRequest is the request body for resolving a whole content type
type ResolveAllRequest struct {
	ContentType string                `json:"content_type"`
	Persona     string                `json:"persona"`
	FunnelStage string                `json:"funnel_stage"`
	SessionID   string                `json:"session_id"`
	Preview     *PreviewOverrideInput `json:"preview,omitempty"`
}

// PreviewOverrideInput is the admin preview context. IDs are strings on the
// wire; forced_variants maps experiment id to variant id.
type PreviewOverrideInput struct {
	ForcedPersona     *string           `json:"forced_persona,omitempty"`
	ForcedFunnelStage *string           `json:"forced_funnel_stage,omitempty"`
	ForcedVariants    map[string]string `json:"forced_variants,omitempty"`
}

func (p *PreviewOverrideInput) toDomain() (*personalize.PreviewOverride, error) {
	if p == nil {
		return nil, nil
	}

	preview := &personalize.PreviewOverride{}
	if p.ForcedPersona != nil {
		persona := personalize.Persona(*p.ForcedPersona)
		preview.ForcedPersona = &persona
	}
	if p.ForcedFunnelStage != nil {
		stage := personalize.FunnelStage(*p.ForcedFunnelStage)
		preview.ForcedFunnelStage = &stage
	}
	if len(p.ForcedVariants) > 0 {
		preview.ForcedVariants = make(map[uuid.UUID]uuid.UUID, len(p.ForcedVariants))
		for expStr, varStr := range p.ForcedVariants {
			expID, err := uuid.Parse(expStr)
			if err != nil {
				return nil, err
			}
			varID, err := uuid.Parse(varStr)
			if err != nil {
				return nil, err
			}
			preview.ForcedVariants[expID] = varID
		}
	}

	return preview, nil
}

// Resolve resolves one content item for a visitor context
func (h *ResolveHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	itemID, err := uuid.Parse(req.ContentItemID)
	if err != nil {
		slog.Error("Invalid content item ID", "content_item_id", req.ContentItemID, "error", err)
		http.Error(w, "Invalid content item ID", http.StatusBadRequest)
		return
	}

	preview, err := req.Preview.toDomain()
	if err != nil {
		http.Error(w, "Invalid preview override", http.StatusBadRequest)
		return
	}

	resolved, err := h.service.Resolve(r.Context(), personalize.ResolveRequest{
		ContentItemID: itemID,
		Visitor: personalize.VisitorContext{
			Persona:     personalize.Persona(req.Persona),
			FunnelStage: personalize.FunnelStage(req.FunnelStage),
			SessionID:   req.SessionID,
		},
		Preview: preview,
	})
	if err != nil {
		if errors.Is(err, personalize.ErrContentNotFound) {
			http.Error(w, "Content item not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to resolve content", "content_item_id", itemID, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	render.JSON(w, r, resolved)
}

// ResolveAll resolves every active item of a content type for a visitor
func (h *ResolveHandler) ResolveAll(w http.ResponseWriter, r *http.Request) {
	var req ResolveAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.ContentType == "" {
		http.Error(w, "content_type is required", http.StatusBadRequest)
		return
	}

	preview, err := req.Preview.toDomain()
	if err != nil {
		http.Error(w, "Invalid preview override", http.StatusBadRequest)
		return
	}

	resolved, err := h.service.ResolveAll(r.Context(), personalize.ResolveAllRequest{
		ContentType: personalize.ContentType(req.ContentType),
		Visitor: personalize.VisitorContext{
			Persona:     personalize.Persona(req.Persona),
			FunnelStage: personalize.FunnelStage(req.FunnelStage),
			SessionID:   req.SessionID,
		},
		Preview: preview,
	})
	if err != nil {
		slog.Error("Failed to resolve content list", "content_type", req.ContentType, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	render.JSON(w, r, resolved)
}
