package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"mapsync/internal/application/dto"
	"mapsync/internal/application/services"
	"mapsync/internal/domain/entities"
	"mapsync/pkg/auth"
	pkgerrors "mapsync/pkg/errors"
)

// CreateMapRequest is the body of POST /api/maps
type CreateMapRequest struct {
	Title string `json:"title" validate:"max=200"`
	// OwnerID is only read when authentication is disabled
	OwnerID string `json:"owner_id" validate:"omitempty,max=128"`
}

// UpdateMapRequest is the body of PATCH /api/maps/{mapID}
type UpdateMapRequest struct {
	Title    *string `json:"title" validate:"omitempty,max=200"`
	IsShared *bool   `json:"is_shared"`
}

// MapHandler handles map lifecycle requests
type MapHandler struct {
	maps        services.MapService
	validate    *validator.Validate
	authEnabled bool
	logger      *zap.Logger
}

// NewMapHandler creates a map handler. With authEnabled false the caller is
// identified by the owner query parameter or body field instead of a token.
func NewMapHandler(maps services.MapService, authEnabled bool, logger *zap.Logger) *MapHandler {
	return &MapHandler{
		maps:        maps,
		validate:    validator.New(),
		authEnabled: authEnabled,
		logger:      logger.Named("maps_handler"),
	}
}

// caller returns the authenticated user id, or "" when auth is disabled
func (h *MapHandler) caller(r *http.Request) (string, error) {
	if !h.authEnabled {
		return "", nil
	}
	user, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		return "", pkgerrors.NewUnauthorizedError("unauthorized")
	}
	return user.UserID, nil
}

// authorize checks access when auth is enabled
func (h *MapHandler) authorize(r *http.Request, mapID string, need services.Access) error {
	userID, err := h.caller(r)
	if err != nil || !h.authEnabled {
		return err
	}
	_, err = h.maps.Authorize(r.Context(), mapID, userID, need)
	return err
}

func (h *MapHandler) decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return pkgerrors.NewValidationError(fmt.Sprintf("invalid request body: %v", err))
	}
	if err := h.validate.Struct(v); err != nil {
		return pkgerrors.NewValidationError(validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed '%s'", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

// ListMaps handles GET /api/maps
func (h *MapHandler) ListMaps(w http.ResponseWriter, r *http.Request) {
	owner, err := h.caller(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if !h.authEnabled {
		owner = r.URL.Query().Get("owner")
	}

	maps, err := h.maps.ListMaps(r.Context(), owner)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"maps":  dto.ToMapViews(maps),
		"total": len(maps),
	})
}

// CreateMap handles POST /api/maps
func (h *MapHandler) CreateMap(w http.ResponseWriter, r *http.Request) {
	owner, err := h.caller(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	var req CreateMapRequest
	if err := h.decode(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if !h.authEnabled {
		owner = req.OwnerID
	}

	m, err := h.maps.CreateMap(r.Context(), owner, req.Title)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	w.Header().Set("Location", "/api/maps/"+m.ID)
	respondJSON(w, http.StatusCreated, dto.ToMapView(*m))
}

// GetMap handles GET /api/maps/{mapID}
func (h *MapHandler) GetMap(w http.ResponseWriter, r *http.Request) {
	mapID := chi.URLParam(r, "mapID")
	if err := h.authorize(r, mapID, services.AccessView); err != nil {
		respondError(w, h.logger, err)
		return
	}

	g, err := h.maps.GetMapGraph(r.Context(), mapID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.ToMapGraphView(g.Map, g.Nodes, g.Edges))
}

// UpdateMap handles PATCH /api/maps/{mapID}
func (h *MapHandler) UpdateMap(w http.ResponseWriter, r *http.Request) {
	mapID := chi.URLParam(r, "mapID")
	if err := h.authorize(r, mapID, services.AccessOwner); err != nil {
		respondError(w, h.logger, err)
		return
	}
	var req UpdateMapRequest
	if err := h.decode(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if req.Title == nil && req.IsShared == nil {
		respondError(w, h.logger, pkgerrors.NewValidationError("nothing to update"))
		return
	}

	var (
		m   *entities.MindMap
		err error
	)
	if req.Title != nil {
		if m, err = h.maps.RenameMap(r.Context(), mapID, *req.Title); err != nil {
			respondError(w, h.logger, err)
			return
		}
	}
	if req.IsShared != nil {
		if m, err = h.maps.SetShared(r.Context(), mapID, *req.IsShared); err != nil {
			respondError(w, h.logger, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, dto.ToMapView(*m))
}

// DeleteMap handles DELETE /api/maps/{mapID}
func (h *MapHandler) DeleteMap(w http.ResponseWriter, r *http.Request) {
	mapID := chi.URLParam(r, "mapID")
	if err := h.authorize(r, mapID, services.AccessOwner); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if err := h.maps.DeleteMap(r.Context(), mapID); err != nil {
		respondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
