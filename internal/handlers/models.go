package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"glmgate/internal/apierr"
	"glmgate/internal/registry"
)

// ModelsHandler serves the model listing endpoints from the registry
// snapshot. No upstream traffic on the request path.
type ModelsHandler struct {
	Registry *registry.Registry
}

func NewModelsHandler(reg *registry.Registry) *ModelsHandler {
	return &ModelsHandler{Registry: reg}
}

type modelObject struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelList struct {
	Object string        `json:"object"`
	Data   []modelObject `json:"data"`
}

// List handles GET /v1/models.
func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	descriptors := h.Registry.List()

	out := modelList{Object: "list", Data: make([]modelObject, 0, len(descriptors))}
	for _, d := range descriptors {
		out.Data = append(out.Data, modelObject{
			ID:      d.PublicID,
			Object:  "model",
			Created: d.Created,
			OwnedBy: d.OwnedBy,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// Retrieve handles GET /v1/models/{model}.
func (h *ModelsHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "model")

	d, err := h.Registry.Resolve(id)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(modelObject{
		ID:      d.PublicID,
		Object:  "model",
		Created: d.Created,
		OwnedBy: d.OwnedBy,
	})
}
