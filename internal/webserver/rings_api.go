package webserver

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ichi0g0y/ring-overlay/internal/apperr"
	"github.com/ichi0g0y/ring-overlay/internal/shared/logger"
)

const maxJSONBodySize = 64 * 1024

// handleRings handles GET and POST requests for /api/rings
func (a *api) handleRings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.getRings(w, r)
	case http.MethodPost:
		a.postRing(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *api) getRings(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Has("id") {
		id, err := queryID(r, "id")
		if err != nil {
			writeError(w, r, err)
			return
		}
		in, err := a.allocator.FindByID(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newInstanceDetail(in))
		return
	}

	list, err := a.allocator.FindAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	summaries := make([]instanceSummary, 0, len(list))
	for _, in := range list {
		summaries = append(summaries, newInstanceSummary(in))
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (a *api) postRing(w http.ResponseWriter, r *http.Request) {
	var sub ringSubmission
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodySize)).Decode(&sub); err != nil {
		writeInvalidInput(w, "malformed ring payload")
		return
	}
	req, err := sub.request()
	if err != nil {
		writeInvalidInput(w, err.Error())
		return
	}
	if sub.LocationID == uuid.Nil {
		writeError(w, r, apperr.Validation("location", "location_id is required"))
		return
	}

	in, ring, err := a.allocator.Submit(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	publishRingAdded(a.hub, in, ring, sub.Nonce)

	logger.Info("Ring submitted",
		zap.String("ring_id", ring.ID.String()),
		zap.String("instance_id", in.ID.String()))
	writeJSON(w, http.StatusCreated, ringCreatedResponse{
		ID:       ring.ID,
		Instance: in.ID,
		Location: in.LocationID,
	})
}

// queryID はクエリパラメータを uuid として読む。
func queryID(r *http.Request, name string) (uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return uuid.Nil, apperr.Validation(name, name+" query parameter is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Validation(name, name+" must be a uuid")
	}
	return id, nil
}
