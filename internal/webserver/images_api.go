package webserver

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ichi0g0y/ring-overlay/internal/imageexport"
	"github.com/ichi0g0y/ring-overlay/internal/shared/logger"
)

// base64 の PNG を受けるので JSON より大きめ
const maxImageBodySize = 8 << 20

// handleImages handles POST /api/images
func (a *api) handleImages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req imageexport.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxImageBodySize)).Decode(&req); err != nil {
		writeInvalidInput(w, "malformed image payload")
		return
	}

	res, err := a.images.Export(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logger.Info("Ring image exported",
		zap.String("ring_id", req.RingID.String()),
		zap.String("name", res.Name))
	writeJSON(w, http.StatusCreated, res)
}
