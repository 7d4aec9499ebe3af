package webserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ichi0g0y/ring-overlay/internal/location"
)

// handleLocations handles the location feed and admin mutations
func (a *api) handleLocations(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		a.getLocationFeed(w, r)
		return
	}

	switch r.Method {
	case http.MethodPost, http.MethodPatch, http.MethodDelete:
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !a.authorized(r) {
		writeUnauthorized(w)
		return
	}

	switch r.Method {
	case http.MethodPost:
		a.createLocation(w, r)
	case http.MethodPatch:
		a.updateLocation(w, r)
	case http.MethodDelete:
		a.deleteLocation(w, r)
	}
}

func (a *api) getLocationFeed(w http.ResponseWriter, r *http.Request) {
	res, err := a.locations.Feed(r.Context(), r.Header.Get("If-None-Match"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Etag != "" {
		w.Header().Set("ETag", res.Etag)
	}
	w.Header().Set("Cache-Control", "no-cache")
	if res.NotModified {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, res.Body)
}

func decodeLocationInput(w http.ResponseWriter, r *http.Request) (location.Input, bool) {
	var in location.Input
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodySize)).Decode(&in); err != nil {
		writeInvalidInput(w, "malformed location payload")
		return location.Input{}, false
	}
	return in, true
}

func (a *api) createLocation(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeLocationInput(w, r)
	if !ok {
		return
	}
	loc, err := a.locations.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, location.NewFeature(loc))
}

func (a *api) updateLocation(w http.ResponseWriter, r *http.Request) {
	id, err := queryID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	in, ok := decodeLocationInput(w, r)
	if !ok {
		return
	}
	loc, err := a.locations.Update(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, location.NewFeature(loc))
}

func (a *api) deleteLocation(w http.ResponseWriter, r *http.Request) {
	id, err := queryID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.locations.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLocationQR は地点のライブビュー URL を QR コード PNG で返す。
func (a *api) handleLocationQR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := queryID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	size := location.DefaultQRSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		if n, convErr := strconv.Atoi(raw); convErr == nil && n >= 64 && n <= 1024 {
			size = n
		}
	}

	if _, err := a.locations.Get(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	png, err := location.QRCode(a.publicBaseURL, id, size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	_, _ = w.Write(png)
}
