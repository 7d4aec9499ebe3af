package webserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ichi0g0y/ring-overlay/internal/allocator"
	"github.com/ichi0g0y/ring-overlay/internal/broadcast"
	"github.com/ichi0g0y/ring-overlay/internal/cache"
	"github.com/ichi0g0y/ring-overlay/internal/imageexport"
	"github.com/ichi0g0y/ring-overlay/internal/localdb"
	"github.com/ichi0g0y/ring-overlay/internal/location"
	"github.com/ichi0g0y/ring-overlay/internal/types"
)

const testAdminToken = "test-admin-token"

var (
	ownerA = uuid.MustParse("aaaaaaaa-0000-4000-8000-000000000001")
	ownerB = uuid.MustParse("bbbbbbbb-0000-4000-8000-000000000002")
)

type testEnv struct {
	handler  http.Handler
	store    *localdb.Store
	hub      *broadcast.Registry
	location uuid.UUID
	imageDir string
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	if localdb.DBClient != nil {
		_ = localdb.DBClient.Close()
		localdb.DBClient = nil
	}

	store, err := localdb.SetupDB(localdb.Options{
		Driver: localdb.DriverSQLite3,
		Path:   filepath.Join(t.TempDir(), "local.db"),
	})
	if err != nil {
		t.Fatalf("SetupDB failed: %v", err)
	}

	hub := broadcast.NewRegistry(16)
	t.Cleanup(func() {
		_ = hub.Close()
		_ = store.Close()
		localdb.DBClient = nil
	})

	loc := types.Location{
		ID:        uuid.New(),
		Position:  types.Position{Longitude: 139.7671, Latitude: 35.6812},
		Names:     []types.LocalizedName{{Lang: "en", Name: "Tokyo Station"}, {Lang: "ja", Name: "東京駅"}},
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := store.CreateLocation(context.Background(), loc); err != nil {
		t.Fatalf("CreateLocation failed: %v", err)
	}

	imageDir := t.TempDir()
	gate := cache.NewGate(localdb.NewFeedTagStore(store, cache.Namespace))
	deps := Dependencies{
		Allocator:     allocator.New(store, store),
		Locations:     location.NewService(store, gate),
		Images:        imageexport.NewService(store, store, imageexport.NewFileExporter(imageDir)),
		Hub:           hub,
		AdminToken:    testAdminToken,
		PublicBaseURL: "https://rings.example.com",
	}

	return &testEnv{
		handler:  NewHandler(deps),
		store:    store,
		hub:      hub,
		location: loc.ID,
		imageDir: imageDir,
	}
}

func (e *testEnv) do(t *testing.T, method, target string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func ptr[T any](v T) *T { return &v }

func submission(locationID, owner uuid.UUID, slot int, nonce string) ringSubmission {
	s := ringSubmission{
		LocationID: locationID,
		Longitude:  ptr(139.76),
		Latitude:   ptr(35.68),
		SlotIndex:  ptr(slot),
		Hue:        ptr(slot * 5),
		OwnerID:    owner,
	}
	if nonce != "" {
		s.Nonce = &nonce
	}
	return s
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode response body %q: %v", rec.Body.String(), err)
	}
	return v
}
