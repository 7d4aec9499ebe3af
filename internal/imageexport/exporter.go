// Package imageexport は投稿済みリングのスナップショット画像を書き出す。
package imageexport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ichi0g0y/ring-overlay/internal/apperr"
	"github.com/ichi0g0y/ring-overlay/internal/localdb"
	"github.com/ichi0g0y/ring-overlay/internal/shared/logger"
	"github.com/ichi0g0y/ring-overlay/internal/types"
)

// MetadataLanguage は書き出しに使う地点名の言語。
const MetadataLanguage = "en"

// Metadata は画像と一緒に保存する情報。
type Metadata struct {
	RingID       string `json:"ring_id"`
	Index        int    `json:"index"`
	Color        int    `json:"color"`
	Location     string `json:"location"`
	CreationDate string `json:"creation_date"`
}

// Exporter は画像の保存先。
type Exporter interface {
	Export(ctx context.Context, name string, image []byte, meta Metadata) error
}

type RingFinder interface {
	FindRingByID(ctx context.Context, id uuid.UUID) (localdb.RingRecord, error)
}

type LocationReader interface {
	FindLocationByID(ctx context.Context, id uuid.UUID) (types.Location, error)
}

// Request は POST /api/images の本文。Image は base64 の PNG (data URL 可)。
type Request struct {
	RingID    uuid.UUID `json:"ring_id"`
	Image     string    `json:"image"`
	CreatedAt time.Time `json:"created_at"`
}

type Result struct {
	Name     string   `json:"name"`
	Metadata Metadata `json:"metadata"`
}

type Service struct {
	rings     RingFinder
	locations LocationReader
	exporter  Exporter
}

func NewService(rings RingFinder, locations LocationReader, exporter Exporter) *Service {
	return &Service{rings: rings, locations: locations, exporter: exporter}
}

func (s *Service) Export(ctx context.Context, req Request) (Result, error) {
	if req.RingID == uuid.Nil {
		return Result{}, apperr.Validation("ring_id", "ring id is required")
	}
	if req.CreatedAt.IsZero() {
		return Result{}, apperr.Validation("created_at", "created_at is required")
	}
	image, err := decodePNG(req.Image)
	if err != nil {
		return Result{}, err
	}

	rec, err := s.rings.FindRingByID(ctx, req.RingID)
	if err != nil {
		return Result{}, apperr.Driver(err)
	}
	loc, err := s.locations.FindLocationByID(ctx, rec.LocationID)
	if err != nil {
		return Result{}, apperr.Driver(err)
	}
	name, ok := loc.Name(MetadataLanguage)
	if !ok {
		return Result{}, apperr.NotFound("localize", "find_by_lang", MetadataLanguage)
	}

	createdAt := req.CreatedAt.UTC()
	meta := Metadata{
		RingID:       rec.Ring.ID.String(),
		Index:        int(rec.Ring.Slot),
		Color:        int(rec.Ring.Hue),
		Location:     name,
		CreationDate: createdAt.Format(time.RFC3339Nano),
	}
	fileName := fmt.Sprintf("%s_%s", createdAt.Format("20060102T150405.000000000Z"), rec.Ring.ID)

	if err := s.exporter.Export(ctx, fileName, image, meta); err != nil {
		logger.Error("Failed to export image", zap.Error(err), zap.String("ring_id", meta.RingID))
		return Result{}, apperr.Driver(fmt.Errorf("failed to export image: %w", err))
	}

	logger.Info("Image exported", zap.String("ring_id", meta.RingID), zap.String("name", fileName))
	return Result{Name: fileName, Metadata: meta}, nil
}

func decodePNG(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if i := strings.Index(encoded, ";base64,"); strings.HasPrefix(encoded, "data:") && i >= 0 {
		encoded = encoded[i+len(";base64,"):]
	}
	if encoded == "" {
		return nil, apperr.Validation("image", "image is required")
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apperr.Validation("image", "image is not valid base64")
	}
	if _, err := png.DecodeConfig(bytes.NewReader(data)); err != nil {
		return nil, apperr.Validation("image", "image is not a PNG")
	}
	return data, nil
}

// FileExporter は画像とメタデータ JSON をディレクトリに書き出す。
type FileExporter struct {
	dir string
}

func NewFileExporter(dir string) *FileExporter {
	return &FileExporter{dir: dir}
}

func (f *FileExporter) Export(_ context.Context, name string, image []byte, meta Metadata) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create image dir: %w", err)
	}

	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(f.dir, name+".png"), image); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(f.dir, name+".json"), metaJSON)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", filepath.Base(path), err)
	}
	return nil
}
