// Package location は地点の登録・更新とフィード配信を扱う。
package location

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ichi0g0y/ring-overlay/internal/apperr"
	"github.com/ichi0g0y/ring-overlay/internal/shared/logger"
	"github.com/ichi0g0y/ring-overlay/internal/types"
)

// Repository は地点の永続化先。見つからない場合は NotFound を返すこと。
type Repository interface {
	CreateLocation(ctx context.Context, loc types.Location) error
	UpdateLocation(ctx context.Context, loc types.Location) error
	DeleteLocation(ctx context.Context, id uuid.UUID) error
	FindLocationByID(ctx context.Context, id uuid.UUID) (types.Location, error)
	FindAllLocations(ctx context.Context) ([]types.Location, error)
}

// FeedGate は書き込み後にフィードのタグを更新する。
type FeedGate interface {
	NotModified(ctx context.Context, ifNoneMatch string) bool
	Current(ctx context.Context) string
	Invalidate(ctx context.Context)
}

// Input は作成・更新リクエストの内容。Localize は言語コード → 表示名。
type Input struct {
	Longitude float64           `json:"longitude"`
	Latitude  float64           `json:"latitude"`
	Radius    *int              `json:"radius,omitempty"`
	Localize  map[string]string `json:"localize"`
}

type Service struct {
	repo Repository
	gate FeedGate
	now  func() time.Time
}

func NewService(repo Repository, gate FeedGate) *Service {
	return &Service{repo: repo, gate: gate, now: time.Now}
}

func (s *Service) Create(ctx context.Context, in Input) (types.Location, error) {
	loc, err := s.build(uuid.New(), in)
	if err != nil {
		return types.Location{}, err
	}
	loc.CreatedAt = s.now().UTC()

	if err := s.repo.CreateLocation(ctx, loc); err != nil {
		return types.Location{}, apperr.Driver(err)
	}
	s.gate.Invalidate(ctx)

	logger.Info("Location created", zap.String("location_id", loc.ID.String()), zap.Int("names", len(loc.Names)))
	return loc, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in Input) (types.Location, error) {
	loc, err := s.build(id, in)
	if err != nil {
		return types.Location{}, err
	}
	if err := s.repo.UpdateLocation(ctx, loc); err != nil {
		return types.Location{}, apperr.Driver(err)
	}
	s.gate.Invalidate(ctx)

	logger.Info("Location updated", zap.String("location_id", id.String()))
	return s.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteLocation(ctx, id); err != nil {
		return apperr.Driver(err)
	}
	s.gate.Invalidate(ctx)

	logger.Info("Location deleted", zap.String("location_id", id.String()))
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (types.Location, error) {
	loc, err := s.repo.FindLocationByID(ctx, id)
	if err != nil {
		return types.Location{}, apperr.Driver(err)
	}
	return loc, nil
}

func (s *Service) List(ctx context.Context) ([]types.Location, error) {
	list, err := s.repo.FindAllLocations(ctx)
	if err != nil {
		return nil, apperr.Driver(err)
	}
	return list, nil
}

// FeedResult は条件付きフィード読み出しの結果。
// NotModified が true の場合 Body は空。
type FeedResult struct {
	NotModified bool
	Etag        string
	Body        FeatureCollection
}

// Feed answers a conditional read of the location feed. A matching
// If-None-Match is answered without touching the repository.
func (s *Service) Feed(ctx context.Context, ifNoneMatch string) (FeedResult, error) {
	if s.gate.NotModified(ctx, ifNoneMatch) {
		return FeedResult{NotModified: true, Etag: strings.TrimSpace(ifNoneMatch)}, nil
	}

	// タグは一覧より先に取得する
	tag := s.gate.Current(ctx)
	list, err := s.List(ctx)
	if err != nil {
		return FeedResult{}, err
	}
	return FeedResult{Etag: tag, Body: NewFeatureCollection(list)}, nil
}

func (s *Service) build(id uuid.UUID, in Input) (types.Location, error) {
	pos, err := types.NewPosition(in.Longitude, in.Latitude)
	if err != nil {
		return types.Location{}, err
	}
	if in.Radius != nil && *in.Radius < 0 {
		return types.Location{}, apperr.Validation("radius", fmt.Sprintf("must not be negative: %d", *in.Radius))
	}
	if len(in.Localize) == 0 {
		return types.Location{}, apperr.Validation("localize", "at least one name is required")
	}

	names := make([]types.LocalizedName, 0, len(in.Localize))
	seen := make(map[string]bool, len(in.Localize))
	for lang, name := range in.Localize {
		n, err := types.NewLocalizedName(lang, name)
		if err != nil {
			return types.Location{}, err
		}
		if seen[n.Lang] {
			return types.Location{}, apperr.Validation("localize", "duplicate language code: "+n.Lang)
		}
		seen[n.Lang] = true
		checkLanguage(n)
		names = append(names, n)
	}
	slices.SortFunc(names, func(a, b types.LocalizedName) int { return strings.Compare(a.Lang, b.Lang) })

	return types.Location{ID: id, Position: pos, Radius: in.Radius, Names: names}, nil
}
