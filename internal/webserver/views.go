package webserver

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ichi0g0y/ring-overlay/internal/allocator"
	"github.com/ichi0g0y/ring-overlay/internal/instance"
	"github.com/ichi0g0y/ring-overlay/internal/types"
)

// ringSubmission はリング投稿の本文 (HTTP / WebSocket 共通)。
// 座標・スロット・色相は 0 が有効値なので欠落と区別するためポインタで受ける。
type ringSubmission struct {
	LocationID uuid.UUID  `json:"location_id"`
	Longitude  *float64   `json:"longitude"`
	Latitude   *float64   `json:"latitude"`
	SlotIndex  *int       `json:"slot_index"`
	Hue        *int       `json:"hue"`
	OwnerID    uuid.UUID  `json:"owner_id"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	Nonce      *string    `json:"nonce,omitempty"`
}

// request は必須項目がそろっていれば SubmitRequest を返す。
// エラーは invalid_input として返す。
func (s ringSubmission) request() (allocator.SubmitRequest, error) {
	var missing []string
	if s.Longitude == nil {
		missing = append(missing, "longitude")
	}
	if s.Latitude == nil {
		missing = append(missing, "latitude")
	}
	if s.SlotIndex == nil {
		missing = append(missing, "slot_index")
	}
	if s.Hue == nil {
		missing = append(missing, "hue")
	}
	if len(missing) > 0 {
		return allocator.SubmitRequest{}, errors.New("missing required fields: " + strings.Join(missing, ", "))
	}

	req := allocator.SubmitRequest{
		LocationID: s.LocationID,
		Longitude:  *s.Longitude,
		Latitude:   *s.Latitude,
		SlotIndex:  *s.SlotIndex,
		Hue:        *s.Hue,
		OwnerID:    s.OwnerID,
	}
	if s.CreatedAt != nil {
		req.CreatedAt = *s.CreatedAt
	}
	return req, nil
}

type ringView struct {
	ID        uuid.UUID `json:"id"`
	Longitude float64   `json:"longitude"`
	Latitude  float64   `json:"latitude"`
	Owner     uuid.UUID `json:"owner_id"`
	Index     int       `json:"slot_index"`
	Hue       int       `json:"hue"`
	CreatedAt time.Time `json:"created_at"`
}

func newRingView(r types.Ring) ringView {
	return ringView{
		ID:        r.ID,
		Longitude: r.Position.Longitude,
		Latitude:  r.Position.Latitude,
		Owner:     r.Owner,
		Index:     int(r.Slot),
		Hue:       int(r.Hue),
		CreatedAt: r.CreatedAt,
	}
}

type instanceSummary struct {
	ID         uuid.UUID  `json:"id"`
	Location   uuid.UUID  `json:"location"`
	RingCount  int        `json:"ring_count"`
	Capacity   int        `json:"capacity"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

func newInstanceSummary(in *instance.Instance) instanceSummary {
	return instanceSummary{
		ID:         in.ID,
		Location:   in.LocationID,
		RingCount:  in.Rings.Len(),
		Capacity:   instance.Capacity,
		StartedAt:  in.StartedAt,
		FinishedAt: in.FinishedAt,
	}
}

type instanceDetail struct {
	instanceSummary
	Rings []ringView `json:"rings"`
}

func newInstanceDetail(in *instance.Instance) instanceDetail {
	rings := make([]ringView, 0, in.Rings.Len())
	for r := range in.Rings.All() {
		rings = append(rings, newRingView(r))
	}
	return instanceDetail{instanceSummary: newInstanceSummary(in), Rings: rings}
}

// ringAddedEvent は受理されたリングの配信内容。
type ringAddedEvent struct {
	Instance instanceSummary `json:"instance"`
	Ring     ringView        `json:"ring"`
	Nonce    *string         `json:"nonce,omitempty"`
}

// ringCreatedResponse は POST /api/rings の応答。
type ringCreatedResponse struct {
	ID       uuid.UUID `json:"id"`
	Instance uuid.UUID `json:"instance"`
	Location uuid.UUID `json:"location"`
}
