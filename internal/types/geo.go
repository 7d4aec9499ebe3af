package types

import (
	"errors"
	"fmt"
	"math"

	"github.com/ichi0g0y/ring-overlay/internal/apperr"
)

// Position は経度・緯度の組。生成後は変更しない。
type Position struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// ErrOutOfRange は座標が範囲外のときに NewPosition が返すエラーの原因。
var ErrOutOfRange = errors.New("coordinate out of range")

func outOfRange(reason string) error {
	return &apperr.Error{Kind: apperr.KindValidation, Entity: "position", Reason: reason, Err: ErrOutOfRange}
}

// NewPosition validates the coordinate pair.
// The error matches ErrOutOfRange with errors.Is and is classified as validation.
func NewPosition(longitude, latitude float64) (Position, error) {
	if math.IsNaN(longitude) || longitude < -180 || longitude > 180 {
		return Position{}, outOfRange(fmt.Sprintf("longitude %v is out of range [-180,180]", longitude))
	}
	if math.IsNaN(latitude) || latitude < -90 || latitude > 90 {
		return Position{}, outOfRange(fmt.Sprintf("latitude %v is out of range [-90,90]", latitude))
	}
	return Position{Longitude: longitude, Latitude: latitude}, nil
}

// Hue は 0..359 に正規化された色相。
type Hue int

func NewHue(h int) Hue {
	return Hue(((h % 360) + 360) % 360)
}

// MaxSlotIndex は SlotIndex の上限 (含む)。
const MaxSlotIndex = 69

// SlotIndex はインスタンス内でリングが占める位置。
type SlotIndex int

func NewSlotIndex(i int) (SlotIndex, error) {
	if i < 0 || i > MaxSlotIndex {
		return 0, apperr.Validation("slot_index", fmt.Sprintf("%d is out of range [0,%d]", i, MaxSlotIndex))
	}
	return SlotIndex(i), nil
}
