package types

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ichi0g0y/ring-overlay/internal/apperr"
)

// Ring はインスタンスに置かれた1件のエントリ。
type Ring struct {
	ID        uuid.UUID `json:"id"`
	Position  Position  `json:"position"`
	Owner     uuid.UUID `json:"owner"`
	Slot      SlotIndex `json:"index"`
	Hue       Hue       `json:"hue"`
	CreatedAt time.Time `json:"created_at"`
}

// MaxLangCodeLength bounds LocalizedName.Lang.
const MaxLangCodeLength = 4

// LocalizedName is one display name of a location.
type LocalizedName struct {
	Lang string `json:"lang"`
	Name string `json:"name"`
}

// NewLocalizedName normalizes the language code and validates both fields.
func NewLocalizedName(lang, name string) (LocalizedName, error) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	name = strings.TrimSpace(name)
	if lang == "" {
		return LocalizedName{}, apperr.Validation("localize", "language code is empty")
	}
	if utf8.RuneCountInString(lang) > MaxLangCodeLength {
		return LocalizedName{}, apperr.Validation("localize", "language code must be at most 4 characters: "+lang)
	}
	if name == "" {
		return LocalizedName{}, apperr.Validation("localize", "name is empty for "+lang)
	}
	return LocalizedName{Lang: lang, Name: name}, nil
}

// Location は登録済みの地点。
type Location struct {
	ID        uuid.UUID       `json:"id"`
	Position  Position        `json:"position"`
	Radius    *int            `json:"radius,omitempty"`
	Names     []LocalizedName `json:"localize"`
	CreatedAt time.Time       `json:"created_at"`
}

// Name returns the display name for lang.
func (l Location) Name(lang string) (string, bool) {
	for _, n := range l.Names {
		if n.Lang == lang {
			return n.Name, true
		}
	}
	return "", false
}
