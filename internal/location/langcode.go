package location

import (
	"strings"

	"github.com/abadojack/whatlanggo"
	"go.uber.org/zap"

	"github.com/ichi0g0y/ring-overlay/internal/shared/logger"
	"github.com/ichi0g0y/ring-overlay/internal/types"
)

// DetectLanguage returns the ISO 639-1 code of text when detection is reliable.
// Returns "" otherwise.
func DetectLanguage(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}

// checkLanguage は表示名の言語が宣言と食い違う場合にログを残す。登録は拒否しない。
func checkLanguage(n types.LocalizedName) {
	detected := DetectLanguage(n.Name)
	if detected == "" {
		return
	}
	declared, _, _ := strings.Cut(n.Lang, "-")
	if declared != detected {
		logger.Debug("Localized name looks like another language",
			zap.String("lang", n.Lang),
			zap.String("detected", detected),
			zap.String("name", n.Name))
	}
}
