package webserver

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ichi0g0y/ring-overlay/internal/apperr"
	"github.com/ichi0g0y/ring-overlay/internal/shared/logger"
)

// エラーカテゴリ。HTTP のエラー本文と WebSocket のエラーフレームで共通。
const (
	categoryInvalidInput     = "invalid_input"
	categoryValidation       = "validation"
	categoryConflict         = "conflict"
	categoryNotFound         = "not_found"
	categoryInternal         = "internal"
	categoryUnauthorized     = "unauthorized"
	categoryInstanceGenerate = "instance_generate"
)

const internalReason = "internal server error"

// errorBody は HTTP エラー本文と WebSocket の error フレームの data。
type errorBody struct {
	Error  string  `json:"error"`
	Entity string  `json:"entity,omitempty"`
	Reason string  `json:"reason"`
	Nonce  *string `json:"nonce,omitempty"`
}

// describeError はエラーをカテゴリと HTTP ステータスに写像する。
// サーバー側の失敗は詳細を隠す。
func describeError(err error) (errorBody, int) {
	classified, ok := apperr.As(err)
	if !ok {
		return errorBody{Error: categoryInternal, Reason: internalReason}, http.StatusInternalServerError
	}

	switch classified.Kind {
	case apperr.KindValidation:
		return errorBody{Error: categoryValidation, Entity: classified.Entity, Reason: classified.Error()}, http.StatusBadRequest
	case apperr.KindConflict:
		return errorBody{Error: categoryConflict, Entity: classified.Entity, Reason: classified.Reason}, http.StatusConflict
	case apperr.KindNotFound:
		return errorBody{Error: categoryNotFound, Entity: classified.Entity, Reason: classified.Error()}, http.StatusNotFound
	default:
		return errorBody{Error: categoryInternal, Reason: internalReason}, http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body, status := describeError(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeJSON(w, status, body)
}

func writeInvalidInput(w http.ResponseWriter, reason string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: categoryInvalidInput, Reason: reason})
}
