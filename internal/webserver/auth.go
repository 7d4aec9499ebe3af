package webserver

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authorized は Authorization: Bearer <ADMIN_TOKEN> を確認する。
// トークン未設定なら常に拒否。
func (a *api) authorized(r *http.Request) bool {
	if a.adminToken == "" {
		return false
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(a.adminToken)) == 1
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
	writeJSON(w, http.StatusUnauthorized, errorBody{Error: categoryUnauthorized, Reason: "admin token required"})
}
