// Package cache はロケーションフィードの ETag による条件付き読み出しを扱う。
package cache

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// NewEtag は時刻から強い検証子を作る。同じ瞬間の2回の書き込みは同じタグになりうる。
func NewEtag(t time.Time) string {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%d", t.UnixNano())
	return fmt.Sprintf(`"%016x"`, h.Sum64())
}

// Matches reports whether an If-None-Match header value matches tag.
// Weak validators compare equal to their strong form and "*" matches anything.
func Matches(ifNoneMatch, tag string) bool {
	if tag == "" {
		return false
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate != "" && candidate == strings.TrimPrefix(tag, "W/") {
			return true
		}
	}
	return false
}
