package httpcache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/learnwise/cachecore/cache"
)

// KeyPrefix namespaces response entries.
var KeyPrefix = cache.Key(cache.PrefixCache, "http")

func composite(r *http.Request, identity string, body []byte) string {
	var sb strings.Builder
	sb.WriteString(r.Method)
	sb.WriteByte('\n')
	sb.WriteString(r.URL.Path)
	sb.WriteByte('\n')
	sb.WriteString(identity)
	sb.WriteByte('\n')
	// Encode sorts by parameter name
	sb.WriteString(r.URL.Query().Encode())
	sb.WriteByte('\n')
	if len(body) > 0 {
		sum := sha256.Sum256(body)
		sb.WriteString(hex.EncodeToString(sum[:]))
	}
	return sb.String()
}

// DefaultKey is cache:http:<sha256(method, path, identity, sorted query, sha256(body))>.
func DefaultKey(r *http.Request, identity string, body []byte) string {
	sum := sha256.Sum256([]byte(composite(r, identity, body)))
	return KeyPrefix + ":" + hex.EncodeToString(sum[:])
}

// FastKey is DefaultKey with an xxhash64 composite digest.
func FastKey(r *http.Request, identity string, body []byte) string {
	return KeyPrefix + ":" + strconv.FormatUint(xxhash.Sum64String(composite(r, identity, body)), 16)
}
