package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Key prefixes. Every key is <prefix>:<entityOrOperation>:<discriminator>[:<subpath>].
const (
	PrefixUser        = "user"
	PrefixSession     = "session"
	PrefixTrading     = "trading"
	PrefixCourse      = "course"
	PrefixModule      = "module"
	PrefixLesson      = "lesson"
	PrefixMarket      = "market"
	PrefixAnalytics   = "analytics"
	PrefixPermissions = "permissions"
	PrefixCache       = "cache"
)

// Prefixes lists every namespace in use.
var Prefixes = []string{
	PrefixUser, PrefixSession, PrefixTrading, PrefixCourse, PrefixModule,
	PrefixLesson, PrefixMarket, PrefixAnalytics, PrefixPermissions, PrefixCache,
}

// Key joins prefix and parts with ':'.
func Key(prefix string, parts ...string) string {
	var sb strings.Builder
	sb.WriteString(prefix)
	for _, p := range parts {
		sb.WriteByte(':')
		sb.WriteString(p)
	}
	return sb.String()
}

// Digest returns a short stable hash of v's JSON form, for keys derived from
// filter or parameter objects. Map keys are sorted by encoding/json so equal
// maps always produce the same digest.
func Digest(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(err.Error())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
