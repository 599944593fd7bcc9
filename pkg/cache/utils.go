package cache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// GenerateKey creates a cache key with prefix and ID.
func GenerateKey(prefix string, id string) string {
	return fmt.Sprintf("%s:%s", prefix, id)
}

// GenerateKeyWithParams joins the prefix and params with ':'. Empty params are skipped.
func GenerateKeyWithParams(prefix string, params ...interface{}) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, param := range params {
		s := fmt.Sprint(param)
		if s == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(s)
	}
	return b.String()
}

// HashKey generates MD5 hash of a key.
func HashKey(key string) string {
	hasher := md5.New()
	hasher.Write([]byte(key))
	return hex.EncodeToString(hasher.Sum(nil))
}
