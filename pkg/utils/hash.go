package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// CacheKey builds "<namespace>:<md5 of the case-folded term>".
func CacheKey(namespace, term string) string {
	return namespace + ":" + HashString(strings.ToLower(strings.TrimSpace(term)))
}
