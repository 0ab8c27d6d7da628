package middleware

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// Gzip compresses responses except under the given path prefixes; /healthz
// when none are given, so health checks stay uncompressed.
func Gzip(excluded ...string) gin.HandlerFunc {
	if len(excluded) == 0 {
		excluded = []string{"/healthz"}
	}
	return gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths(excluded))
}
