package middleware

import (
	"net/http"
	"strings"
)

// SkipCompressionForMedia wraps a compression middleware handler so media
// streaming endpoints bypass it. Compressing segment bytes would break the
// byte-range arithmetic the proxy relies on, and re-compressing already
// compressed media wastes CPU.
func SkipCompressionForMedia(compressionHandler func(http.Handler) http.Handler, mediaPaths ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressedHandler := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range mediaPaths {
				if strings.HasPrefix(r.URL.Path, p) {
					next.ServeHTTP(w, r)
					return
				}
			}

			compressedHandler.ServeHTTP(w, r)
		})
	}
}
