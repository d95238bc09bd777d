package core

// HTTP gateway: serves deployed sites by resolving zhtp://<domain>/<path>
// requests through the domain registry and manifest. Path resolution is
// exact match, trailing-slash, appended /index.html, then the manifest's
// SPA fallback, in that order.

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// GatewayHandler builds the application handler mounted behind the
// middleware pipeline. The domain comes from the Host header with any port
// stripped.
func GatewayHandler(registry *DomainRegistry, blobs *BlobStore) http.Handler {
	logger := logrus.WithField("module", "gateway")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		domain := r.Host
		if i := strings.LastIndex(domain, ":"); i > 0 {
			domain = domain[:i]
		}
		if !IsValidDomain(domain) {
			http.Error(w, "not a zhtp domain", http.StatusBadRequest)
			return
		}

		rec, err := registry.Get(domain)
		if err != nil {
			http.Error(w, "unknown domain", http.StatusNotFound)
			return
		}
		raw, err := blobs.Get(rec.CurrentManifestCID)
		if err != nil {
			logger.Warnf("manifest %s missing for %s", rec.CurrentManifestCID, domain)
			http.Error(w, "manifest unavailable", http.StatusBadGateway)
			return
		}
		var manifest Web4Manifest
		if err := json.Unmarshal(raw, &manifest); err != nil {
			http.Error(w, "manifest corrupt", http.StatusBadGateway)
			return
		}

		file := manifest.ResolvePath(r.URL.Path)
		if file == nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		content, err := blobs.Get(file.CID)
		if err != nil {
			http.Error(w, "content unavailable", http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", file.Mime)
		w.Header().Set("ETag", `"`+file.ETag+`"`)
		if file.Encoding != nil {
			w.Header().Set("Content-Encoding", *file.Encoding)
		}
		for _, pattern := range manifest.CacheHints.Immutable {
			if matchGlobSuffix(pattern, file.Path) {
				w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
				break
			}
		}
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		_, _ = w.Write(content)
	})
}

// matchGlobSuffix matches the "*.ext" patterns used in cache hints.
func matchGlobSuffix(pattern, path string) bool {
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(path, pattern[1:])
	}
	return pattern == path
}
