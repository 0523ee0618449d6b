package health

import (
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// Handler answers 204 while checker is healthy and 503 with one failure per line otherwise.
func Handler(checker Checker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := checker.Check()
		if err == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		log.WithError(err).Warn("health check failed")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := io.WriteString(w, err.Error()); err != nil {
			log.WithError(err).Error("failed to write health check response")
		}
	})
}
