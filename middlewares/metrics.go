package middlewares

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jsndz/petbus/metrics"
)

type ResponseWriterWithStatus struct {
	http.ResponseWriter
	StatusCode int
}

func (w *ResponseWriterWithStatus) WriteHeader(code int) {
	w.StatusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// MetricsMiddleware records request metrics for the plain net/http muxes of
// the worker and consumer processes.
func MetricsMiddleware(next http.Handler) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrappedWriter := &ResponseWriterWithStatus{ResponseWriter: w, StatusCode: http.StatusOK}

		next.ServeHTTP(wrappedWriter, r)

		observe(r.URL.Path, r.Method, wrappedWriter.StatusCode, time.Since(start))
	})
}

func GinMetricsMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		endpoint := ctx.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		observe(endpoint, ctx.Request.Method, ctx.Writer.Status(), time.Since(start))
	}
}

func observe(endpoint, method string, statusCode int, d time.Duration) {
	status := fmt.Sprintf("%d", statusCode)
	metrics.HttpRequestsTotal.WithLabelValues(endpoint, status, method).Inc()
	metrics.HttpRequestDuration.WithLabelValues(endpoint, method).Observe(d.Seconds())
	if statusCode >= 400 && statusCode < 600 {
		metrics.HttpErrorsTotal.WithLabelValues(endpoint, status, method).Inc()
	}
}
