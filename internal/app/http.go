package app

import (
	"net/http"
	"strings"

	"github.com/gdfm-dev/gdfm/internal/metrics"
	"github.com/gdfm-dev/gdfm/internal/report"
	"github.com/gdfm-dev/gdfm/internal/store"
	"github.com/gdfm-dev/gdfm/internal/telemetry"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// NewHTTPHandler wires metrics, health, and report endpoints on a single mux.
func NewHTTPHandler(metricsHandler http.Handler, reportHandler http.Handler) http.Handler {
	router := chi.NewRouter()
	traceMode := telemetry.TraceMode()
	router.Handle("/metrics", wrapHTTPHandler(traceMode, "metrics", metricsHandler))
	router.Handle("/healthz", wrapHTTPHandler(traceMode, "healthz", healthHandler()))
	router.Handle("/report", wrapHTTPHandler(traceMode, "report", reportHandler))
	return router
}

func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

// ReportServer serves the derived report for one repository, re-aggregating
// from the store on every request so a concurrent collect run is reflected
// immediately.
type ReportServer struct {
	Store     store.Store
	Owner     string
	Repo      string
	Aggregate metrics.Config
	Logger    *zap.Logger
}

func (s *ReportServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	repo, ok, err := s.Store.GetRepository(ctx, s.Owner, s.Repo)
	if err != nil {
		logger.Error("load repository", zap.Error(err))
		http.Error(w, "load repository", http.StatusInternalServerError)
		return
	}
	if !ok {
		repo = store.Repository{Owner: s.Owner, Name: s.Repo}
	}

	pulls, err := s.Store.ListPullRequests(ctx, s.Owner, s.Repo)
	if err != nil {
		logger.Error("list pull requests", zap.Error(err))
		http.Error(w, "list pull requests", http.StatusInternalServerError)
		return
	}
	issues, err := s.Store.ListIssues(ctx, s.Owner, s.Repo)
	if err != nil {
		logger.Error("list issues", zap.Error(err))
		http.Error(w, "list issues", http.StatusInternalServerError)
		return
	}
	rounds, err := s.Store.ListReviewRounds(ctx, s.Owner, s.Repo)
	if err != nil {
		logger.Error("list review rounds", zap.Error(err))
		http.Error(w, "list review rounds", http.StatusInternalServerError)
		return
	}
	events, err := s.Store.ListRawEvents(ctx, s.Owner, s.Repo)
	if err != nil {
		logger.Error("list raw events", zap.Error(err))
		http.Error(w, "list raw events", http.StatusInternalServerError)
		return
	}

	derived := metrics.Aggregate(s.Aggregate, repo, pulls, issues, rounds, events)

	if wantsJSON(r) {
		w.Header().Set("Content-Type", "application/json")
		if err := report.RenderJSON(w, derived); err != nil {
			logger.Error("render report", zap.Error(err))
		}
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := report.RenderText(w, derived); err != nil {
		logger.Error("render report", zap.Error(err))
	}
}

func wantsJSON(r *http.Request) bool {
	if r.URL.Query().Get("format") == "json" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func wrapHTTPHandler(traceMode, route string, handler http.Handler) http.Handler {
	if handler == nil {
		handler = http.NotFoundHandler()
	}
	if strings.EqualFold(strings.TrimSpace(traceMode), "off") {
		return handler
	}

	operation := strings.TrimSpace(route)
	if operation == "" {
		operation = "handler"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := otel.Tracer("gdfm/internal/app").Start(
			r.Context(),
			"http.server."+operation,
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			),
		)
		defer span.End()

		recorder := &statusCapturingResponseWriter{
			ResponseWriter: w,
			status:         http.StatusOK,
		}
		handler.ServeHTTP(recorder, r.WithContext(ctx))
		span.SetAttributes(attribute.Int("http.status_code", recorder.status))
		if recorder.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(recorder.status))
			return
		}
		span.SetStatus(codes.Ok, "request completed")
	})
}

type statusCapturingResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusCapturingResponseWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
