// Package api exposes the query engine over JSON HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"DipRecovery/internal/model"
	"DipRecovery/internal/query"
)

// Reloader rebuilds the dataset on demand.
type Reloader interface {
	Reload(ctx context.Context) (*model.DatasetStats, error)
}

// Server holds the handlers' dependencies.
type Server struct {
	engine   *query.Engine
	reloader Reloader
	log      *zap.Logger
}

// NewServer creates a Server. reloader may be nil, which disables POST /api/reload.
func NewServer(eng *query.Engine, reloader Reloader, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{engine: eng, reloader: reloader, log: log}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.health)
		r.Get("/stats", s.stats)
		r.Get("/significant_declines", s.significantDeclines)
		r.Get("/recovery_stats", s.recoveryStats)
		r.Get("/stocks", s.stocks)
		r.Get("/stock_history", s.stockHistory)
		r.Post("/reload", s.reload)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, envelope{"success": false, "error": "not found"})
	})
	return r
}

// NewHTTPServer wraps handler in an http.Server with the given timeouts.
func NewHTTPServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:           addr,
		Handler:        handler,
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		MaxHeaderBytes: 1 << 20,
	}
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("took", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func (s *Server) filter(r *http.Request) (query.Filter, error) {
	q := r.URL.Query()
	return query.ParseFilter(q.Get("threshold"), q.Get("start_date"), q.Get("end_date"), q.Get("symbol"),
		s.engine.DefaultThreshold())
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	gen, loadedAt, err := s.engine.Loaded()
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, envelope{"status": "ok", "generation": gen, "loaded_at": loadedAt})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	f, err := s.filter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.engine.GetStats(f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, envelope{"stats": newStatsJSON(stats, f.Threshold)})
}

func (s *Server) significantDeclines(w http.ResponseWriter, r *http.Request) {
	f, err := s.filter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	results, err := s.engine.GetSignificantDeclines(f)
	if err != nil {
		writeError(w, err)
		return
	}
	data := make([]declineJSON, 0, len(results))
	for _, res := range results {
		data = append(data, newDeclineJSON(res))
	}
	writeOK(w, envelope{"data": data, "count": len(data)})
}

func (s *Server) recoveryStats(w http.ResponseWriter, r *http.Request) {
	f, err := s.filter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.engine.GetRecoveryStats(f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, envelope{"statistics": newRecoveryStatsJSON(stats)})
}

func (s *Server) stocks(w http.ResponseWriter, _ *http.Request) {
	stocks, err := s.engine.GetStocks()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]stockJSON, 0, len(stocks))
	for _, st := range stocks {
		out = append(out, stockJSON{Symbol: st.Symbol, Name: st.CompanyName})
	}
	writeOK(w, envelope{"stocks": out, "count": len(out)})
}

func (s *Server) stockHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := q.Get("symbol")
	if symbol == "" {
		writeError(w, fmt.Errorf("%w: symbol is required", query.ErrInvalidFilter))
		return
	}
	start, err := query.ParseDateBound("start_date", q.Get("start_date"))
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := query.ParseDateBound("end_date", q.Get("end_date"))
	if err != nil {
		writeError(w, err)
		return
	}
	h, err := s.engine.GetStockHistory(symbol, start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	rows, summary := newHistoryJSON(h)
	writeOK(w, envelope{
		"symbol":       h.Symbol,
		"company_name": h.CompanyName,
		"history":      rows,
		"count":        len(rows),
		"summary":      summary,
	})
}

func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	if s.reloader == nil {
		writeJSON(w, http.StatusNotImplemented, envelope{"success": false, "error": "reload is not configured"})
		return
	}
	stats, err := s.reloader.Reload(r.Context())
	if err != nil {
		s.log.Error("reload via api", zap.Error(err))
		writeError(w, err)
		return
	}
	writeOK(w, envelope{"stats": newStatsJSON(stats, s.engine.DefaultThreshold())})
}
