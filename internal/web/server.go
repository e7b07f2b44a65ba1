// Package web serves the booking JSON API used by the guest-facing front end.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/example/staybook/internal/availability"
	"github.com/example/staybook/internal/ledger"
	"github.com/example/staybook/internal/logging"
	"github.com/example/staybook/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type History interface {
	List(ctx context.Context, email string, limit int) ([]ledger.Entry, error)
}

type Server struct {
	Sessions *session.Registry
	Tables   *availability.Engine
	History  History // nil when no ledger database is configured
	Log      *logrus.Logger

	cookies *cookieStore
}

func NewServer(sessions *session.Registry, tables *availability.Engine, history History, hashKey, blockKey []byte, log *logrus.Logger) *Server {
	if log == nil {
		log = logging.Discard()
	}
	return &Server{
		Sessions: sessions,
		Tables:   tables,
		History:  history,
		Log:      log,
		cookies:  newCookieStore(hashKey, blockKey),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.logRequests, middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))

		r.Get("/quote", s.handleQuote)
		r.Get("/slots", s.handleSlots)
		r.Get("/restaurants/{id}/tables", s.handleTables)

		r.Post("/bookings", s.handleBook)
		r.Get("/bookings", s.handleHistory)
		r.Get("/bookings/current", s.handleCurrent)
		r.Delete("/payments/current", s.handleCancelPayment)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"took":       time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("http request")
	})
}

func Start(ctx context.Context, addr string, h http.Handler, log *logrus.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.WithField("addr", addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
