package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/KAsare1/trx-gateway/cmd/utils"
	"github.com/KAsare1/trx-gateway/config"
	"github.com/KAsare1/trx-gateway/db"
	"github.com/KAsare1/trx-gateway/metrics"
	"github.com/KAsare1/trx-gateway/service/admission"
	"github.com/KAsare1/trx-gateway/service/transactions"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type APIServer struct {
	cfg       *config.Config
	store     db.TransactionStore
	logger    *slog.Logger
	accessLog io.Writer
	protector *admission.Protector
	fatal     func(error)
}

func NewApiServer(cfg *config.Config, store db.TransactionStore, logger *slog.Logger) *APIServer {
	return &APIServer{
		cfg:       cfg,
		store:     store,
		logger:    logger,
		accessLog: os.Stdout,
		protector: admission.New(admission.Config{
			ClientRetrySecs:   cfg.Admission.ClientRetrySecs,
			SampleInterval:    cfg.Admission.SampleInterval,
			MaxDelay:          cfg.Admission.MaxDelay,
			MaxHeapBytes:      cfg.Admission.MaxHeapBytes,
			MaxRSSBytes:       cfg.Admission.MaxRSSBytes,
			PropagateErrors:   cfg.Admission.PropagateErrors,
			MaxRequestsPerSec: cfg.Admission.MaxRequestsPerSec,
			Burst:             cfg.Admission.Burst,
		}, logger),
	}
}

// Handler builds the router and wraps it in the middleware chain:
// security headers, CORS, access log, request id, admission control.
func (s *APIServer) Handler() http.Handler {
	// Match on the raw path so an encoded slash stays inside {email}.
	router := mux.NewRouter().UseEncodedPath()

	transactionHandler := transactions.NewTransactionHandler(s.store, s.logger, transactions.Options{
		Strict: s.cfg.Server.StrictMode,
		Fatal:  s.fatal,
	})
	transactionHandler.RegisterRoutes(router)
	s.protector.SetErrorHandler(transactionHandler.HandleRejection)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	var h http.Handler = router
	h = s.protector.Wrap(h)
	h = utils.RequestIDMiddleware(h)
	h = handlers.CombinedLoggingHandler(s.accessLog, h)
	h = handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "HEAD", "PUT", "PATCH", "POST", "DELETE"}),
		handlers.AllowedHeaders([]string{"Content-Type", utils.RequestIDHeader}),
	)(h)
	h = utils.SecureHeaders(h)
	return h
}

// Run binds the listener, fires the warm-up requests and serves until ctx
// is cancelled.
func (s *APIServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+s.cfg.Server.Port)
	if err != nil {
		return fmt.Errorf("listen on port %s: %w", s.cfg.Server.Port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an already bound listener.
func (s *APIServer) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.protector.Start()
	defer s.protector.Stop()

	s.logger.Info("trx-gateway is listening", "addr", ln.Addr().String())

	warmUp(
		&http.Client{Timeout: 10 * time.Second},
		s.cfg.Server.URL+":"+s.cfg.Server.Port+"/read/1",
		s.cfg.Server.WarmupRequests,
		s.logger,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// warmUp fires n detached GET requests at url so every worker runs the read
// path once before real traffic arrives. Nothing waits for them and their
// results are dropped.
func warmUp(client *http.Client, url string, n int, logger *slog.Logger) {
	if n <= 0 {
		return
	}
	logger.Info("warming up", "requests", n, "url", url)
	for i := 0; i < n; i++ {
		go func() {
			resp, err := client.Get(url)
			if err != nil {
				metrics.WarmupRequests.WithLabelValues("error").Inc()
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			metrics.WarmupRequests.WithLabelValues("ok").Inc()
		}()
	}
}
