package transactions

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/KAsare1/trx-gateway/cmd/models"
	"github.com/KAsare1/trx-gateway/cmd/utils"
	"github.com/KAsare1/trx-gateway/db"
	"github.com/KAsare1/trx-gateway/metrics"
	"github.com/KAsare1/trx-gateway/service/admission"
	"github.com/gorilla/mux"
)

const (
	WriteSentinel  = "END-WRITE"
	DeleteSentinel = "END-DELETE"
)

// ErrorResponse is the body of every failed request outside strict mode.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CountResponse is the scalar contract of the count route.
type CountResponse struct {
	Count int64 `json:"count"`
}

// ListResponse is the JSON form of a rendered page.
type ListResponse struct {
	TrxList []models.Transaction `json:"trxList"`
}

// Options tune failure handling. With Strict set, any failed request is
// handed to Fatal and no response is written.
type Options struct {
	Strict bool
	Fatal  func(error)
}

type TransactionHandler struct {
	store  db.TransactionStore
	views  *template.Template
	logger *slog.Logger
	strict bool
	fatal  func(error)

	writes atomic.Uint64
}

func NewTransactionHandler(store db.TransactionStore, logger *slog.Logger, opts Options) *TransactionHandler {
	fatal := opts.Fatal
	if fatal == nil {
		fatal = func(err error) {
			logger.Error("store error, terminating", "err", err)
			exit(1)
		}
	}
	return &TransactionHandler{
		store:  store,
		views:  views,
		logger: logger,
		strict: opts.Strict,
		fatal:  fatal,
	}
}

// RegisterRoutes registers transaction-related routes with Gorilla Mux.
// The router is expected to match on the encoded path; ReadByEmail
// unescapes its variable itself.
func (h *TransactionHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/write", h.Write).Methods("POST")
	router.HandleFunc("/read/{limit}", h.Read).Methods("GET")
	router.HandleFunc("/email/{email}", h.ReadByEmail).Methods("GET")
	router.HandleFunc("/deleteall/", h.DeleteAll).Methods("GET")
	router.HandleFunc("/deleteall", h.DeleteAll).Methods("GET")
	router.HandleFunc("/count/", h.Count).Methods("GET")
	router.HandleFunc("/count", h.Count).Methods("GET")
}

// Writes returns the number of successful writes since startup.
func (h *TransactionHandler) Writes() uint64 {
	return h.writes.Load()
}

// Write persists one transaction and answers with the write sentinel.
func (h *TransactionHandler) Write(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, r, "write", fmt.Errorf("%w: invalid request payload: %v", db.ErrInvalidInput, err))
		return
	}
	trx := req.transaction()

	start := time.Now()
	err := h.store.Insert(r.Context(), trx)
	observe("write", start)
	if err != nil {
		h.fail(w, r, "write", err)
		return
	}

	count := h.writes.Add(1)
	metrics.TransactionsWritten.Inc()
	metrics.RequestsTotal.WithLabelValues("write", "ok").Inc()
	h.logger.Info("inserted", "count", count, "email", trx.Email)

	respondWithText(w, http.StatusOK, WriteSentinel)
}

// Read returns at most limit transactions in store order.
func (h *TransactionHandler) Read(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["limit"]
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		h.fail(w, r, "read", fmt.Errorf("%w: limit %q is not a positive integer", db.ErrInvalidInput, raw))
		return
	}

	start := time.Now()
	trxList, err := h.store.List(r.Context(), limit)
	observe("read", start)
	if err != nil {
		h.fail(w, r, "read", err)
		return
	}
	h.logger.Debug("read", "limit", limit, "rows", len(trxList))

	h.render(w, r, "read", trxList)
}

// ReadByEmail returns every transaction whose email matches exactly.
func (h *TransactionHandler) ReadByEmail(w http.ResponseWriter, r *http.Request) {
	email, err := url.PathUnescape(mux.Vars(r)["email"])
	if err != nil {
		h.fail(w, r, "email", fmt.Errorf("%w: malformed email path: %v", db.ErrInvalidInput, err))
		return
	}

	start := time.Now()
	trxList, err := h.store.ListByEmail(r.Context(), email)
	observe("email", start)
	if err != nil {
		h.fail(w, r, "email", err)
		return
	}

	h.render(w, r, "email", trxList)
}

// DeleteAll empties the table.
func (h *TransactionHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	err := h.store.Truncate(r.Context())
	observe("deleteall", start)
	if err != nil {
		h.fail(w, r, "deleteall", err)
		return
	}
	metrics.RequestsTotal.WithLabelValues("deleteall", "ok").Inc()
	h.logger.Info("table truncated")

	respondWithText(w, http.StatusOK, DeleteSentinel)
}

func (h *TransactionHandler) Count(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	total, err := h.store.Count(r.Context())
	observe("count", start)
	if err != nil {
		h.fail(w, r, "count", err)
		return
	}
	metrics.RequestsTotal.WithLabelValues("count", "ok").Inc()

	respondWithJSON(w, http.StatusOK, CountResponse{Count: total})
}

// HandleRejection answers requests turned away by admission control when it
// runs in error-propagation mode.
func (h *TransactionHandler) HandleRejection(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusServiceUnavailable
	var rejectErr *admission.RejectError
	if errors.As(err, &rejectErr) {
		status = rejectErr.Status
	}
	h.logger.Warn("request rejected",
		"path", r.URL.Path,
		"request_id", utils.GetRequestIDFromContext(r.Context()),
		"err", err,
	)
	respondWithError(w, status, err.Error())
}

func (h *TransactionHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	invalid := errors.Is(err, db.ErrInvalidInput)
	outcome := "error"
	if invalid {
		outcome = "invalid"
	}
	metrics.RequestsTotal.WithLabelValues(op, outcome).Inc()

	if h.strict {
		h.fatal(fmt.Errorf("%s: %w", op, err))
		return
	}

	requestID := utils.GetRequestIDFromContext(r.Context())
	if invalid {
		h.logger.Warn("rejected request", "op", op, "request_id", requestID, "err", err)
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Error("store error", "op", op, "request_id", requestID, "err", err)
	respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to %s transactions", verbs[op]))
}

var verbs = map[string]string{
	"write":     "write",
	"read":      "retrieve",
	"email":     "retrieve",
	"deleteall": "delete",
	"count":     "count",
}

func observe(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Helper function to respond with an error
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

// Helper function to respond with JSON. The payload is encoded before the
// status line goes out so an encoding failure still yields a 500.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		body, _ = json.Marshal(ErrorResponse{Error: "Failed to encode response"})
		code = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(append(body, '\n'))
}

func respondWithText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	w.Write([]byte(body))
}
