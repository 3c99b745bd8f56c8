package transactions

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/KAsare1/trx-gateway/cmd/models"
	"github.com/KAsare1/trx-gateway/metrics"
)

//go:embed templates/*.html
var templateFS embed.FS

var views = template.Must(template.New("").Funcs(template.FuncMap{
	"price": formatPrice,
}).ParseFS(templateFS, "templates/*.html"))

type pageData struct {
	TrxList []models.Transaction
}

func formatPrice(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}

// wantsJSON reports whether the client asked for JSON instead of a page.
func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// render writes trxList as the index page, or as JSON when requested.
func (h *TransactionHandler) render(w http.ResponseWriter, r *http.Request, op string, trxList []models.Transaction) {
	if trxList == nil {
		trxList = []models.Transaction{}
	}
	if wantsJSON(r) {
		metrics.RequestsTotal.WithLabelValues(op, "ok").Inc()
		respondWithJSON(w, http.StatusOK, ListResponse{TrxList: trxList})
		return
	}

	var buf bytes.Buffer
	if err := h.views.ExecuteTemplate(&buf, "index.html", pageData{TrxList: trxList}); err != nil {
		h.logger.Error("render failed", "op", op, "err", err)
		metrics.RequestsTotal.WithLabelValues(op, "error").Inc()
		respondWithError(w, http.StatusInternalServerError, "Failed to render transactions")
		return
	}
	metrics.RequestsTotal.WithLabelValues(op, "ok").Inc()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
