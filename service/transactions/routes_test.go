package transactions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/KAsare1/trx-gateway/cmd/models"
	"github.com/KAsare1/trx-gateway/db"
	"github.com/KAsare1/trx-gateway/service/admission"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSQLiteStore(t *testing.T) *db.GormStore {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := db.NewSQLiteStorage(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)

	store := db.NewGormStore(gdb, "shop")
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })
	return store
}

func newRouter(h *TransactionHandler) *mux.Router {
	router := mux.NewRouter().UseEncodedPath()
	h.RegisterRoutes(router)
	return router
}

type gateway struct {
	t       *testing.T
	handler *TransactionHandler
	router  *mux.Router
}

func newGateway(t *testing.T, store db.TransactionStore, opts Options) *gateway {
	h := NewTransactionHandler(store, discardLogger(), opts)
	return &gateway{t: t, handler: h, router: newRouter(h)}
}

func (g *gateway) do(method, path, body string, accept string) *httptest.ResponseRecorder {
	g.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	rec := httptest.NewRecorder()
	g.router.ServeHTTP(rec, req)
	return rec
}

func (g *gateway) write(id, email string) {
	g.t.Helper()
	body := fmt.Sprintf(`{"trx_id":%q,"firstname":"Ada","lastname":"Lovelace","email":%q,"price":12.5,"prod_desc":"notes"}`, id, email)
	rec := g.do(http.MethodPost, "/write", body, "")
	require.Equal(g.t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(g.t, WriteSentinel, rec.Body.String())
}

func (g *gateway) list(path string) []models.Transaction {
	g.t.Helper()
	rec := g.do(http.MethodGet, path, "", "application/json")
	require.Equal(g.t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ListResponse
	require.NoError(g.t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(g.t, resp.TrxList)
	return resp.TrxList
}

func (g *gateway) count() int64 {
	g.t.Helper()
	rec := g.do(http.MethodGet, "/count/", "", "")
	require.Equal(g.t, http.StatusOK, rec.Code)

	var resp CountResponse
	require.NoError(g.t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Count
}

func TestWriteThenCount(t *testing.T) {
	g := newGateway(t, newSQLiteStore(t), Options{})

	for i := 0; i < 7; i++ {
		g.write(fmt.Sprintf("t%d", i), "a@x.com")
	}

	assert.Equal(t, int64(7), g.count())
	assert.Equal(t, uint64(7), g.handler.Writes())
}

func TestWriteThenBoundedRead(t *testing.T) {
	g := newGateway(t, newSQLiteStore(t), Options{})
	g.write("t1", "a@x.com")

	got := g.list("/read/1")
	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].TrxID)
}

func TestBoundedReadLimitIsUpperBound(t *testing.T) {
	g := newGateway(t, newSQLiteStore(t), Options{})
	for i := 0; i < 4; i++ {
		g.write(fmt.Sprintf("t%d", i), "a@x.com")
	}

	assert.Len(t, g.list("/read/2"), 2)
	assert.Len(t, g.list("/read/4"), 4)
	assert.Len(t, g.list("/read/1000000"), 4)
}

func TestBoundedReadRejectsBadLimit(t *testing.T) {
	g := newGateway(t, newSQLiteStore(t), Options{})

	for _, limit := range []string{"0", "-1", "abc", "1.5"} {
		rec := g.do(http.MethodGet, "/read/"+limit, "", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit %s", limit)

		var resp ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Contains(t, resp.Error, "positive integer")
	}
}

func TestFilteredReadExactMatch(t *testing.T) {
	g := newGateway(t, newSQLiteStore(t), Options{})
	g.write("t1", "a@x.com")
	g.write("t2", "b@x.com")
	g.write("t3", "a@x.com")
	g.write("t4", " a@x.com")

	got := g.list("/email/a@x.com")
	require.Len(t, got, 2)
	for _, trx := range got {
		assert.Equal(t, "a@x.com", trx.Email)
	}
}

func TestFilteredReadDecodesEmail(t *testing.T) {
	g := newGateway(t, newSQLiteStore(t), Options{})
	g.write("t1", "a/b@x.com")
	g.write("t2", "100%@x.com")
	g.write("t3", "a@x.com")

	got := g.list("/email/a%2Fb@x.com")
	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].TrxID)

	got = g.list("/email/100%25@x.com")
	require.Len(t, got, 1)
	assert.Equal(t, "t2", got[0].TrxID)

	got = g.list("/email/a%40x.com")
	require.Len(t, got, 1)
	assert.Equal(t, "t3", got[0].TrxID)
}

func TestFilteredReadUnknownEmailIsEmpty(t *testing.T) {
	g := newGateway(t, newSQLiteStore(t), Options{})
	g.write("t1", "a@x.com")

	got := g.list("/email/nobody@x.com")
	assert.Empty(t, got)
}

func TestDeleteAllTwice(t *testing.T) {
	g := newGateway(t, newSQLiteStore(t), Options{})
	g.write("t1", "a@x.com")
	g.write("t2", "b@x.com")

	for _, path := range []string{"/deleteall/", "/deleteall"} {
		rec := g.do(http.MethodGet, path, "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, DeleteSentinel, rec.Body.String())
		assert.Zero(t, g.count())
	}
}

func TestRoundTripFidelity(t *testing.T) {
	g := newGateway(t, newSQLiteStore(t), Options{})
	desc := strings.Repeat("a very long product description ", 100)
	body := fmt.Sprintf(`{"trx_id":"t1","firstname":"Grace","lastname":"Hopper","email":"g@x.com","price":"1234.56","prod_desc":%q}`, desc)

	rec := g.do(http.MethodPost, "/write", body, "")
	require.Equal(t, http.StatusOK, rec.Code)

	want := models.Transaction{
		TrxID:     "t1",
		Firstname: "Grace",
		Lastname:  "Hopper",
		Email:     "g@x.com",
		Price:     func() *float64 { v := 1234.56; return &v }(),
		ProdDesc:  desc,
	}
	for _, path := range []string{"/read/10", "/email/g@x.com"} {
		got := g.list(path)
		require.Len(t, got, 1)
		assert.Equal(t, want, got[0], path)
	}
}

func TestWriteAcceptsLegacyTimeUUIDKey(t *testing.T) {
	g := newGateway(t, newSQLiteStore(t), Options{})

	rec := g.do(http.MethodPost, "/write", `{"timeuuid":"legacy-1","email":"l@x.com"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	got := g.list("/email/l@x.com")
	require.Len(t, got, 1)
	assert.Equal(t, "legacy-1", got[0].TrxID)
	assert.Nil(t, got[0].Price)
}

func TestWriteRejectsMalformedBody(t *testing.T) {
	g := newGateway(t, newSQLiteStore(t), Options{})

	for _, body := range []string{`{"trx_id":`, `{"trx_id":"t1","price":"cheap"}`, `{"trx_id":"t1","price":[1]}`} {
		rec := g.do(http.MethodPost, "/write", body, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Zero(t, g.count())
	assert.Zero(t, g.handler.Writes())
}

func TestWriteRejectsNonFinitePrice(t *testing.T) {
	g := newGateway(t, newSQLiteStore(t), Options{})

	for _, price := range []string{`"NaN"`, `"Inf"`, `"-Infinity"`} {
		body := `{"trx_id":"t1","email":"a@x.com","price":` + price + `}`
		rec := g.do(http.MethodPost, "/write", body, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, price)
		assert.Contains(t, rec.Body.String(), "finite", price)
	}
	assert.Zero(t, g.count())

	g.write("t2", "a@x.com")
	trxList := g.list("/read/1")
	require.Len(t, trxList, 1)
	require.NotNil(t, trxList[0].Price)
	assert.Equal(t, 12.5, *trxList[0].Price)
}

func TestRespondWithJSONReportsEncodeFailure(t *testing.T) {
	inf := math.Inf(1)
	rec := httptest.NewRecorder()
	respondWithJSON(rec, http.StatusOK, ListResponse{TrxList: []models.Transaction{{TrxID: "t1", Price: &inf}}})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Failed to encode response", resp.Error)
}

func TestReadRendersPage(t *testing.T) {
	g := newGateway(t, newSQLiteStore(t), Options{})
	g.write("t1", "a@x.com")
	g.write("t2", "<script>@x.com")

	rec := g.do(http.MethodGet, "/read/5", "", "text/html")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	body := rec.Body.String()
	assert.Contains(t, body, `<td class="trx-id">t1</td>`)
	assert.Contains(t, body, "12.5")
	assert.Contains(t, body, "2 record(s)")
	assert.NotContains(t, body, "<script>@x.com")
}

// failingStore fails every call with err.
type failingStore struct {
	err   error
	calls int
}

func (s *failingStore) Insert(context.Context, *models.Transaction) error {
	s.calls++
	return s.err
}

func (s *failingStore) List(context.Context, int) ([]models.Transaction, error) {
	s.calls++
	return nil, s.err
}

func (s *failingStore) ListByEmail(context.Context, string) ([]models.Transaction, error) {
	s.calls++
	return nil, s.err
}

func (s *failingStore) Truncate(context.Context) error {
	s.calls++
	return s.err
}

func (s *failingStore) Count(context.Context) (int64, error) {
	s.calls++
	return 0, s.err
}

func (s *failingStore) Close() error { return nil }

var storeRequests = []struct {
	method, path, body string
}{
	{http.MethodPost, "/write", `{"trx_id":"t1"}`},
	{http.MethodGet, "/read/1", ""},
	{http.MethodGet, "/email/a@x.com", ""},
	{http.MethodGet, "/deleteall/", ""},
	{http.MethodGet, "/count/", ""},
}

func TestStoreErrorsBecome500(t *testing.T) {
	store := &failingStore{err: errors.New("no hosts available")}
	g := newGateway(t, store, Options{})

	for _, tc := range storeRequests {
		rec := g.do(tc.method, tc.path, tc.body, "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code, tc.path)

		var resp ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.NotEmpty(t, resp.Error)
		assert.NotContains(t, resp.Error, "no hosts", "store details must not leak")
	}
	assert.Equal(t, len(storeRequests), store.calls)
	assert.Zero(t, g.handler.Writes())
}

func TestStoreValidationErrorsBecome400(t *testing.T) {
	store := &failingStore{err: fmt.Errorf("%w: trx_id is not a uuid", db.ErrInvalidInput)}
	g := newGateway(t, store, Options{})

	rec := g.do(http.MethodPost, "/write", `{"trx_id":"t1"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStrictModeHandsEveryFailureToFatal(t *testing.T) {
	store := &failingStore{err: errors.New("boom")}
	var fatals []error
	g := newGateway(t, store, Options{Strict: true, Fatal: func(err error) { fatals = append(fatals, err) }})

	for _, tc := range storeRequests {
		rec := g.do(tc.method, tc.path, tc.body, "")
		assert.Empty(t, rec.Body.String(), tc.path)
	}
	rec := g.do(http.MethodGet, "/read/abc", "", "")
	assert.Empty(t, rec.Body.String())

	require.Len(t, fatals, len(storeRequests)+1)
	assert.ErrorContains(t, fatals[0], "write: boom")
	assert.ErrorIs(t, fatals[len(fatals)-1], db.ErrInvalidInput)
}

func TestHandleRejectionUsesRejectStatus(t *testing.T) {
	h := NewTransactionHandler(&failingStore{}, discardLogger(), Options{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/count/", nil)
	h.HandleRejection(rec, req, &admission.RejectError{Status: http.StatusTooManyRequests, Err: admission.ErrRateLimited})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, admission.ErrRateLimited.Error(), resp.Error)
}

func TestFlexPrice(t *testing.T) {
	cases := []struct {
		in   string
		want *float64
		err  bool
	}{
		{`12.5`, ptr(12.5), false},
		{`"12.5"`, ptr(12.5), false},
		{`" 3 "`, ptr(3), false},
		{`null`, nil, false},
		{`""`, nil, false},
		{`"abc"`, nil, true},
		{`true`, nil, true},
		{`"NaN"`, nil, true},
		{`"Inf"`, nil, true},
		{`"-Infinity"`, nil, true},
		{`"+inf"`, nil, true},
	}
	for _, tc := range cases {
		var p flexPrice
		err := p.UnmarshalJSON([]byte(tc.in))
		if tc.err {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, p.value, tc.in)
	}
}

func ptr(v float64) *float64 { return &v }
