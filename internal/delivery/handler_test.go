package delivery_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/consignhub/consignhub/internal/delivery"
	"github.com/consignhub/consignhub/internal/inventory"
)

func newTestRouter(f *fixture) http.Handler {
	r := chi.NewRouter()
	delivery.NewHandler(nil, f.svc).MountRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerCreateAndReceive(t *testing.T) {
	f := newFixture()
	f.stock.Seed(inventory.Branch(1), 7, "20")
	router := newTestRouter(f)

	rec := do(t, router, http.MethodPost, "/deliveries",
		`{"mode":"SEND","fromBranchId":1,"toPartnerId":3,"lines":[{"productId":7,"qty":"5"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		ID     int64  `json:"id"`
		Mode   string `json:"mode"`
		Status string `json:"status"`
		Lines  []struct {
			ID int64 `json:"id"`
		} `json:"lines"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "SEND", created.Mode)
	require.Equal(t, "DRAFT", created.Status)
	require.Len(t, created.Lines, 1)

	rec = do(t, router, http.MethodPost, fmt.Sprintf("/deliveries/%d/receive", created.ID), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, f.stock.OnHand(inventory.Branch(1), 7).Equal(dec("15")))

	rec = do(t, router, http.MethodPost, fmt.Sprintf("/deliveries/%d/receive", created.ID), "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestHandlerReceiveInsufficientStockIs422(t *testing.T) {
	f := newFixture()
	f.stock.Seed(inventory.Branch(1), 7, "3")
	router := newTestRouter(f)
	d := f.createSend(t, delivery.LineInput{ProductID: 7, Qty: dec("5")})

	rec := do(t, router, http.MethodPost, fmt.Sprintf("/deliveries/%d/receive", d.ID),
		fmt.Sprintf(`{"lines":[{"lineId":%d,"qtyReceived":"5"}]}`, d.Lines[0].ID))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "insufficient stock")
}

func TestHandlerCreateRejectsReturnWithoutPartner(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)

	rec := do(t, router, http.MethodPost, "/deliveries",
		`{"mode":"RETURN","toBranchId":1,"lines":[{"productId":7,"qty":"5"}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "partner")

	rec = do(t, router, http.MethodPost, "/deliveries",
		`{"mode":"SEND","fromBranchId":1,"toPartnerId":3,"lines":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/deliveries/99", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerReceiveLineWithoutQuantityPostsShipped(t *testing.T) {
	f := newFixture()
	f.stock.Seed(inventory.Branch(1), 7, "20")
	router := newTestRouter(f)
	d := f.createSend(t, delivery.LineInput{ProductID: 7, Qty: dec("5")})

	rec := do(t, router, http.MethodPost, fmt.Sprintf("/deliveries/%d/receive", d.ID),
		fmt.Sprintf(`{"lines":[{"lineId":%d}]}`, d.Lines[0].ID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Posting struct {
			Posted  int `json:"posted_lines"`
			Skipped int `json:"skipped_lines"`
		} `json:"posting"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Posting.Posted)
	require.Zero(t, body.Posting.Skipped)
	require.NotContains(t, rec.Body.String(), "qtyReceived")

	require.True(t, f.stock.OnHand(inventory.Branch(1), 7).Equal(dec("15")))
	require.True(t, f.stock.OnHand(inventory.Partner(3), 7).Equal(dec("5")))
	require.Len(t, f.stock.Entries(), 2)
}
