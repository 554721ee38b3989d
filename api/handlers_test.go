package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/batchpay"
	"github.com/vitwit/batchpay/clients"
	"github.com/vitwit/batchpay/ledger"
	"github.com/vitwit/batchpay/metrics"
	"github.com/vitwit/batchpay/types"
)

const rosterBody = `{"recipients":[
	{"name":"Alice Johnson","address":"0x742d35Cc6634C0532925a3b8D4C9db96C4b4d8b6","amount":"1500.00"},
	{"name":"Bob Smith","address":"0x1234567890123456789012345678901234567890","amount":"2200.00"}
]}`

type fixture struct {
	server *httptest.Server
	wallet *clients.FakeWallet
	ledger *ledger.MemoryLedger
	engine *batchpay.BatchPay
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	wallet := clients.NewFakeWallet()
	l := ledger.NewMemoryLedger(nil)

	reg := prometheus.NewRegistry()
	rec, err := metrics.NewPrometheusRecorder(reg)
	require.NoError(t, err)

	engine, err := batchpay.New(context.Background(), &types.Config{
		Network:      types.NetworkBaseSepolia,
		Account:      "0xE4d365a5a8fC0DCEE9E3C5985D7FcBab8B4A0fE1",
		PollInterval: time.Hour,
	}, batchpay.WithProvider(wallet), batchpay.WithLedger(l), batchpay.WithMetrics(rec))
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	srv := httptest.NewServer(NewRouter(engine, nil, reg))
	t.Cleanup(srv.Close)
	return &fixture{server: srv, wallet: wallet, ledger: l, engine: engine}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestCreateAndGetPayment(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/v1/payments", rosterBody)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "3700.00", body["displayTotal"])
	assert.Equal(t, "/api/v1/payments/"+id, resp.Header.Get("Location"))

	resp, body = f.do(t, http.MethodGet, "/api/v1/payments/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["recipientCount"])
	recipients, _ := body["recipients"].([]any)
	assert.Len(t, recipients, 2)
}

func TestCreatePaymentAcceptsBareArray(t *testing.T) {
	f := newFixture(t)
	bare := `[{"name":"Alice","address":"0x742d35Cc6634C0532925a3b8D4C9db96C4b4d8b6","amount":"10"}]`

	resp, _ := f.do(t, http.MethodPost, "/api/v1/payments", bare)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Len(t, f.wallet.Submitted(), 1)
}

func TestCreatePaymentErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		setup  func(*clients.FakeWallet)
		status int
		code   string
	}{
		{"malformed body", `{"recipients":`, nil, http.StatusUnprocessableEntity, types.CodeValidation},
		{"empty roster", `{"recipients":[]}`, nil, http.StatusUnprocessableEntity, types.CodeValidation},
		{"bad amount", `[{"name":"A","address":"0x742d35Cc6634C0532925a3b8D4C9db96C4b4d8b6","amount":"1.1234567"}]`, nil,
			http.StatusUnprocessableEntity, types.CodeValidation},
		{"user rejected", rosterBody, func(w *clients.FakeWallet) {
			w.FailSubmit(clients.NewWalletError(clients.CodeUserRejectedRequest, "User rejected the request."))
		}, http.StatusConflict, types.CodeUserRejected},
		{"wallet down", rosterBody, func(w *clients.FakeWallet) {
			w.FailSubmit(clients.NewWalletError(clients.CodeDisconnected, "disconnected"))
		}, http.StatusServiceUnavailable, types.CodeProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f.wallet)
			}
			resp, body := f.do(t, http.MethodPost, "/api/v1/payments", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, body["code"])
			assert.Zero(t, f.ledger.Len())
		})
	}
}

func TestListPayments(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		resp, _ := f.do(t, http.MethodPost, "/api/v1/payments", rosterBody)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		// identical batches are only rejected while one is in flight
	}
	ids := f.wallet.IDs()
	_, err := f.ledger.Transition(context.Background(), ids[0], types.StatusCompleted)
	require.NoError(t, err)

	resp, body := f.do(t, http.MethodGet, "/api/v1/payments", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), body["total"])

	resp, body = f.do(t, http.MethodGet, "/api/v1/payments?status=pending&limit=1&page=2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["total"])
	payments, _ := body["payments"].([]any)
	require.Len(t, payments, 1)

	resp, body = f.do(t, http.MethodGet, "/api/v1/payments?status=bogus", "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, types.CodeValidation, body["code"])
}

func TestGetPaymentNotFound(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/api/v1/payments/0xmissing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, types.CodeNotFound, body["code"])

	resp, _ = f.do(t, http.MethodPost, "/api/v1/payments/0xmissing/refresh", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRefreshPayment(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodPost, "/api/v1/payments", rosterBody)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	id := body["id"].(string)

	resp, body = f.do(t, http.MethodPost, "/api/v1/payments/"+id+"/refresh", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, false, body["skipped"])

	f.wallet.Script(id, types.StatusFailed)
	resp, body = f.do(t, http.MethodPost, "/api/v1/payments/"+id+"/refresh", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "failed", body["status"])
	assert.Contains(t, body["error"], "failed")

	rec, err := f.ledger.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, rec.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/v1/payments", rosterBody)

	resp, err := http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sb strings.Builder
	_, err = io.Copy(&sb, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, sb.String(), `batchpay_events_total{network="base-sepolia",type="batch_submitted"} 1`)
}
