package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cosmossdk.io/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollkit/l1-committer/block"
	"github.com/rollkit/l1-committer/pkg/store"
	"github.com/rollkit/l1-committer/types"
)

type failingStatus struct{}

func (failingStatus) CurrentStatus(context.Context) (block.StatusReport, error) {
	return block.StatusReport{}, errors.New("database unreachable")
}

func get(t *testing.T, url string, header ...string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestStatusEndpoint(t *testing.T) {
	kv, err := store.NewDefaultInMemoryKVStore()
	require.NoError(t, err)
	s := store.New(kv)
	defer s.Close()

	testServer := httptest.NewServer(NewHandler(block.NewStatusReporter(s), nil, log.NewNopLogger()))
	defer testServer.Close()

	resp, body := get(t, testServer.URL+"/status")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"status":"Idle"}`, body)

	var hash types.Hash
	hash[0] = 1
	require.NoError(t, s.Insert(t.Context(), types.BlockSubmission{FuelBlockHash: hash, FuelBlockHeight: 1, SubmittedAtHeight: 3}))
	_, body = get(t, testServer.URL+"/status")
	assert.JSONEq(t, `{"status":"Committing"}`, body)
}

func TestStatusEndpointError(t *testing.T) {
	testServer := httptest.NewServer(NewHandler(failingStatus{}, nil, log.NewNopLogger()))
	defer testServer.Close()

	resp, body := get(t, testServer.URL+"/status")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `{"error":"database unreachable"}`, body)

	resp, _ = get(t, testServer.URL+"/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, body = get(t, testServer.URL+"/health/live")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK\n", body)
}

func TestMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "committer_test_total", Help: "test counter"})
	registry.MustRegister(counter)
	counter.Add(3)

	withMetrics := httptest.NewServer(NewHandler(failingStatus{}, registry, log.NewNopLogger()))
	defer withMetrics.Close()
	resp, body := get(t, withMetrics.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "committer_test_total 3")

	withoutMetrics := httptest.NewServer(NewHandler(failingStatus{}, nil, log.NewNopLogger()))
	defer withoutMetrics.Close()
	resp, _ = get(t, withoutMetrics.URL+"/metrics")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	testServer := httptest.NewServer(NewHandler(failingStatus{}, nil, log.NewNopLogger()))
	defer testServer.Close()

	resp, _ := get(t, testServer.URL+"/health/live", "Origin", "http://dashboard.example")
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
