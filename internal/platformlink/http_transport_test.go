package platformlink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/executor-core/pkg/types"
)

func TestHTTPTransportReportTradePostsJSON(t *testing.T) {
	var gotPath string
	var gotBody types.TradeEvent
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	tr := NewHTTPTransport(nil, HTTPTransportConfig{BaseURL: ts.URL, ApiKey: "test-key", ExecutorID: "exec-1", PollInterval: time.Hour})
	defer tr.Close()

	err := tr.ReportTrade(context.Background(), types.TradeEvent{ID: "e1", StrategyID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "/executors/exec-1/trades", gotPath)
	assert.Equal(t, "e1", gotBody.ID)
}

func TestHTTPTransportFetchStrategyDecodesResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.StrategyConfig{ID: "s1", Name: "trend"})
	}))
	defer ts.Close()

	tr := NewHTTPTransport(nil, HTTPTransportConfig{BaseURL: ts.URL, ExecutorID: "exec-1", PollInterval: time.Hour})
	defer tr.Close()

	cfg, err := tr.FetchStrategy(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "trend", cfg.Name)
}

func TestHTTPTransportSurfacesServerErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	tr := NewHTTPTransport(nil, HTTPTransportConfig{BaseURL: ts.URL, ExecutorID: "exec-1", PollInterval: time.Hour})
	defer tr.Close()

	_, err := tr.AvailableStrategies(context.Background())
	assert.Error(t, err)
}

func TestHTTPTransportPollLoopDeliversCommands(t *testing.T) {
	served := false
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if served {
			json.NewEncoder(w).Encode([]types.Command{})
			return
		}
		served = true
		json.NewEncoder(w).Encode([]types.Command{{ID: "c1", Kind: types.CmdPing}})
	}))
	defer ts.Close()

	tr := NewHTTPTransport(nil, HTTPTransportConfig{BaseURL: ts.URL, ExecutorID: "exec-1", PollInterval: 10 * time.Millisecond})
	defer tr.Close()

	select {
	case cmd := <-tr.Commands():
		assert.Equal(t, "c1", cmd.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a polled command")
	}
}
