package siem

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medic/arbiter/pkg/models"
)

func testReport() models.KillReport {
	return models.KillReport{KillID: "k1", TargetModule: "nginx-test"}
}

func TestClient_Enrich_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"risk_score":0.2,"false_positive_history":3,"recommendation":"watch"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	result := c.Enrich(t.Context(), testReport(), time.Second)

	require.Equal(t, 0.2, result.RiskScore)
	require.Equal(t, 3, result.FalsePositiveHistory)
	assert.Equal(t, "watch", result.Recommendation)
}

func TestClient_Enrich_ServerErrorFallsBackToNoOp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	result := c.Enrich(t.Context(), testReport(), time.Second)

	assert.Equal(t, models.NoOpSIEMResult(), result)
}

func TestClient_Enrich_Disabled(t *testing.T) {
	c := New("", time.Second)
	result := c.Enrich(t.Context(), testReport(), time.Second)
	assert.Equal(t, models.NoOpSIEMResult(), result)
}

func TestClient_Enrich_NonRetryable4xxFallsBackImmediately(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	result := c.Enrich(t.Context(), testReport(), time.Second)

	assert.Equal(t, models.NoOpSIEMResult(), result)
	assert.Equal(t, 1, calls, "non-429 4xx must not be retried")
}

func TestClient_Enrich_RetriesOnce429(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"risk_score":0.1,"false_positive_history":0,"recommendation":""}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	result := c.Enrich(t.Context(), testReport(), 2*time.Second)

	assert.Equal(t, 0.1, result.RiskScore)
	assert.Equal(t, 2, calls)
}
