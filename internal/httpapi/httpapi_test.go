package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHealthzReturnsOK(t *testing.T) {
	router := NewRouter(time.Now(), Status{
		CSRunning:  func() bool { return false },
		DecRunning: func() bool { return true },
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatusReportsSubsystemState(t *testing.T) {
	router := NewRouter(time.Now(), Status{
		CSRunning:  func() bool { return true },
		DecRunning: func() bool { return false },
	})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"cs_running":true`)
	require.Contains(t, rec.Body.String(), `"decoder_running":false`)
}
