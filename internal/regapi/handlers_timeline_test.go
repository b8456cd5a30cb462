package regapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostTimelineRejectsMissingRequiredField(t *testing.T) {
	srv, _ := newTestServer(t)
	body := map[string]interface{}{"id": "seg1"}
	rec := postJSON(t, srv, "/x-nmos/registration/v1.0/timeline/flows/f1/store1/ts1", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostThenGetTimelineRoundTrips(t *testing.T) {
	srv, _ := newTestServer(t)
	body := map[string]interface{}{"id": "seg1", "store_id": "store1", "min_ts_utc": "0:0"}
	rec := postJSON(t, srv, "/x-nmos/registration/v1.0/timeline/flows/f1/store1/ts1", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/x-nmos/registration/v1.0/timeline/flows/f1/store1/ts1", nil)
	getRec := httptest.NewRecorder()
	srv.ServeHTTP(getRec, req)
	require.Equal(t, http.StatusOK, getRec.Code)
	assert.Contains(t, getRec.Body.String(), "seg1")
}

func TestGetTimelineNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/x-nmos/registration/v1.0/timeline/flows/missing/store1/ts1", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
