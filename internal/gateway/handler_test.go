package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/scorypto/innovriddhi-location-server/internal/storage"
	"github.com/scorypto/innovriddhi-location-server/internal/track"
	"github.com/scorypto/innovriddhi-location-server/internal/transport"
)

func newTestServer(t *testing.T) (*echo.Echo, *capturePipeline) {
	t.Helper()

	pipe := &capturePipeline{}
	gw := New(pipe, newMemoryStore(), Config{})
	h := NewHandler(gw, newMemoryStore(), nil)

	e := echo.New()
	h.Register(e)
	return e, pipe
}

func postJSON(e *echo.Echo, path string, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Health(t *testing.T) {
	e, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandler_IngestPrimary(t *testing.T) {
	e, pipe := newTestServer(t)

	rec := postJSON(e, "/v1/locations", validSample("dev-001", 1))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"disposition":"accepted"}`, rec.Body.String())
	assert.Equal(t, 1, pipe.len())
}

func TestHandler_IngestPrimary_DuplicateStillOK(t *testing.T) {
	e, pipe := newTestServer(t)

	require.Equal(t, http.StatusOK, postJSON(e, "/v1/locations", validSample("dev-001", 7)).Code)

	rec := postJSON(e, "/v1/locations", validSample("dev-001", 7))
	assert.Equal(t, http.StatusOK, rec.Code, "duplicates acknowledge as handled")
	assert.JSONEq(t, `{"disposition":"duplicate"}`, rec.Body.String())
	assert.Equal(t, 1, pipe.len())
}

func TestHandler_IngestPrimary_RejectedIsPermanent(t *testing.T) {
	e, _ := newTestServer(t)

	s := validSample("dev-001", 1)
	s.BatteryPct = 250

	rec := postJSON(e, "/v1/locations", s)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.JSONEq(t, `{"disposition":"rejected"}`, rec.Body.String())
}

func TestHandler_IngestPrimary_MalformedBody(t *testing.T) {
	e, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/locations", bytes.NewReader([]byte("{not json")))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_IngestLegacy(t *testing.T) {
	e, pipe := newTestServer(t)

	s := validSample("dev-001", 3)
	payload, err := json.Marshal(s)
	require.NoError(t, err)

	frame, err := msgpack.Marshal(transport.LegacyFrame{
		Version: transport.LegacyFrameVersion,
		Token:   track.IdempotencyToken(s.DeviceID, s.SequenceNo),
		Payload: payload,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/legacy/v1/ingest", bytes.NewReader(frame))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"disposition":"accepted"}`, rec.Body.String())
	assert.Equal(t, 1, pipe.len())
}

func TestHandler_IngestLegacy_CrossTransportDedup(t *testing.T) {
	e, pipe := newTestServer(t)

	s := validSample("dev-001", 9)
	require.Equal(t, http.StatusOK, postJSON(e, "/v1/locations", s).Code)

	payload, err := json.Marshal(s)
	require.NoError(t, err)
	frame, err := msgpack.Marshal(transport.LegacyFrame{
		Version: transport.LegacyFrameVersion,
		Token:   track.IdempotencyToken(s.DeviceID, s.SequenceNo),
		Payload: payload,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/legacy/v1/ingest", bytes.NewReader(frame))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	// Dual-transport delivery of the same sample collapses to one.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"disposition":"duplicate"}`, rec.Body.String())
	assert.Equal(t, 1, pipe.len())
}

func TestHandler_IngestLegacy_BadVersion(t *testing.T) {
	e, _ := newTestServer(t)

	frame, err := msgpack.Marshal(transport.LegacyFrame{Version: 1})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/legacy/v1/ingest", bytes.NewReader(frame))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Stoppages(t *testing.T) {
	pipe := &capturePipeline{}
	gw := New(pipe, newMemoryStore(), Config{})

	store := &stoppageStore{memoryStore: newMemoryStore()}
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	store.stoppages = []*track.Stoppage{{
		ID:             track.StoppageID("dev-001", start),
		DeviceID:       "dev-001",
		StartTime:      start,
		DurationS:      420,
		Classification: track.ClassUnclassified,
	}}

	e := echo.New()
	NewHandler(gw, store, nil).Register(e)

	req := httptest.NewRequest(http.MethodGet, "/v1/stoppages?device=dev-001", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got []track.Stoppage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "dev-001", got[0].DeviceID)
	assert.Equal(t, int64(420), got[0].DurationS)
}

func TestHandler_Stoppages_BadSince(t *testing.T) {
	e, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/stoppages?since=yesterday", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type stoppageStore struct {
	*memoryStore
	stoppages []*track.Stoppage
}

func (s *stoppageStore) Stoppages(_ context.Context, _ ...storage.ReadOption) ([]*track.Stoppage, error) {
	return s.stoppages, nil
}
