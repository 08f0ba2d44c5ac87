package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandleGetDreamDaemonUnknownInstance(t *testing.T) {
	s, _, _ := newRuntimeTestServer()

	req := httptest.NewRequest(http.MethodGet, "/Instance/1/DreamDaemon", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetDreamDaemonReturnsStatus(t *testing.T) {
	s, _, runtimes := newRuntimeTestServer()
	runtimes.byID[1] = &fakeRuntime{status: DreamDaemonStatus{Running: true, ActiveDeployment: "dep-1"}}

	req := httptest.NewRequest(http.MethodGet, "/Instance/1/DreamDaemon", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got DreamDaemonStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.True(t, got.Running)
	require.Equal(t, "dep-1", got.ActiveDeployment)
}

func TestHandleLaunchDreamDaemonDuplicatePorts(t *testing.T) {
	s, _, runtimes := newRuntimeTestServer()
	rt := &fakeRuntime{}
	runtimes.byID[1] = rt

	body, _ := json.Marshal(launchDreamDaemonRequest{PrimaryPort: 1337, SecondaryPort: 1337})
	req := httptest.NewRequest(http.MethodPut, "/Instance/1/DreamDaemon", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleLaunchDreamDaemonSuccess(t *testing.T) {
	s, _, runtimes := newRuntimeTestServer()
	rt := &fakeRuntime{}
	runtimes.byID[1] = rt

	body, _ := json.Marshal(launchDreamDaemonRequest{PrimaryPort: 1337, SecondaryPort: 1338})
	req := httptest.NewRequest(http.MethodPut, "/Instance/1/DreamDaemon", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 1337, rt.launched.PrimaryPort)
	require.Equal(t, 1338, rt.launched.SecondaryPort)
}

func TestHandleRestartDreamDaemon(t *testing.T) {
	s, _, runtimes := newRuntimeTestServer()
	rt := &fakeRuntime{}
	runtimes.byID[1] = rt

	req := httptest.NewRequest(http.MethodPatch, "/Instance/1/DreamDaemon", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.True(t, rt.restarted)
}

func TestHandleStopDreamDaemon(t *testing.T) {
	s, _, runtimes := newRuntimeTestServer()
	rt := &fakeRuntime{}
	runtimes.byID[1] = rt

	req := httptest.NewRequest(http.MethodDelete, "/Instance/1/DreamDaemon", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.True(t, rt.terminated)
}
