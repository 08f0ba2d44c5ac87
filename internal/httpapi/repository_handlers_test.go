package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AnturK/tgstation-server/internal/domain"
)

func TestHandleGetRepositoryNotFound(t *testing.T) {
	s, _, runtimes := newRuntimeTestServer()
	runtimes.byID[1] = &fakeRuntime{snapshotOK: false}

	req := httptest.NewRequest(http.MethodGet, "/Instance/1/Repository", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetRepositoryFound(t *testing.T) {
	s, _, runtimes := newRuntimeTestServer()
	runtimes.byID[1] = &fakeRuntime{
		snapshotOK: true,
		snapshot:   domain.RepositorySnapshot{InstanceID: 1, OriginURL: "https://example.com/repo.git", HeadSHA: "abc123"},
	}

	req := httptest.NewRequest(http.MethodGet, "/Instance/1/Repository", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.RepositorySnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "abc123", got.HeadSHA)
}
