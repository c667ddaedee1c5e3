package authplugin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newMiddleware(t *testing.T, authURL string, params map[string]any) http.Handler {
	t.Helper()
	if params == nil {
		params = map[string]any{}
	}
	if _, ok := params["auth_service_url"]; !ok {
		params["auth_service_url"] = authURL
	}
	factory := Factory(http.DefaultClient)
	mw, err := factory(params)
	require.NoError(t, err)
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-User-Id-Seen", r.Header.Get("X-User-Id"))
		w.Header().Set("X-Auth-Header-Seen", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
}

func TestFactory_RequiresAuthServiceURL(t *testing.T) {
	factory := Factory(http.DefaultClient)
	_, err := factory(map[string]any{"auth_service_url": ""})
	require.Error(t, err)
}

func TestFactory_RejectsNonHTTPScheme(t *testing.T) {
	factory := Factory(http.DefaultClient)
	_, err := factory(map[string]any{"auth_service_url": "ftp://x"})
	require.Error(t, err)
}

func TestMiddleware_MissingAuthorizationHeaderIs401(t *testing.T) {
	h := newMiddleware(t, "http://unused.invalid", nil)
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var body failBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "UNAUTHORIZED", body.Error)
}

func TestMiddleware_VerifiedRequestSetsUserIDAndStripsAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.Equal(t, "/x", r.Header.Get("X-Original-URI"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"verifyStatus":true,"userId":42}}`))
	}))
	defer srv.Close()

	h := newMiddleware(t, srv.URL, nil)
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "42", rec.Header().Get("X-User-Id-Seen"))
	require.Empty(t, rec.Header().Get("X-Auth-Header-Seen"))
}

func TestMiddleware_UnverifiedPassesBodyThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"status":"fail","error":"FORBIDDEN"}`))
	}))
	defer srv.Close()

	h := newMiddleware(t, srv.URL, nil)
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), "FORBIDDEN")
}

func TestMiddleware_ServerErrorSurfacesAs502(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := newMiddleware(t, srv.URL, nil)
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestMiddleware_TransportFailureIs502(t *testing.T) {
	h := newMiddleware(t, "http://127.0.0.1:1", nil)
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	var body failBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "AUTH_SERVICE_UNAVAILABLE", body.Error)
}

func TestMiddleware_DisabledPassesThrough(t *testing.T) {
	h := newMiddleware(t, "http://unused.invalid", map[string]any{"enabled": false})
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
