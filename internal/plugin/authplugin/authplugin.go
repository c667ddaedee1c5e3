// Package authplugin implements the concrete auth plugin shipped with
// the core (spec §4.G, "Auth plugin"), the one plugin every route can
// reference by name ("auth") from the Plugin Host's compile-time
// registry.
package authplugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/caddyserver/gatewaycore/internal/breaker"
	"github.com/caddyserver/gatewaycore/internal/plugin"
)

// Name is the registry key this plugin is registered under.
const Name = "auth"

// forwardedAllowlist is copied verbatim from the client request onto the
// auth-service call, per spec §4.G step 3.
var forwardedAllowlist = []string{
	"accept-language", "device-type", "app-version", "device-id",
	"x-device-os", "gps-coordinates", "x-forwarded-for", "x-real-ip", "user-agent",
}

type verifyResponse struct {
	Data struct {
		VerifyStatus bool        `json:"verifyStatus"`
		UserID       interface{} `json:"userId"`
	} `json:"data"`
}

type failBody struct {
	Status       string        `json:"status"`
	Error        string        `json:"error"`
	ErrorDetails []errorDetail `json:"errorDetails"`
	Timestamp    string        `json:"timestamp"`
}

type errorDetail struct {
	Message string `json:"message"`
}

// Factory builds the auth middleware. client is the dedicated HTTP
// client for auth-service traffic (spec §5: "a separate pool with its
// own caps" from gateway-to-upstream traffic).
func Factory(client *http.Client) plugin.Factory {
	return func(params map[string]any) (plugin.Middleware, error) {
		rawURL, _ := params["auth_service_url"].(string)
		rawURL = strings.TrimRight(strings.TrimSpace(rawURL), "/")
		if rawURL == "" {
			return nil, fmt.Errorf("auth plugin requires a non-empty auth_service_url")
		}
		if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
			return nil, fmt.Errorf("auth_service_url must be http or https, got %q", rawURL)
		}

		enabled := true
		if v, ok := params["enabled"].(bool); ok {
			enabled = v
		}

		verifyURL := rawURL + "/api/v1/authz/verify"

		mw := &authMiddleware{client: client, verifyURL: verifyURL, enabled: enabled}
		return mw.handle, nil
	}
}

type authMiddleware struct {
	client    *http.Client
	verifyURL string
	enabled   bool
}

func (a *authMiddleware) handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := headerCaseInsensitive(r.Header, "Authorization")
		if authHeader == "" {
			writeFail(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization header is required")
			return
		}

		status, body, userID, err := a.verify(r, authHeader)
		if err != nil {
			writeFail(w, http.StatusBadGateway, "AUTH_SERVICE_UNAVAILABLE", err.Error())
			return
		}

		if status >= 200 && status < 300 && userID != "" {
			r.Header.Set("X-User-Id", userID)
			r.Header.Del("Authorization")
			next.ServeHTTP(w, r)
			return
		}

		// Any other 2xx, or any 4xx: surface the auth service's body
		// verbatim with its status, clamped to [400,500) else 401.
		clamped := status
		if clamped < 400 || clamped >= 500 {
			clamped = http.StatusUnauthorized
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(clamped)
		_, _ = w.Write(body)
	})
}

// verify performs the upstream call and returns (status, rawBody,
// userID, err). err is non-nil for transport-level failures and failed
// body reads (spec §4.G step 6), and for 5xx auth-service responses,
// which surface as errors rather than as auth decisions (step 3).
func (a *authMiddleware) verify(r *http.Request, authHeader string) (int, []byte, string, error) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.verifyURL, bytes.NewReader([]byte("{}")))
	if err != nil {
		return 0, nil, "", err
	}

	req.Header.Set("Authorization", authHeader)
	req.Header.Set("X-Original-URI", r.URL.RequestURI())
	req.Header.Set("X-Original-Method", r.Method)
	req.Header.Set("Content-Type", "application/json")
	for _, h := range forwardedAllowlist {
		if v := headerCaseInsensitive(r.Header, h); v != "" {
			req.Header.Set(h, v)
		}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, nil, "", fmt.Errorf("auth service unreachable: %w", err)
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return 0, nil, "", fmt.Errorf("reading auth service response: %w", err)
	}
	rawBody := buf.Bytes()

	if breaker.ClassifyHTTPStatus(resp.StatusCode) {
		return 0, nil, "", fmt.Errorf("auth service returned %d", resp.StatusCode)
	}

	var parsed verifyResponse
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(rawBody, &parsed); err == nil && parsed.Data.VerifyStatus {
			return resp.StatusCode, rawBody, userIDString(parsed.Data.UserID), nil
		}
	}

	return resp.StatusCode, rawBody, "", nil
}

func userIDString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}

func headerCaseInsensitive(h http.Header, key string) string {
	return h.Get(key) // http.Header.Get already canonicalizes case
}

func writeFail(w http.ResponseWriter, status int, errCode, message string) {
	body := failBody{
		Status:       "fail",
		Error:        errCode,
		ErrorDetails: []errorDetail{{Message: message}},
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
