//go:build integration

package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/nesthaus/riskengine/internal/auth"
)

// AnalystToken returns a token for the analyst realm with the given role.
func (env *TestEnv) AnalystToken(role string) string {
	env.t.Helper()
	tok, err := env.JWTMgr.GenerateToken(auth.RealmAnalyst, "it-"+role, "", role)
	if err != nil {
		env.t.Fatalf("generate token: %v", err)
	}
	return tok
}

// GET issues an authenticated GET request.
func (env *TestEnv) GET(path, token string) *http.Response {
	env.t.Helper()
	return env.do(http.MethodGet, path, nil, token)
}

// POST issues a JSON POST request.
func (env *TestEnv) POST(path string, body any, token string) *http.Response {
	env.t.Helper()
	return env.do(http.MethodPost, path, body, token)
}

func (env *TestEnv) do(method, path string, body any, token string) *http.Response {
	env.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			env.t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, env.Server.URL+path, &buf)
	if err != nil {
		env.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := env.Server.Client().Do(req)
	if err != nil {
		env.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// DecodeJSON reads and decodes a JSON response body into dst.
func DecodeJSON(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
}

// AssertStatus checks that the response has the expected HTTP status code.
func AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
