package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/licenselock/licenselock/internal/app"
	"github.com/licenselock/licenselock/internal/config"
)

const operatorKey = "integration-operator-key"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Profile:         "dev",
		HTTPAddr:        "127.0.0.1:0",
		ShutdownTimeout: 5 * time.Second,
		OperatorKey:     operatorKey,
		TokenPepper:     "integration-token-pepper",
		BcryptCost:      4,
		DatabaseDriver:  "sqlite",
		DatabaseDSN:     fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_")),
		StorageTimeout:  5 * time.Second,
		SessionTTL:      time.Hour,
		LoginRateLimit:  50,
		LoginRateWindow: time.Minute,
		AbuseThreshold:  5,
		AbuseWindow:     15 * time.Minute,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (string, *app.App) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := app.Build(context.Background(), cfg, logger, nil)
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	server := httptest.NewServer(a.Server.Handler)
	t.Cleanup(server.Close)
	return server.URL, a
}

func doJSON(t *testing.T, method, url string, body any, asOperator bool) (*http.Response, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if asOperator {
		req.Header.Set("X-Operator-Key", operatorKey)
		req.Header.Set("X-Operator-Actor", "ops@example.com")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope %q: %v", raw, err)
	}
	return resp, env
}

func dataField[T any](t *testing.T, env envelope, field string) T {
	t.Helper()
	var data map[string]json.RawMessage
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data %q: %v", env.Data, err)
	}
	raw, ok := data[field]
	if !ok {
		t.Fatalf("data %q has no field %q", env.Data, field)
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode data field %q from %q: %v", field, env.Data, err)
	}
	return v
}

func errCode(env envelope) string {
	if env.Error == nil {
		return ""
	}
	return env.Error.Code
}

// setupAccount registers a user, creates a product and grants a license,
// returning the user and product ids.
func setupAccount(t *testing.T, baseURL, email, credential, product string, expiresAt *time.Time) (uint, uint) {
	t.Helper()
	resp, env := doJSON(t, http.MethodPost, baseURL+"/api/v1/auth/register", map[string]string{
		"email": email, "credential": credential,
	}, false)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: status=%d code=%s", resp.StatusCode, errCode(env))
	}
	userID := uint(dataField[float64](t, env, "id"))

	resp, env = doJSON(t, http.MethodPost, baseURL+"/api/v1/admin/products", map[string]string{"name": product}, true)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create product: status=%d code=%s", resp.StatusCode, errCode(env))
	}
	productID := uint(dataField[float64](t, env, "id"))

	grant := map[string]any{"user_id": userID, "product_id": productID}
	if expiresAt != nil {
		grant["expires_at"] = expiresAt.UTC().Format(time.RFC3339)
	}
	resp, env = doJSON(t, http.MethodPost, baseURL+"/api/v1/admin/licenses", grant, true)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("grant license: status=%d code=%s", resp.StatusCode, errCode(env))
	}
	return userID, productID
}

func login(t *testing.T, baseURL, email, credential, product, fingerprint string) (*http.Response, envelope) {
	t.Helper()
	return doJSON(t, http.MethodPost, baseURL+"/api/v1/auth/login", map[string]string{
		"email": email, "credential": credential, "product": product, "fingerprint": fingerprint,
	}, false)
}
