package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/tunneldesk/tunneldesk/pkg/broker"
	"github.com/tunneldesk/tunneldesk/pkg/db"
	"github.com/tunneldesk/tunneldesk/pkg/materialize"
	"github.com/tunneldesk/tunneldesk/pkg/store"
)

func testRouter(t *testing.T) (*gin.Engine, *materialize.Materializer) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mem := store.NewMem()
	mem.AddUser(db.User{ID: 7, UserName: "alice", Email: "alice@example.com", AuthToken: "tok-alice"})
	m := materialize.NewMaterializer(filepath.Join(t.TempDir(), "forwarding.json"))
	return Router(broker.New(mem, mem, m)), m
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}, userID string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("err: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body %q: %v", w.Body.String(), err)
	}
	return w, resp
}

func TestAddTunnel(t *testing.T) {
	r, _ := testRouter(t)

	w, resp := doJSON(t, r, http.MethodPost, "/api/add_tunnel", map[string]interface{}{
		"protocol":  "http",
		"name":      "my tunnel",
		"subdomain": "a.example.com",
		"localPort": 3000,
	}, "7")
	if w.Code != http.StatusOK || resp.Code != 0 {
		t.Fatalf("status=%d code=%d msg=%s", w.Code, resp.Code, resp.Msg)
	}

	// same subdomain again: code 1 with the SubdomainTaken reason
	w, resp = doJSON(t, r, http.MethodPost, "/api/add_tunnel", map[string]interface{}{
		"protocol":  "http",
		"name":      "other",
		"subdomain": "a.example.com",
		"localPort": 3001,
	}, "7")
	if w.Code != http.StatusOK || resp.Code != 1 {
		t.Fatalf("status=%d code=%d", w.Code, resp.Code)
	}
	if resp.Reason != ReasonSubdomainTaken {
		t.Fatalf("reason = %q, want %q", resp.Reason, ReasonSubdomainTaken)
	}
}

func TestAddTunnelRequiresCaller(t *testing.T) {
	r, _ := testRouter(t)
	w, _ := doJSON(t, r, http.MethodPost, "/api/add_tunnel", map[string]interface{}{
		"protocol":  "http",
		"subdomain": "a.example.com",
		"localPort": 3000,
	}, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestAddTunnelRejectsUnknownProtocol(t *testing.T) {
	r, _ := testRouter(t)
	w, resp := doJSON(t, r, http.MethodPost, "/api/add_tunnel", map[string]interface{}{
		"protocol":  "gopher",
		"subdomain": "a.example.com",
		"localPort": 3000,
	}, "7")
	if w.Code != http.StatusBadRequest || resp.Code != 1 {
		t.Fatalf("status=%d code=%d", w.Code, resp.Code)
	}
}

func TestAdminAddTunnelMaterializesImmediately(t *testing.T) {
	r, m := testRouter(t)

	w, resp := doJSON(t, r, http.MethodPost, "/api/v2/add_tunnel?user_id=7", map[string]interface{}{
		"protocol":   "tls",
		"name":       "admin tunnel",
		"subdomain":  "adm.example.com",
		"localPort":  3000,
		"remotePort": 8443,
	}, "")
	if w.Code != http.StatusOK || resp.Code != 0 {
		t.Fatalf("status=%d code=%d msg=%s", w.Code, resp.Code, resp.Msg)
	}
	entries, err := m.Entries()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	for _, entry := range entries {
		if entry.RemotePort != 8443 || entry.OwnerUsername != "alice" {
			t.Fatalf("bad entry: %+v", entry)
		}
	}
}

func TestListTunnels(t *testing.T) {
	r, _ := testRouter(t)

	for _, sub := range []string{"a.example.com", "b.example.com", "c.example.com"} {
		_, resp := doJSON(t, r, http.MethodPost, "/api/add_tunnel", map[string]interface{}{
			"protocol":  "http",
			"subdomain": sub,
			"localPort": 3000,
		}, "7")
		if resp.Code != 0 {
			t.Fatalf("create %s failed: %s", sub, resp.Msg)
		}
	}

	w, resp := doJSON(t, r, http.MethodGet, "/api/tunnels?page=1&limit=2", nil, "7")
	if w.Code != http.StatusOK || resp.Code != 0 {
		t.Fatalf("status=%d code=%d", w.Code, resp.Code)
	}
	if resp.Count != 3 {
		t.Fatalf("count = %d, want 3", resp.Count)
	}
	items, ok := resp.Data.([]interface{})
	if !ok {
		t.Fatalf("data is %T", resp.Data)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
}

func TestAuditTunnelFlow(t *testing.T) {
	r, m := testRouter(t)

	_, resp := doJSON(t, r, http.MethodPost, "/api/add_tunnel", map[string]interface{}{
		"protocol":  "http",
		"subdomain": "a.example.com",
		"localPort": 3000,
	}, "7")
	if resp.Code != 0 {
		t.Fatalf("create failed: %s", resp.Msg)
	}
	var created db.Tunnel
	raw, _ := json.Marshal(resp.Data)
	if err := json.Unmarshal(raw, &created); err != nil {
		t.Fatalf("err: %v", err)
	}

	w, resp := doJSON(t, r, http.MethodPost, "/api/audit_tunnel", map[string]interface{}{
		"tunnelId":   created.ID,
		"userId":     7,
		"status":     int(db.StatusPass),
		"remotePort": 8080,
	}, "")
	if w.Code != http.StatusOK || resp.Code != 0 {
		t.Fatalf("status=%d code=%d msg=%s", w.Code, resp.Code, resp.Msg)
	}
	if approved, ok := resp.Data.(bool); !ok || !approved {
		t.Fatalf("data = %v, want true", resp.Data)
	}
	entries, err := m.Entries()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}

	// admin listing shows the approved tunnel with owner identity
	w, resp = doJSON(t, r, http.MethodGet, "/api/v2/tunnels?status=1", nil, "")
	if w.Code != http.StatusOK || resp.Count != 1 {
		t.Fatalf("status=%d count=%d", w.Code, resp.Count)
	}

	// unknown tunnel id: no-op false, still code 0
	w, resp = doJSON(t, r, http.MethodPost, "/api/audit_tunnel", map[string]interface{}{
		"tunnelId":   999999,
		"userId":     7,
		"status":     int(db.StatusPass),
		"remotePort": 8080,
	}, "")
	if w.Code != http.StatusOK || resp.Code != 0 {
		t.Fatalf("status=%d code=%d", w.Code, resp.Code)
	}
	if noop, ok := resp.Data.(bool); !ok || noop {
		t.Fatalf("data = %v, want false", resp.Data)
	}
}
