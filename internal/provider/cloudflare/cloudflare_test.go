package cloudflare

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"testing"

	"github.com/evanofslack/dnsup/internal/errs"
	"github.com/evanofslack/dnsup/internal/provider"
)

const apiToken = "cf-token-0123456789"

type fakeAPI struct {
	t        *testing.T
	records  []map[string]any
	authFail bool

	mu      sync.Mutex
	calls   []string
	bodies  []map[string]any
	lastGet string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	if got := r.Header.Get("Authorization"); got != "Bearer "+apiToken {
		f.t.Errorf("authorization header = %q", got)
	}
	w.Header().Set("Content-Type", "application/json")

	if f.authFail {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"success":false,"errors":[{"code":10000,"message":"Authentication error"}],"messages":[],"result":null}`)
		return
	}

	resultInfo := map[string]any{"page": 1, "per_page": 100, "count": 1, "total_count": 1, "total_pages": 1}
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/zones":
		if r.URL.Query().Get("name") != "example.com" {
			f.t.Errorf("zone lookup query = %s", r.URL.RawQuery)
		}
		writeJSON(w, map[string]any{
			"success": true, "errors": []any{}, "messages": []any{},
			"result":      []any{map[string]any{"id": "zone-1", "name": "example.com"}},
			"result_info": resultInfo,
		})
	case r.Method == http.MethodGet && r.URL.Path == "/zones/zone-1/dns_records":
		f.mu.Lock()
		f.lastGet = r.URL.RawQuery
		f.mu.Unlock()
		info := map[string]any{"page": 1, "per_page": 100, "count": len(f.records), "total_count": len(f.records), "total_pages": 1}
		writeJSON(w, map[string]any{
			"success": true, "errors": []any{}, "messages": []any{},
			"result":      f.records,
			"result_info": info,
		})
	case (r.Method == http.MethodPatch || r.Method == http.MethodPut || r.Method == http.MethodPost) && strings.HasPrefix(r.URL.Path, "/zones/zone-1/dns_records"):
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			f.t.Errorf("decode body: %v", err)
		}
		f.mu.Lock()
		f.bodies = append(f.bodies, body)
		f.mu.Unlock()
		body["id"] = "record-1"
		writeJSON(w, map[string]any{"success": true, "errors": []any{}, "messages": []any{}, "result": body})
	default:
		f.t.Errorf("unexpected request %s %s", r.Method, r.URL.String())
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}

func newTestProvider(srv *httptest.Server) *CloudflareProvider {
	return New(provider.Settings{
		Login:      "token",
		Password:   apiToken,
		Zone:       "example.com",
		Server:     srv.URL,
		TTL:        300,
		HTTPClient: srv.Client(),
	})
}

func TestUpdateExistingRecord(t *testing.T) {
	api := &fakeAPI{t: t, records: []map[string]any{
		{"id": "record-1", "type": "A", "name": "home.example.com", "content": "192.0.2.1", "ttl": 300},
	}}
	srv := httptest.NewServer(api)
	defer srv.Close()

	p := newTestProvider(srv)
	if err := p.UpdateRecord(context.Background(), "home.example.com", netip.MustParseAddr("203.0.113.9")); err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}

	if !strings.Contains(api.lastGet, "type=A") || !strings.Contains(api.lastGet, "name=home.example.com") {
		t.Errorf("list query = %s", api.lastGet)
	}
	if len(api.bodies) != 1 {
		t.Fatalf("expected one write, got %d (%v)", len(api.bodies), api.calls)
	}
	if api.bodies[0]["content"] != "203.0.113.9" || api.bodies[0]["type"] != "A" {
		t.Errorf("unexpected write body %v", api.bodies[0])
	}
	last := api.calls[len(api.calls)-1]
	if !strings.HasSuffix(last, "/zones/zone-1/dns_records/record-1") {
		t.Errorf("last call = %s", last)
	}
}

func TestCreateMissingRecord(t *testing.T) {
	api := &fakeAPI{t: t}
	srv := httptest.NewServer(api)
	defer srv.Close()

	p := newTestProvider(srv)
	if err := p.UpdateRecord(context.Background(), "v6.example.com", netip.MustParseAddr("2001:db8::9")); err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}
	if len(api.bodies) != 1 || api.bodies[0]["type"] != "AAAA" {
		t.Fatalf("expected one AAAA create, got %v", api.bodies)
	}
	last := api.calls[len(api.calls)-1]
	if last != "POST /zones/zone-1/dns_records" {
		t.Errorf("last call = %s", last)
	}
}

func TestZoneIDCached(t *testing.T) {
	api := &fakeAPI{t: t, records: []map[string]any{
		{"id": "record-1", "type": "A", "name": "home.example.com", "content": "203.0.113.9", "ttl": 300},
	}}
	srv := httptest.NewServer(api)
	defer srv.Close()

	p := newTestProvider(srv)
	for i := 0; i < 2; i++ {
		if err := p.UpdateRecord(context.Background(), "home.example.com", netip.MustParseAddr("203.0.113.9")); err != nil {
			t.Fatalf("UpdateRecord: %v", err)
		}
	}
	zoneLookups := 0
	for _, c := range api.calls {
		if c == "GET /zones" {
			zoneLookups++
		}
	}
	if zoneLookups != 1 {
		t.Errorf("zone looked up %d times", zoneLookups)
	}
	if len(api.bodies) != 0 {
		t.Errorf("current record rewritten: %v", api.bodies)
	}
}

func TestUnauthorizedHidesToken(t *testing.T) {
	srv := httptest.NewServer(&fakeAPI{t: t, authFail: true})
	defer srv.Close()

	err := newTestProvider(srv).UpdateRecord(context.Background(), "home.example.com", netip.MustParseAddr("203.0.113.9"))
	if !errs.Is(err, errs.KindUpdate) {
		t.Fatalf("expected update error, got %v", err)
	}
	if strings.Contains(err.Error(), apiToken) {
		t.Errorf("token leaked: %s", err)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		s       provider.Settings
		wantErr bool
	}{
		{name: "token", s: provider.Settings{Login: "token", Password: apiToken, Zone: "example.com"}},
		{name: "global key", s: provider.Settings{Login: "me@example.com", Password: "key", Zone: "example.com"}},
		{name: "missing zone", s: provider.Settings{Login: "token", Password: apiToken}, wantErr: true},
		{name: "missing password", s: provider.Settings{Login: "token", Zone: "example.com"}, wantErr: true},
		{name: "missing login", s: provider.Settings{Password: apiToken, Zone: "example.com"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.s).ValidateConfig()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errs.Is(err, errs.KindConfig) {
				t.Errorf("kind = %v", errs.KindOf(err))
			}
		})
	}
}
