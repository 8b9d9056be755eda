package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tailnet-monitor/internal/audit"
	"github.com/nerrad567/tailnet-monitor/internal/auth"
)

type fakeAuditRepo struct {
	mu       sync.Mutex
	entries  []audit.Entry
	filter   audit.Filter
	listErr  error
	createCh chan struct{}
}

func (f *fakeAuditRepo) Create(_ context.Context, e *audit.Entry) error {
	f.mu.Lock()
	f.entries = append(f.entries, *e)
	f.mu.Unlock()
	if f.createCh != nil {
		f.createCh <- struct{}{}
	}
	return nil
}

func (f *fakeAuditRepo) List(_ context.Context, filter audit.Filter) (*audit.ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter = filter
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &audit.ListResult{Entries: f.entries, Total: len(f.entries), Limit: filter.Limit}, nil
}

func (f *fakeAuditRepo) Prune(context.Context, time.Time) (int64, error) { return 0, nil }

// withAudit attaches a fake audit repository without starting the drain
// goroutine, so tests can read the queue directly.
func withAudit(h *harness) *fakeAuditRepo {
	repo := &fakeAuditRepo{}
	h.srv.auditRepo = repo
	h.srv.auditCh = make(chan *audit.Entry, auditChanSize)
	return repo
}

func nextAudit(t *testing.T, h *harness) *audit.Entry {
	t.Helper()
	select {
	case e := <-h.srv.auditCh:
		return e
	default:
		t.Fatal("no audit entry queued")
		return nil
	}
}

func TestAudit_MutatingHandlersRecord(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantAction string
		wantEntity string
		wantDetail string
	}{
		{"rename", http.MethodPatch, "/api/v1/entities/home", `{"name":"Home"}`, audit.ActionRename, "home", "name"},
		{"refresh", http.MethodPost, "/api/v1/entities/home/refresh", "", audit.ActionRefresh, "home", ""},
		{"delete device", http.MethodDelete, "/api/v1/entities/home/devices/n2", "", audit.ActionDeleteDevice, "home", "node_id"},
		{"remove", http.MethodDelete, "/api/v1/entities/laptop", "", audit.ActionRemove, "laptop", ""},
		{
			"pair", http.MethodPost, "/api/v1/pairing",
			`{"kind":"tailnet","tailnet_id":"corp.example","api_key":"tskey-good"}`,
			audit.ActionPair, "tailnet_corp.example", "tailnet",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			withAudit(h)

			w := h.do(t, auth.RoleAdmin, tt.method, tt.path, tt.body)
			if w.Code >= 300 {
				t.Fatalf("status = %d (body %s)", w.Code, w.Body.String())
			}

			e := nextAudit(t, h)
			if e.Action != tt.wantAction {
				t.Errorf("Action = %q, want %q", e.Action, tt.wantAction)
			}
			if e.EntityID != tt.wantEntity {
				t.Errorf("EntityID = %q, want %q", e.EntityID, tt.wantEntity)
			}
			if e.Subject != "alice" {
				t.Errorf("Subject = %q, want alice", e.Subject)
			}
			if e.Source != audit.SourceAPI {
				t.Errorf("Source = %q, want %q", e.Source, audit.SourceAPI)
			}
			if tt.wantDetail != "" {
				if _, ok := e.Details[tt.wantDetail]; !ok {
					t.Errorf("Details = %v, want key %q", e.Details, tt.wantDetail)
				}
			}
			if _, leaked := e.Details["api_key"]; leaked {
				t.Error("audit entry leaked api_key")
			}
		})
	}
}

func TestAudit_FailedCallNotRecorded(t *testing.T) {
	h := newHarness(t)
	withAudit(h)

	w := h.do(t, auth.RoleAdmin, http.MethodDelete, "/api/v1/entities/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if n := len(h.srv.auditCh); n != 0 {
		t.Errorf("queued %d audit entries for a failed call, want 0", n)
	}
}

func TestAudit_ReadsNotRecorded(t *testing.T) {
	h := newHarness(t)
	withAudit(h)

	h.do(t, auth.RoleViewer, http.MethodGet, "/api/v1/entities", "")
	h.do(t, auth.RoleViewer, http.MethodGet, "/api/v1/entities/home", "")
	if n := len(h.srv.auditCh); n != 0 {
		t.Errorf("queued %d audit entries for reads, want 0", n)
	}
}

func TestAudit_DropsWhenFull(t *testing.T) {
	h := newHarness(t)
	withAudit(h)
	h.srv.auditCh = make(chan *audit.Entry, 1)

	h.do(t, auth.RoleAdmin, http.MethodPost, "/api/v1/entities/home/refresh", "")
	w := h.do(t, auth.RoleAdmin, http.MethodPost, "/api/v1/entities/home/refresh", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even with a full audit queue", w.Code)
	}
	if n := len(h.srv.auditCh); n != 1 {
		t.Errorf("queue length = %d, want 1", n)
	}
}

func TestAudit_NoRepositoryIsNoop(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, auth.RoleAdmin, http.MethodPost, "/api/v1/entities/home/refresh", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	w = h.do(t, auth.RoleAdmin, http.MethodGet, "/api/v1/audit", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("list without repository status = %d, want 404", w.Code)
	}
}

func TestDrainAuditLog_WritesAndFlushesOnCancel(t *testing.T) {
	h := newHarness(t)
	repo := withAudit(h)

	h.srv.auditCh <- &audit.Entry{Action: audit.ActionRefresh, EntityID: "home"}
	h.srv.auditCh <- &audit.Entry{Action: audit.ActionRename, EntityID: "home"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		h.srv.drainAuditLog(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("drainAuditLog did not return after cancel")
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.entries) != 2 {
		t.Errorf("written = %d, want 2", len(repo.entries))
	}
}

func TestStart_DrainsAuditQueue(t *testing.T) {
	h := newHarness(t)
	repo := withAudit(h)
	repo.createCh = make(chan struct{}, 1)
	h.srv.cfg.Port = 0

	if err := h.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { h.srv.Close() }) //nolint:errcheck // Test cleanup

	h.srv.auditCh <- &audit.Entry{Action: audit.ActionRefresh, EntityID: "home"}

	select {
	case <-repo.createCh:
	case <-time.After(2 * time.Second):
		t.Fatal("audit entry was not written after Start")
	}
}

func TestListAuditLogs(t *testing.T) {
	h := newHarness(t)
	repo := withAudit(h)
	repo.entries = []audit.Entry{{ID: "a1", Action: audit.ActionPair, EntityID: "home"}}

	w := h.do(t, auth.RoleAdmin, http.MethodGet,
		"/api/v1/audit?action=pair&entity_id=home&subject=alice&limit=10&offset=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["total"] != float64(1) {
		t.Errorf("total = %v, want 1", resp["total"])
	}

	want := audit.Filter{Action: "pair", EntityID: "home", Subject: "alice", Limit: 10, Offset: 5}
	if repo.filter != want {
		t.Errorf("filter = %+v, want %+v", repo.filter, want)
	}
}

func TestListAuditLogs_Errors(t *testing.T) {
	tests := []struct {
		name    string
		role    auth.Role
		query   string
		listErr error
		want    int
	}{
		{name: "viewer forbidden", role: auth.RoleViewer, want: http.StatusForbidden},
		{name: "bad limit", role: auth.RoleAdmin, query: "?limit=ten", want: http.StatusBadRequest},
		{name: "bad offset", role: auth.RoleAdmin, query: "?offset=x", want: http.StatusBadRequest},
		{name: "repository failure", role: auth.RoleAdmin, listErr: errors.New("disk gone"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			repo := withAudit(h)
			repo.listErr = tt.listErr

			w := h.do(t, tt.role, http.MethodGet, "/api/v1/audit"+tt.query, "")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
