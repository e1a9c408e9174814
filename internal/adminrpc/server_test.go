package adminrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/petervdpas/grouprelay/internal/groupchat"
)

type fakeManagerStore struct {
	mu   sync.Mutex
	byID map[groupchat.GroupID]groupchat.Manager
	next int64
}

func newFakeManagerStore() *fakeManagerStore {
	return &fakeManagerStore{byID: make(map[groupchat.GroupID]groupchat.Manager)}
}

func (f *fakeManagerStore) ManagerUpsert(ctx context.Context, gid groupchat.GroupID, isSuspended bool) (groupchat.Manager, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[gid]
	if !ok {
		f.next++
		m = groupchat.Manager{ID: f.next, GID: gid, RemainingCreates: groupchat.DefaultRemain}
	}
	m.IsSuspended = isSuspended
	m.IsDeleted = false
	f.byID[gid] = m
	return m, nil
}

func (f *fakeManagerStore) ManagerSoftDelete(ctx context.Context, gid groupchat.GroupID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[gid]
	if !ok {
		return errors.New("not found")
	}
	m.IsDeleted = true
	f.byID[gid] = m
	return nil
}

func (f *fakeManagerStore) ManagerAll(ctx context.Context) ([]groupchat.Manager, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []groupchat.Manager
	for _, m := range f.byID {
		if !m.IsDeleted {
			out = append(out, m)
		}
	}
	return out, nil
}

func testGID(b byte) groupchat.GroupID {
	var g groupchat.GroupID
	g[0] = b
	return g
}

func newTestServer(t *testing.T) (*Server, *fakeManagerStore, *httptest.Server) {
	t.Helper()
	store := newFakeManagerStore()
	srv := New("127.0.0.1:0", store, log.Default())
	ts := httptest.NewServer(srv.srv.Handler)
	t.Cleanup(ts.Close)
	return srv, store, ts
}

func TestHandleAddThenListManagers(t *testing.T) {
	_, _, ts := newTestServer(t)
	gid := testGID(1)

	body, _ := json.Marshal(managerRequest{GID: gid.String(), IsSuspended: false})
	resp, err := http.Post(ts.URL+"/admin/managers/add", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add status = %d, want 200", resp.StatusCode)
	}
	var added managerView
	if err := json.NewDecoder(resp.Body).Decode(&added); err != nil {
		t.Fatal(err)
	}
	if added.GID != gid.String() || added.RemainingCreates != groupchat.DefaultRemain {
		t.Fatalf("added = %+v", added)
	}

	listResp, err := http.Get(ts.URL + "/admin/managers")
	if err != nil {
		t.Fatal(err)
	}
	defer listResp.Body.Close()
	var views []managerView
	if err := json.NewDecoder(listResp.Body).Decode(&views); err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 || views[0].GID != gid.String() {
		t.Fatalf("list = %+v, want one entry for %s", views, gid.String())
	}
}

func TestHandleRemoveSoftDeletesManager(t *testing.T) {
	_, store, ts := newTestServer(t)
	gid := testGID(2)
	if _, err := store.ManagerUpsert(context.Background(), gid, false); err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(managerRequest{GID: gid.String()})
	resp, err := http.Post(ts.URL+"/admin/managers/remove", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("remove status = %d, want 204", resp.StatusCode)
	}

	listResp, err := http.Get(ts.URL + "/admin/managers")
	if err != nil {
		t.Fatal(err)
	}
	defer listResp.Body.Close()
	var views []managerView
	if err := json.NewDecoder(listResp.Body).Decode(&views); err != nil {
		t.Fatal(err)
	}
	if len(views) != 0 {
		t.Fatalf("list after remove = %+v, want empty", views)
	}
}

func TestHandleAddRejectsMalformedGID(t *testing.T) {
	_, _, ts := newTestServer(t)

	body, _ := json.Marshal(managerRequest{GID: "not-hex"})
	resp, err := http.Post(ts.URL+"/admin/managers/add", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleManagersRejectsNonGet(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/admin/managers", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}

func TestEchoRoundTripsBody(t *testing.T) {
	_, _, ts := newTestServer(t)

	payload := `{"ping":"pong"}`
	resp, err := http.Post(ts.URL+"/admin/echo", "application/json", bytes.NewReader([]byte(payload)))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != payload {
		t.Fatalf("echo body = %q, want %q", body, payload)
	}
}

func TestEchoRejectsNonPost(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/admin/echo")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
