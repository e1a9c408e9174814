// Package adminrpc implements the thin administrative surface of the relay:
// add/remove/list managers, served over plain net/http, plus a websocket
// push channel that broadcasts the manager list whenever it changes. A
// manager is a durable gate, not a runtime resource — nothing here touches
// the presence map.
package adminrpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petervdpas/grouprelay/internal/groupchat"
)

// ManagerStore is the narrow collaborator the admin surface needs: upsert,
// soft delete, and list. Satisfied by *storage.Repository; defined here so
// adminrpc never imports storage directly.
type ManagerStore interface {
	ManagerUpsert(ctx context.Context, gid groupchat.GroupID, isSuspended bool) (groupchat.Manager, error)
	ManagerSoftDelete(ctx context.Context, gid groupchat.GroupID) error
	ManagerAll(ctx context.Context) ([]groupchat.Manager, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the Admin RPC HTTP handler.
type Server struct {
	managers ManagerStore
	srv      *http.Server
	logger   *log.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// New constructs an Admin RPC server bound to addr, backed by managers.
func New(addr string, managers ManagerStore, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		managers: managers,
		logger:   logger,
		clients:  make(map[*websocket.Conn]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/admin/managers", s.handleManagers)
	mux.HandleFunc("/admin/managers/add", s.handleAdd)
	mux.HandleFunc("/admin/managers/remove", s.handleRemove)
	mux.HandleFunc("/admin/echo", s.handleEcho)
	mux.HandleFunc("/admin/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves HTTP until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type managerView struct {
	GID              string `json:"gid"`
	RemainingCreates int32  `json:"remaining_creates"`
	IsSuspended      bool   `json:"is_suspended"`
}

func toView(m groupchat.Manager) managerView {
	return managerView{GID: m.GID.String(), RemainingCreates: m.RemainingCreates, IsSuspended: m.IsSuspended}
}

func (s *Server) handleManagers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	mgrs, err := s.managers.ManagerAll(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	views := make([]managerView, len(mgrs))
	for i, m := range mgrs {
		views[i] = toView(m)
	}
	writeJSON(w, views)
}

type managerRequest struct {
	GID         string `json:"gid"`
	IsSuspended bool   `json:"is_suspended"`
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req managerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	gid, err := parseGID(req.GID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	m, err := s.managers.ManagerUpsert(r.Context(), gid, req.IsSuspended)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.broadcastManagers(r.Context())
	writeJSON(w, toView(m))
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req managerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	gid, err := parseGID(req.GID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.managers.ManagerSoftDelete(r.Context(), gid); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.broadcastManagers(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// handleEcho echoes the request body back verbatim, a connectivity
// diagnostic for operators poking the admin surface.
func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.Copy(w, r.Body)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	if mgrs, err := s.managers.ManagerAll(r.Context()); err == nil {
		views := make([]managerView, len(mgrs))
		for i, m := range mgrs {
			views[i] = toView(m)
		}
		_ = conn.WriteJSON(views)
	}

	// The client never sends anything meaningful; drain reads so the
	// connection's close is detected promptly.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) broadcastManagers(ctx context.Context) {
	mgrs, err := s.managers.ManagerAll(ctx)
	if err != nil {
		s.logger.Printf("adminrpc: broadcast: list managers: %v", err)
		return
	}
	views := make([]managerView, len(mgrs))
	for i, m := range mgrs {
		views[i] = toView(m)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		if err := c.WriteJSON(views); err != nil {
			c.Close()
			delete(s.clients, c)
		}
	}
}

func parseGID(s string) (groupchat.GroupID, error) {
	var gid groupchat.GroupID
	if err := gid.UnmarshalText([]byte(s)); err != nil {
		return groupchat.GroupID{}, err
	}
	return gid, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
