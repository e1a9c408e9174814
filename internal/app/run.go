// internal/app/run.go
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/petervdpas/grouprelay/internal/adminrpc"
	"github.com/petervdpas/grouprelay/internal/blob"
	"github.com/petervdpas/grouprelay/internal/config"
	"github.com/petervdpas/grouprelay/internal/groupchat"
	"github.com/petervdpas/grouprelay/internal/groupchat/layer"
	"github.com/petervdpas/grouprelay/internal/groupchat/proof"
	"github.com/petervdpas/grouprelay/internal/storage"
	"github.com/petervdpas/grouprelay/internal/transport"
)

// Options carries everything the relay needs to boot, parsed by
// cmd/grouprelayd/main.go's flag/env bootstrap.
type Options struct {
	Cfg config.Config
}

// Run wires the full relay: storage, blob store, the Coordinator, the
// libp2p transport, and the admin HTTP server, then blocks until ctx is
// cancelled.
func Run(ctx context.Context, opt Options) error {
	cfg := opt.Cfg
	logBanner(cfg)

	db, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("app: open database: %w", err)
	}
	defer db.Close()

	repo := storage.NewRepository(db)

	blobs, err := blob.NewStore(cfg.BlobRoot, true)
	if err != nil {
		return fmt.Errorf("app: open blob store: %w", err)
	}
	defer blobs.Close()

	// Surface externally-dropped blob files (an operator copying an avatar
	// in by hand) in the log, so out-of-band edits to the blob tree are
	// visible instead of silent. The channel closes with the store.
	if events := blobs.Events(); events != nil {
		go func() {
			for ev := range events {
				log.Printf("app: blob tree changed externally: %s %s", ev.Op, ev.Name)
			}
		}()
	}

	presence := groupchat.NewPresenceMap()
	groups, err := repo.GroupAll(ctx)
	if err != nil {
		return fmt.Errorf("app: load groups: %w", err)
	}
	presence.Load(groups)
	log.Printf("app: loaded %d group(s) into presence map", len(groups))

	reg := prometheus.NewRegistry()
	metrics := groupchat.NewMetrics(reg)

	verifier := proof.Ed25519Verifier{}
	coordinator := layer.New(repo, presence, blobs, verifier, cfg.Permissionless, log.Default(), metrics)

	listenPort, err := portOf(cfg.P2PAddr)
	if err != nil {
		return fmt.Errorf("app: parse p2p addr: %w", err)
	}
	tr, err := transport.New(ctx, listenPort, cfg.KeyFile, coordinator, log.Default())
	if err != nil {
		return fmt.Errorf("app: start transport: %w", err)
	}
	defer tr.Close()

	for _, a := range tr.Addrs() {
		log.Printf("app: listening at %s", a)
	}

	admin := adminrpc.New(cfg.HTTPAddr, repo, log.Default())
	errCh := make(chan error, 1)
	go func() { errCh <- admin.Start(ctx) }()

	log.Printf("app: %s ready (permissionless=%v, default_remain=%d, supported=%v)", cfg.Name, cfg.Permissionless, cfg.DefaultRemain, config.Supported)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func portOf(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}

func logBanner(cfg config.Config) {
	log.Println("────────────────────────────────────────────────────────")
	log.Printf("%s — group-chat relay", cfg.Name)
	log.Printf("p2p:  %s", cfg.P2PAddr)
	log.Printf("http: %s", cfg.HTTPAddr)
	log.Printf("db:   %s", cfg.DatabaseURL)
	log.Println("────────────────────────────────────────────────────────")
}
