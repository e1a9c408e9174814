// cmd/grouprelayd/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/petervdpas/grouprelay/internal/app"
	"github.com/petervdpas/grouprelay/internal/config"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("grouprelayd v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutting down gracefully...")
		cancel()
	}()

	if err := app.Run(ctx, app.Options{Cfg: cfg}); err != nil {
		log.Fatalf("grouprelayd: %v", err)
	}
}

func showUsage() {
	fmt.Println("grouprelayd - group-chat relay service")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  grouprelayd")
	fmt.Println()
	fmt.Println("Configuration is environment-driven:")
	fmt.Println("  DATABASE_URL        required, SQLite data directory")
	fmt.Println("  DEFAULT_P2P_ADDR    libp2p listen address (default 0.0.0.0:4001)")
	fmt.Println("  DEFAULT_HTTP_ADDR   Admin RPC listen address (default 127.0.0.1:8787)")
	fmt.Println("  NAME                instance name for logs/banners")
	fmt.Println("  PERMISSIONLESS      true|false (default true)")
	fmt.Println("  DEFAULT_REMAIN      reported in the startup log (default 10); auto-enrolled managers start with 10")
	fmt.Println("  IDENTITY_KEY_FILE   path to the persistent libp2p identity key")
	fmt.Println("  BLOB_ROOT           filesystem root for group blob storage")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h        Show this help message")
	fmt.Println("  -version  Show version")
}
