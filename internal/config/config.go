// Package config loads the group-chat relay's environment-driven
// configuration. DATABASE_URL is required; everything else layers on a
// compiled-in default.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/petervdpas/grouprelay/internal/groupchat"
)

// Config holds everything grouprelayd needs to boot.
type Config struct {
	// DatabaseURL is the SQLite data directory; storage.Open creates it and
	// keeps groupchat.db inside it. Required.
	DatabaseURL string

	// P2PAddr is the libp2p listen "host:port". Only its port is used: the
	// transport listens on that port on 0.0.0.0.
	P2PAddr string

	// HTTPAddr is the Admin RPC HTTP listen address.
	HTTPAddr string

	// Name identifies this relay instance in logs and banners.
	Name string

	// Permissionless controls whether an unknown sender is auto-enrolled
	// as a Manager on its first Create instead of rejected; Check reports
	// such a sender as allowed without enrolling it.
	Permissionless bool

	// DefaultRemain is read from DEFAULT_REMAIN and reported in the startup
	// log. Auto-enrolled Managers and the Check reply use the compiled-in
	// groupchat.DefaultRemain whatever this field holds.
	DefaultRemain int32

	// KeyFile is where the transport's persistent libp2p identity key is
	// loaded from/saved to.
	KeyFile string

	// BlobRoot is the filesystem root internal/blob.Store is rooted at.
	BlobRoot string
}

// Supported lists the group types this relay accepts, re-exported for
// startup banner display.
var Supported = groupchat.Supported

// Default returns the relay's baseline configuration before environment
// overrides are applied.
func Default() Config {
	return Config{
		DatabaseURL:    "data/groupchat.db",
		P2PAddr:        "0.0.0.0:4001",
		HTTPAddr:       "127.0.0.1:8787",
		Name:           "grouprelayd",
		Permissionless: groupchat.Permissionless,
		DefaultRemain:  groupchat.DefaultRemain,
		KeyFile:        "data/identity.key",
		BlobRoot:       "data/blobs",
	}
}

// FromEnv builds a Config by layering os.Getenv overrides on Default:
// DATABASE_URL is required; the rest fall back to their compiled-in
// defaults when unset.
func FromEnv() (Config, error) {
	cfg := Default()

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		return Config{}, errors.New("config: DATABASE_URL is required")
	}
	cfg.DatabaseURL = dbURL

	if v := strings.TrimSpace(os.Getenv("DEFAULT_P2P_ADDR")); v != "" {
		cfg.P2PAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("DEFAULT_HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("NAME")); v != "" {
		cfg.Name = v
	}
	if v := strings.TrimSpace(os.Getenv("PERMISSIONLESS")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: PERMISSIONLESS: %w", err)
		}
		cfg.Permissionless = b
	}
	if v := strings.TrimSpace(os.Getenv("DEFAULT_REMAIN")); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return Config{}, fmt.Errorf("config: DEFAULT_REMAIN: %w", err)
		}
		cfg.DefaultRemain = int32(n)
	}
	if v := strings.TrimSpace(os.Getenv("IDENTITY_KEY_FILE")); v != "" {
		cfg.KeyFile = v
	}
	if v := strings.TrimSpace(os.Getenv("BLOB_ROOT")); v != "" {
		cfg.BlobRoot = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants FromEnv can't enforce through parsing
// alone.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("database_url is required")
	}
	if strings.TrimSpace(c.P2PAddr) == "" {
		return errors.New("p2p addr is required")
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("http addr is required")
	}
	if strings.TrimSpace(c.KeyFile) == "" {
		return errors.New("identity key file is required")
	}
	if strings.TrimSpace(c.BlobRoot) == "" {
		return errors.New("blob root is required")
	}
	if c.DefaultRemain < 0 {
		return errors.New("default_remain must be >= 0")
	}
	return nil
}
