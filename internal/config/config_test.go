package config

import "testing"

// clearEnv resets every variable FromEnv reads, so tests don't see leftovers
// from the host environment or from each other.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATABASE_URL", "DEFAULT_P2P_ADDR", "DEFAULT_HTTP_ADDR", "NAME",
		"PERMISSIONLESS", "DEFAULT_REMAIN", "IDENTITY_KEY_FILE", "BLOB_ROOT",
	} {
		t.Setenv(k, "")
	}
}

func TestFromEnvRequiresDatabaseURL(t *testing.T) {
	clearEnv(t)
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected an error when DATABASE_URL is unset")
	}
}

func TestFromEnvAppliesDefaultsWhenOnlyDatabaseURLSet(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "data/test.db")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	want := Default()
	want.DatabaseURL = "data/test.db"
	if cfg != want {
		t.Fatalf("FromEnv() = %+v, want %+v", cfg, want)
	}
}

func TestFromEnvOverridesEveryField(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "data/custom.db")
	t.Setenv("DEFAULT_P2P_ADDR", "0.0.0.0:5000")
	t.Setenv("DEFAULT_HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("NAME", "relay-1")
	t.Setenv("PERMISSIONLESS", "false")
	t.Setenv("DEFAULT_REMAIN", "42")
	t.Setenv("IDENTITY_KEY_FILE", "data/other.key")
	t.Setenv("BLOB_ROOT", "data/other-blobs")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DatabaseURL != "data/custom.db" || cfg.P2PAddr != "0.0.0.0:5000" ||
		cfg.HTTPAddr != "127.0.0.1:9000" || cfg.Name != "relay-1" ||
		cfg.Permissionless != false || cfg.DefaultRemain != 42 ||
		cfg.KeyFile != "data/other.key" || cfg.BlobRoot != "data/other-blobs" {
		t.Fatalf("FromEnv() = %+v, did not apply every override", cfg)
	}
}

func TestFromEnvRejectsMalformedPermissionless(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "data/test.db")
	t.Setenv("PERMISSIONLESS", "not-a-bool")

	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected an error for malformed PERMISSIONLESS")
	}
}

func TestFromEnvRejectsMalformedDefaultRemain(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "data/test.db")
	t.Setenv("DEFAULT_REMAIN", "not-a-number")

	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected an error for malformed DEFAULT_REMAIN")
	}
}

func TestValidateRejectsNegativeDefaultRemain(t *testing.T) {
	cfg := Default()
	cfg.DefaultRemain = -1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for negative DefaultRemain")
	}
}

func TestValidateRejectsEmptyRequiredFields(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.DatabaseURL = "" },
		func(c *Config) { c.P2PAddr = "" },
		func(c *Config) { c.HTTPAddr = "" },
		func(c *Config) { c.KeyFile = "" },
		func(c *Config) { c.BlobRoot = "" },
	}
	for i, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d: expected Validate() to reject an empty required field", i)
		}
	}
}
