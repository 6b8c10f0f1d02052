package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDefault_Valid(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("Validate(Default()) error: %v", err)
	}
}

func TestLoadFile_Parse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "klinghsm.conf")
	content := `# comment
store.backend = memory
store.maxslots = 128
store.kdf.memory = 1024
wallet.curve = "ed25519"
rpc.allowed = 127.0.0.1, 10.0.0.0/8
rpc.metrics = off
log.json = yes
unknown.key = ignored
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	values, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	cfg := Default()
	if err := ApplyFileConfig(cfg, values); err != nil {
		t.Fatalf("ApplyFileConfig: %v", err)
	}

	if cfg.Store.Backend != BackendMemory || cfg.Store.MaxSlots != 128 || cfg.Store.KDFMemory != 1024 {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Wallet.Curve != "ed25519" {
		t.Errorf("wallet.curve = %q, want ed25519", cfg.Wallet.Curve)
	}
	if !reflect.DeepEqual(cfg.RPC.AllowedIPs, []string{"127.0.0.1", "10.0.0.0/8"}) {
		t.Errorf("rpc.allowed = %v", cfg.RPC.AllowedIPs)
	}
	if cfg.RPC.Metrics {
		t.Error("rpc.metrics = true, want false")
	}
	if !cfg.Log.JSON {
		t.Error("log.json = false, want true")
	}
}

func TestLoadFile_Missing(t *testing.T) {
	values, err := LoadFile(filepath.Join(t.TempDir(), "nope.conf"))
	if err != nil {
		t.Fatalf("LoadFile(missing) error: %v", err)
	}
	if len(values) != 0 {
		t.Fatalf("LoadFile(missing) = %v, want empty", values)
	}
}

func TestLoadFile_BadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.conf")
	os.WriteFile(path, []byte("no equals sign\n"), 0600)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for malformed line")
	}
}

func TestApplyFileConfig_BadNumber(t *testing.T) {
	cfg := Default()
	if err := ApplyFileConfig(cfg, map[string]string{"store.maxslots": "lots"}); err == nil {
		t.Fatal("expected error for non-numeric maxslots")
	}
	if err := ApplyFileConfig(cfg, map[string]string{"store.kdf.parallelism": "300"}); err == nil {
		t.Fatal("expected error for parallelism overflow")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"backend", func(c *Config) { c.Store.Backend = "sqlite" }},
		{"maxslots low", func(c *Config) { c.Store.MaxSlots = 16 }},
		{"maxforeign", func(c *Config) { c.Store.MaxForeign = 0 }},
		{"kdf", func(c *Config) { c.Store.KDFIterations = 0 }},
		{"entropy", func(c *Config) { c.Wallet.EntropyBits = 200 }},
		{"curve", func(c *Config) { c.Wallet.Curve = "x25519" }},
		{"iterationexp", func(c *Config) { c.Wallet.IterationExponent = 16 }},
		{"rpc port", func(c *Config) { c.RPC.Port = 70000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if err := Validate(cfg); err == nil {
				t.Fatal("Validate() = nil, want error")
			}
		})
	}
}

func TestParseArgs_ApplyFlags(t *testing.T) {
	f, err := ParseArgs([]string{"--store=memory", "--rpc=false", "--rpc-port=9000", "--metrics=false", "--rpc-cors=*"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	cfg := Default()
	ApplyFlags(cfg, f)
	if cfg.Store.Backend != BackendMemory {
		t.Errorf("backend = %q", cfg.Store.Backend)
	}
	if cfg.RPC.Enabled || cfg.RPC.Metrics {
		t.Errorf("rpc = %+v, want disabled without metrics", cfg.RPC)
	}
	if cfg.RPC.Port != 9000 || cfg.RPCListenAddr() != "127.0.0.1:9000" {
		t.Errorf("listen addr = %s", cfg.RPCListenAddr())
	}
	if !reflect.DeepEqual(cfg.RPC.CORSOrigins, []string{"*"}) {
		t.Errorf("cors = %v", cfg.RPC.CORSOrigins)
	}

	// Unset bool flags keep the configured value.
	f, _ = ParseArgs(nil)
	cfg = Default()
	ApplyFlags(cfg, f)
	if !cfg.RPC.Enabled || !cfg.RPC.Metrics {
		t.Error("unset flags overrode defaults")
	}
}

func TestParseArgs_StrayFlag(t *testing.T) {
	if _, err := ParseArgs([]string{"positional", "--rpc-port=1"}); err == nil {
		t.Fatal("expected error for flag after positional argument")
	}
}

func TestLoadWith_CreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "hsm")
	cfg, err := LoadWith(&Flags{DataDir: dir, RPCPort: 9100})
	if err != nil {
		t.Fatalf("LoadWith: %v", err)
	}
	for _, p := range []string{cfg.StoreDir(), cfg.LogsDir(), cfg.ConfigFile()} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s not created: %v", p, err)
		}
	}
	if cfg.RPC.Port != 9100 {
		t.Errorf("rpc.port = %d, want 9100", cfg.RPC.Port)
	}

	// The written default config round-trips.
	values, err := LoadFile(cfg.ConfigFile())
	if err != nil {
		t.Fatalf("LoadFile(default): %v", err)
	}
	fresh := Default()
	if err := ApplyFileConfig(fresh, values); err != nil {
		t.Fatalf("ApplyFileConfig(default): %v", err)
	}
	if err := Validate(fresh); err != nil {
		t.Fatalf("default config file invalid: %v", err)
	}
}
