package bootstrap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/schematichub/overview-gateway/internal/config"
)

func TestInitCreatesConfigFiles(t *testing.T) {
	tmp := t.TempDir()
	opts := InitOptions{
		Root:      tmp,
		Provider:  config.ProviderLoopback,
		StorePath: filepath.Join(tmp, "data", "summaries.db"),
	}
	if err := Init(opts); err != nil {
		t.Fatalf("Init: %v", err)
	}

	settingBytes, err := os.ReadFile(filepath.Join(tmp, "config", "setting.ini"))
	if err != nil {
		t.Fatalf("read setting: %v", err)
	}
	if !strings.Contains(string(settingBytes), "environment=dev") {
		t.Fatalf("missing environment: %s", settingBytes)
	}

	gatewayBytes, err := os.ReadFile(filepath.Join(tmp, "config", "dev", "gateway.ini"))
	if err != nil {
		t.Fatalf("read gateway: %v", err)
	}
	content := string(gatewayBytes)
	for _, want := range []string{"provider=loopback", "overview_generator=placeholder", "store_driver=sqlite", "http_address=:8080"} {
		if !strings.Contains(content, want) {
			t.Fatalf("missing %q in %s", want, content)
		}
	}
}

func TestInitOutputLoads(t *testing.T) {
	tmp := t.TempDir()
	for _, key := range []string{"OVERVIEW_ENV", "OVERVIEW_PROVIDER", "OVERVIEW_STORE_DRIVER", "OVERVIEW_STORE_PATH"} {
		t.Setenv(key, "")
	}
	if err := Init(InitOptions{Root: tmp, Provider: config.ProviderLoopback, StorePath: filepath.Join(tmp, "s.db")}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	cfg, err := config.LoadGatewayConfig(tmp)
	if err != nil {
		t.Fatalf("LoadGatewayConfig: %v", err)
	}
	if cfg.Provider != config.ProviderLoopback || cfg.Store.Path != filepath.Join(tmp, "s.db") {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.LogFile != "logs/gatewayd.log" {
		t.Fatalf("log file = %q", cfg.LogFile)
	}
}

func TestInitRespectsForce(t *testing.T) {
	tmp := t.TempDir()
	opts := InitOptions{Root: tmp}
	if err := Init(opts); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := Init(opts); err == nil {
		t.Fatalf("expected error when files exist")
	}
	opts.Force = true
	if err := Init(opts); err != nil {
		t.Fatalf("Init with force: %v", err)
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(InitOptions{Provider: "openai"}); err == nil {
		t.Fatalf("expected provider error")
	}
	if err := Validate(InitOptions{StoreDriver: config.StorePostgres}); err == nil {
		t.Fatalf("expected dsn error")
	}
	if err := Validate(InitOptions{StoreDriver: config.StorePostgres, StoreDSN: "postgres://localhost/overview"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
