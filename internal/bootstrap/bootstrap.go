package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/schematichub/overview-gateway/internal/config"
)

// InitOptions configures the generated config files.
type InitOptions struct {
	Root        string
	Environment string
	HTTPAddress string
	Provider    string
	Generator   string
	StoreDriver string
	StorePath   string
	StoreDSN    string
	Force       bool
}

// Init scaffolds config/setting.ini and config/<env>/gateway.ini.
func Init(opts InitOptions) error {
	applyDefaults(&opts)
	if err := Validate(opts); err != nil {
		return err
	}
	if err := ensureDir(filepath.Join(opts.Root, "config", opts.Environment)); err != nil {
		return err
	}

	settingPath := filepath.Join(opts.Root, "config", "setting.ini")
	if err := writeFile(settingPath, settingTemplate(opts), opts.Force); err != nil {
		return err
	}

	gatewayPath := filepath.Join(opts.Root, "config", opts.Environment, "gateway.ini")
	return writeFile(gatewayPath, gatewayTemplate(opts), opts.Force)
}

func applyDefaults(opts *InitOptions) {
	if strings.TrimSpace(opts.Root) == "" {
		opts.Root = "."
	}
	if strings.TrimSpace(opts.Environment) == "" {
		opts.Environment = "dev"
	}
	if strings.TrimSpace(opts.HTTPAddress) == "" {
		opts.HTTPAddress = ":8080"
	}
	if strings.TrimSpace(opts.Provider) == "" {
		opts.Provider = config.ProviderXAI
	}
	if strings.TrimSpace(opts.Generator) == "" {
		opts.Generator = config.GeneratorPlaceholder
	}
	if strings.TrimSpace(opts.StoreDriver) == "" {
		opts.StoreDriver = config.StoreSQLite
	}
	if opts.StoreDriver == config.StoreSQLite && strings.TrimSpace(opts.StorePath) == "" {
		opts.StorePath = config.DefaultStorePath()
	}
}

func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

func writeFile(path, contents string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("file already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(contents), 0o644)
}

func settingTemplate(opts InitOptions) string {
	return fmt.Sprintf(`# Overview gateway settings
environment=%s
log_level=info
`, opts.Environment)
}

func gatewayTemplate(opts InitOptions) string {
	store := fmt.Sprintf("store_driver=%s\nstore_path=%s\n", opts.StoreDriver, opts.StorePath)
	if opts.StoreDriver == config.StorePostgres {
		store = fmt.Sprintf("store_driver=%s\nstore_dsn=%s\n", opts.StoreDriver, opts.StoreDSN)
	}
	return fmt.Sprintf(`# Environment specific overrides for %s
[server]
http_address=%s
# Dash '-' disables file output.
log_file=logs/gatewayd.log

[provider]
provider=%s
# xai_api_key is read from XAI_API_KEY when unset here.
chat_model=grok-3-fast
summary_model=grok-4-1-fast-reasoning
request_timeout=1h

[relay]
stream_keepalive=15s
stream_buffer=16

[batch]
overview_generator=%s
%shistory_cache_ttl=10m
`, opts.Environment, opts.HTTPAddress, opts.Provider, opts.Generator, store)
}

// Validate checks the options without touching the filesystem.
func Validate(opts InitOptions) error {
	applyDefaults(&opts)
	switch opts.Provider {
	case config.ProviderXAI, config.ProviderLoopback:
	default:
		return fmt.Errorf("unknown provider %q", opts.Provider)
	}
	switch opts.Generator {
	case config.GeneratorProvider, config.GeneratorPlaceholder:
	default:
		return fmt.Errorf("unknown overview generator %q", opts.Generator)
	}
	switch opts.StoreDriver {
	case config.StoreSQLite:
	case config.StorePostgres:
		if strings.TrimSpace(opts.StoreDSN) == "" {
			return errors.New("store dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown store driver %q", opts.StoreDriver)
	}
	return nil
}
