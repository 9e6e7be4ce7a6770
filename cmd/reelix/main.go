// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command reelix runs the conversational movie and TV discovery backend.
//
// Usage:
//
//	reelix serve --config config.yaml
//	reelix serve --config config.yaml --watch
//	reelix validate config.yaml
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	reelix "github.com/reelix-ai/reelix"
	"github.com/reelix-ai/reelix/pkg/config"
	"github.com/reelix-ai/reelix/pkg/config/provider"
	"github.com/reelix-ai/reelix/pkg/runtime"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the discovery server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate JSON Schema for the configuration."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error). Falls back to LOG_LEVEL."`
	LogFile   string `help:"Log file path (empty = stderr). Falls back to LOG_FILE."`
	LogFormat string `help:"Log format (simple or verbose). Falls back to LOG_FORMAT."`
}

// VersionCmd shows version information.
type VersionCmd struct {
	JSON bool `help:"Print version as JSON."`
}

func (c *VersionCmd) Run() error {
	info := reelix.GetVersion()
	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Println(info.String())
	return nil
}

// ServeCmd starts the discovery server.
type ServeCmd struct {
	Port  int  `help:"Port to listen on; overrides the config value."`
	Watch bool `help:"Watch the config file and apply ranking weight changes live."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("--config is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	p, err := provider.NewFileProvider(cli.Config)
	if err != nil {
		return fmt.Errorf("failed to open config: %w", err)
	}

	// The watch callback fires only after the runtime exists: Watch is
	// started below, after construction.
	var rt *runtime.Runtime
	loader := config.NewLoader(p, config.WithOnChange(func(reloaded *config.Config) {
		if rt != nil {
			rt.ApplyConfig(reloaded)
		}
	}))
	defer loader.Close()

	cfg, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	slog.Info("Loaded configuration", "path", cli.Config)

	if c.Port != 0 {
		cfg.Global.Server.Port = c.Port
	}

	rt, err = runtime.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create runtime: %w", err)
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			slog.Warn("Shutdown cleanup", "error", cerr)
		}
	}()

	if c.Watch {
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Config watch error", "error", err)
			}
		}()
	}

	printStartupInfo(cfg)

	return rt.Server().Start(ctx)
}

func printStartupInfo(cfg *config.Config) {
	addr := cfg.Global.Server.Address()
	greenColor := "\033[38;2;16;185;129m"
	resetColor := "\033[0m"

	fmt.Printf("\n%sReelix discovery server ready%s\n", greenColor, resetColor)
	fmt.Printf("   Explore:  http://%s/discovery/explore\n", addr)
	fmt.Printf("   Rerun:    http://%s/discovery/explore/rerun\n", addr)
	fmt.Printf("   Why:      http://%s/discovery/explore/why\n", addr)
	fmt.Printf("   Health:   http://%s/health\n", addr)
	if cfg.Global.Observability.Metrics.Enabled {
		fmt.Printf("   Metrics:  http://%s%s\n", addr, cfg.Global.Observability.Metrics.Endpoint)
	}
	if cfg.Global.Observability.Tracing.Enabled {
		fmt.Printf("   Tracing:  otlp://%s\n", cfg.Global.Observability.Tracing.Endpoint)
	}
	if cfg.QueryLog.Enabled {
		fmt.Printf("   QueryLog: postgres\n")
	}
	if cfg.Global.Auth.Enabled {
		fmt.Printf("   Auth:     enabled\n")
	}
	if cfg.Global.RateLimit.Enabled {
		fmt.Printf("   Limits:   %d quota window(s)\n", len(cfg.Global.RateLimit.Quotas))
	}
	fmt.Println("\nPress Ctrl+C to stop")
}

// printBanner prints a colored ASCII banner using reelix-green (#10b981).
func printBanner() {
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			return
		}
	} else {
		return
	}

	greenColor := "\033[38;2;16;185;129m"
	resetColor := "\033[0m"

	banner := `
██████╗ ███████╗███████╗██╗     ██╗██╗  ██╗
██╔══██╗██╔════╝██╔════╝██║     ██║╚██╗██╔╝
██████╔╝█████╗  █████╗  ██║     ██║ ╚███╔╝
██╔══██╗██╔══╝  ██╔══╝  ██║     ██║ ██╔██╗
██║  ██║███████╗███████╗███████╗██║██╔╝ ██╗
╚═╝  ╚═╝╚══════╝╚══════╝╚══════╝╚═╝╚═╝  ╚═╝
`
	fmt.Printf("%s%s%s\n", greenColor, banner, resetColor)
}

// shouldSkipBanner reports whether the banner is suppressed; informational
// commands keep their output machine-friendly.
func shouldSkipBanner(args []string) bool {
	for _, arg := range args[1:] {
		if arg == "validate" || arg == "version" || arg == "schema" {
			return true
		}
	}
	return false
}

func main() {
	if !shouldSkipBanner(os.Args) {
		printBanner()
	}

	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("reelix"),
		kong.Description("Reelix - conversational movie and TV discovery backend"),
		kong.UsageOnError(),
	)

	cleanup, err := initLoggerFromCLI(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
