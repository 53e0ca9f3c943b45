package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"automove/internal/config"
	"automove/internal/store"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your automove installation",
		Long: `Verifies that the configuration, the config store, the Discord
settings and the category ids are set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("automove doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'automove init' to create a default configuration.\n")
				return fmt.Errorf("config file missing")
			}
			printPass("Config file", cfgPath)
			passed++

			cfg, err := loadConfig()
			if err != nil {
				printFail("Config validation", err.Error())
				return fmt.Errorf("config invalid")
			}
			printPass("Config validation", "valid")
			passed++

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			kv, cats, err := openStore(ctx, cfg)
			if err != nil {
				printFail("Store", err.Error())
				failed++
			} else {
				defer kv.Close()
				printPass("Store", fmt.Sprintf("%s (scope %s)", cfg.Storage.Driver, cfg.Storage.Scope))
				passed++

				if sv, ok := kv.(schemaVersioner); ok {
					if v, err := sv.SchemaVersion(ctx); err != nil {
						printFail("Schema", err.Error())
						failed++
					} else if v != store.LatestSchemaVersion {
						printWarn("Schema", fmt.Sprintf("version %d, expected %d", v, store.LatestSchemaVersion))
						warned++
					} else {
						printPass("Schema", fmt.Sprintf("version %d", v))
						passed++
					}
				}

				for _, f := range store.Fields {
					if _, ok, err := cats.Get(ctx, f); err != nil {
						printFail("Category "+string(f), err.Error())
						failed++
					} else if !ok {
						printWarn("Category "+string(f), "not set, no moves into it")
						warned++
					} else {
						printPass("Category "+string(f), "set")
						passed++
					}
				}
			}

			if cfg.Discord.Enabled {
				printPass("Discord", "token configured")
				passed++
			} else {
				printWarn("Discord", "disabled, 'automove run' will refuse to start")
				warned++
			}
			for _, w := range config.Warnings(cfg) {
				printWarn("Routing", w)
				warned++
			}

			if cfg.Webhook.Enabled || cfg.Metrics.Enabled {
				if err := checkPort(cfg.HTTP.Host, cfg.HTTP.Port); err != nil {
					printWarn("HTTP port", fmt.Sprintf("port %d may be in use: %v", cfg.HTTP.Port, err))
					warned++
				} else {
					printPass("HTTP port", fmt.Sprintf("%s:%d available", cfg.HTTP.Host, cfg.HTTP.Port))
					passed++
				}
			}
			if cfg.Webhook.Enabled && cfg.Webhook.Secret == "" {
				printWarn("Webhook", "no secret, requests are not authenticated")
				warned++
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running automove.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nautomove should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! automove is ready to run.\n")
			}
			return nil
		},
	}
}

type schemaVersioner interface {
	SchemaVersion(ctx context.Context) (int, error)
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-24s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-24s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-24s %s\n", check, detail)
}
