package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"automove/internal/config"
	"automove/internal/domain"

	"github.com/spf13/cobra"
)

const snapshotVersion = 1

// snapshot is a portable copy of one store scope. It can be restored into
// any backend, which makes it the way to move between drivers.
type snapshot struct {
	Version   int                `json:"version"`
	Scope     string             `json:"scope"`
	Driver    string             `json:"driver"`
	CreatedAt time.Time          `json:"created_at"`
	Values    map[string]*string `json:"values"` // null = key present but unset
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export the stored category settings to a JSON file",
		Long: `Writes every key of the configured store scope to a JSON snapshot.
The snapshot is driver independent and can be restored into sqlite, redis or mongo.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrDefaults()
			ctx := context.Background()

			kv, _, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer kv.Close()

			snap, err := exportSnapshot(ctx, kv, cfg.Storage)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			if outputPath == "" {
				backupDir := filepath.Join(config.ExpandPath(cfg.General.DataDir), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("automove-%s-%s.json", snap.Scope, ts))
			}

			data, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(outputPath, data, 0o600); err != nil {
				return fmt.Errorf("write backup: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			fmt.Printf("Keys included: %d (scope %s, driver %s)\n", len(snap.Values), snap.Scope, snap.Driver)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: <dataDir>/backups/automove-<scope>-<timestamp>.json)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore [file.json]",
		Short: "Restore category settings from a backup snapshot",
		Long: `Writes the keys of a snapshot created by 'automove backup' into the
configured store. Keys that already hold a value are kept unless --force is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var snap snapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				return fmt.Errorf("not a valid snapshot: %w", err)
			}
			if snap.Version != snapshotVersion {
				return fmt.Errorf("unsupported snapshot version %d", snap.Version)
			}

			cfg := loadConfigOrDefaults()
			ctx := context.Background()
			kv, _, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer kv.Close()

			written, skipped, err := importSnapshot(ctx, kv, &snap, force)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			fmt.Printf("Restore completed from: %s\n", args[0])
			fmt.Printf("Keys written: %d, kept: %d\n", written, skipped)
			if skipped > 0 && !force {
				fmt.Printf("Use --force to overwrite keys that already hold a value.\n")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite keys that already hold a value")
	return cmd
}

func exportSnapshot(ctx context.Context, kv domain.ConfigStore, sc config.StorageConfig) (*snapshot, error) {
	keys, err := kv.Keys(ctx)
	if err != nil {
		return nil, err
	}
	snap := &snapshot{
		Version:   snapshotVersion,
		Scope:     sc.Scope,
		Driver:    sc.Driver,
		CreatedAt: time.Now().UTC(),
		Values:    make(map[string]*string, len(keys)),
	}
	for _, k := range keys {
		v, ok, err := kv.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			snap.Values[k] = &v
		} else {
			snap.Values[k] = nil
		}
	}
	return snap, nil
}

func importSnapshot(ctx context.Context, kv domain.ConfigStore, snap *snapshot, force bool) (written, skipped int, err error) {
	keys := make([]string, 0, len(snap.Values))
	for k := range snap.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if err := kv.EnsureDefaults(ctx, keys); err != nil {
		return 0, 0, err
	}
	for _, k := range keys {
		v := snap.Values[k]
		if v == nil {
			continue
		}
		if !force {
			if _, ok, err := kv.Get(ctx, k); err != nil {
				return written, skipped, err
			} else if ok {
				skipped++
				continue
			}
		}
		if err := kv.Set(ctx, k, *v); err != nil {
			return written, skipped, err
		}
		written++
	}
	return written, skipped, nil
}
