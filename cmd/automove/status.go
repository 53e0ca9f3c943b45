package main

import (
	"context"
	"fmt"
	"time"

	"automove/internal/config"
	"automove/internal/domain"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	var recent int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration, store health and recent moves",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig()
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
				cfg.Storage.SQLitePath = config.ExpandPath(cfg.Storage.SQLitePath)
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			logger.Info("discord", "enabled", cfg.Discord.Enabled, "guild_id", cfg.Discord.GuildID)
			logger.Info("http",
				"addr", fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
				"webhook", cfg.Webhook.Enabled,
				"metrics", cfg.Metrics.Enabled,
			)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			kv, cats, err := openStore(ctx, cfg)
			if err != nil {
				logger.Info("store", "driver", cfg.Storage.Driver, "healthy", false, "err", err)
				return nil
			}
			defer kv.Close()
			logger.Info("store", "driver", cfg.Storage.Driver, "scope", cfg.Storage.Scope, "healthy", true)

			cc, err := cats.Load(ctx)
			if err != nil {
				return err
			}
			logger.Info("categories",
				"waiting_user", orUnset(cc.WaitingUser),
				"waiting_staff", orUnset(cc.WaitingStaff),
				"closing", orUnset(cc.Closing),
				"recruitment", orUnset(cc.Recruitment),
			)

			audit, ok := kv.(domain.RelocationLog)
			if !ok || recent <= 0 {
				return nil
			}
			recs, err := audit.RecentRelocations(ctx, recent)
			if err != nil {
				return err
			}
			for _, r := range recs {
				fmt.Printf("%s  %-7s %s  %s -> %s  (%s) %s\n",
					r.CreatedAt.Local().Format(time.DateTime), r.Result, r.ChannelID, orUnset(r.From), r.To, r.Reason, r.Error)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&recent, "recent", "n", 10, "number of recent moves to show (sqlite store only)")
	return cmd
}

func orUnset(id string) string {
	if id == "" {
		return "-"
	}
	return id
}
