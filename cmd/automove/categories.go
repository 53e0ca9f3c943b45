package main

import (
	"context"
	"fmt"
	"strings"

	"automove/internal/store"

	"github.com/spf13/cobra"
)

func categoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Show and change the ticket categories",
		Long: `Reads and writes the four category ids in the configured store.
The same values are changed from Discord with the /set...category commands.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the configured categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCategories(func(ctx context.Context, cats *store.Categories) error {
				return printCategories(ctx, cats)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [field] [category-id]",
		Short: "Set a category (fields: waiting-user, waiting-staff, closing, recruitment)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			field, err := store.ParseField(args[0])
			if err != nil {
				return err
			}
			id := strings.TrimSpace(args[1])
			if id == "" {
				return fmt.Errorf("category id is empty (use 'automove categories unset %s' to clear it)", field)
			}
			return withCategories(func(ctx context.Context, cats *store.Categories) error {
				if err := cats.Set(ctx, field, id); err != nil {
					return err
				}
				logger.Info("category updated", "field", field, "category_id", id)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "unset [field]",
		Short: "Clear a category; relocation into it stops",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			field, err := store.ParseField(args[0])
			if err != nil {
				return err
			}
			return withCategories(func(ctx context.Context, cats *store.Categories) error {
				if err := cats.Set(ctx, field, ""); err != nil {
					return err
				}
				logger.Info("category cleared", "field", field)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the category keys in the store (safe to repeat)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCategories(func(ctx context.Context, cats *store.Categories) error {
				return printCategories(ctx, cats)
			})
		},
	})

	return cmd
}

// withCategories opens the store, ensures the defaults and runs fn.
func withCategories(fn func(ctx context.Context, cats *store.Categories) error) error {
	cfg := loadConfigOrDefaults()
	ctx := context.Background()

	kv, cats, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer kv.Close()
	return fn(ctx, cats)
}

func printCategories(ctx context.Context, cats *store.Categories) error {
	for _, f := range store.Fields {
		id, ok, err := cats.Get(ctx, f)
		if err != nil {
			return err
		}
		if !ok {
			id = "(unset)"
		}
		fmt.Printf("%-14s %-36s %s\n", f, f.Key(), id)
	}
	return nil
}
