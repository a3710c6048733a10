package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/tabcore/internal/infrastructure/config"
	"github.com/GriffinCanCode/tabcore/internal/memory/hibernation"
)

func newStorageCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Inspect and prune hibernation files",
	}
	cmd.AddCommand(newStorageListCmd(root), newStorageGCCmd(root))
	return cmd
}

func openStorage(cfg *config.Config) (*hibernation.Storage, error) {
	return hibernation.New(hibernation.Config{
		Dir:              cfg.Hibernation.Dir,
		CompressionLevel: cfg.Hibernation.Level,
		MaxAge:           cfg.Hibernation.MaxAge.Std(),
		MaxStorageBytes:  cfg.Hibernation.MaxStorageBytes,
	})
}

func newStorageListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List hibernated tabs",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			store, err := openStorage(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ids, err := store.ListHibernated(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(ids) == 0 {
				fmt.Fprintln(out, "no hibernated tabs")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TAB\tFILE BYTES\tRAW BYTES\tHIBERNATED")
			for _, tabID := range ids {
				info, err := store.Info(tabID)
				if err != nil {
					fmt.Fprintf(w, "%s\t-\t-\t%v\n", tabID, err)
					continue
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", tabID, info.FileSize, info.UncompressedSize,
					info.ModTime.Format(time.RFC3339))
			}
			total, err := store.TotalStorageBytes(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "total\t%d\t\t\n", total)
			return w.Flush()
		},
	}
}

func newStorageGCCmd(root *rootOptions) *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Remove hibernation files older than --max-age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("max-age") {
				maxAge = cfg.Hibernation.MaxAge.Std()
			}
			if maxAge <= 0 {
				return fmt.Errorf("max-age must be positive")
			}
			store, err := openStorage(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.CleanupOld(cmd.Context(), maxAge)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d file(s) older than %s\n", removed, maxAge)
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "age threshold (defaults to the configured max age)")
	return cmd
}
