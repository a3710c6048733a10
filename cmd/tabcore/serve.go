package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tabcore/internal/infrastructure/server"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var port, host string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and event stream server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}

			logger, err := root.logger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			srv, err := server.New(cfg, logger, server.Options{Version: version})
			if err != nil {
				logger.Error("failed to create server", zap.Error(err))
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := srv.Run(ctx); err != nil {
				logger.Error("server stopped with error", zap.Error(err))
				return err
			}
			logger.Info("server stopped")
			return nil
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port")
	cmd.Flags().StringVar(&host, "host", "", "listen host")
	return cmd
}
