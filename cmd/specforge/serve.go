package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/specforge/specforge/pkg/gateway"
	"github.com/specforge/specforge/pkg/logger"
	"github.com/specforge/specforge/pkg/pipeline"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the stage pipeline over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			comps, err := buildComponents()
			if err != nil {
				return err
			}
			defer comps.Close()

			events := pipeline.NewBroadcaster()
			server := gateway.NewServer(comps.cfg, comps.client, comps.tools, comps.store, events)
			if err := server.Start(); err != nil {
				return err
			}
			fmt.Printf("specforge gateway listening on %s:%d\n", comps.cfg.Gateway.Host, comps.cfg.Gateway.Port)

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop

			logger.InfoC("main", "shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Stop(ctx)
		},
	}
}
