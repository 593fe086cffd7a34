package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/VanDung-dev/TableStore-Engine/flight"
	"github.com/VanDung-dev/TableStore-Engine/network"
	"github.com/VanDung-dev/TableStore-Engine/store"
)

func watchCommand(load loader) *cobra.Command {
	var (
		endpoint string
		kinds    []string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print object events published by the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if endpoint == "" {
				cfg, err := load()
				if err != nil {
					return err
				}
				endpoint = cfg.Store.NotifyEndpoint
			}
			if endpoint == "" {
				return errors.New("no notify endpoint configured")
			}

			filter := make([]store.EventKind, 0, len(kinds))
			for _, k := range kinds {
				filter = append(filter, store.EventKind(k))
			}
			sub := network.NewSubscriber(endpoint, filter...)
			if err := sub.Start(); err != nil {
				return err
			}
			defer sub.Stop()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-sub.Events():
					if !ok {
						return nil
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %-8s %s %s\n",
						ev.Time.Format(time.RFC3339), ev.Kind, ev.ID, humanize.IBytes(uint64(ev.Size)))
				}
			}
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Publisher endpoint (default from config)")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "Event kinds to show: sealed, aborted, deleted, evicted")
	return cmd
}

func fetchCommand(load loader) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "fetch ID",
		Short: "Print an object fetched over Arrow Flight as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if addr == "" {
				cfg, err := load()
				if err != nil {
					return err
				}
				addr = cfg.Flight.Addr
			}
			table, err := flight.Fetch(cmd.Context(), addr, id)
			if err != nil {
				return err
			}
			defer table.Release()
			return writeCSV(cmd.OutOrStdout(), table)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Flight server address (default from config)")
	return cmd
}
