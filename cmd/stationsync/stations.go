package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/philsphicas/stationsync/internal/config"
	"github.com/philsphicas/stationsync/internal/stations"
)

func stationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stations",
		Short: "Inspect and manage the local station registry",
	}
	cmd.AddCommand(stationsListCmd())
	cmd.AddCommand(stationsSyncCmd())
	cmd.AddCommand(stationsSetPathCmd())
	return cmd
}

func stationsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered stations and their export paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := stations.Open(cfg.DatabasePath())
			if err != nil {
				return err
			}
			defer store.Close()

			list, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			return writeStations(cmd.OutOrStdout(), list)
		},
	}
}

func stationsSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Fetch the station list from the station API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.API.BaseURL == "" {
				return errors.New("station API URL is required: set api.base_url or " + config.EnvAPIURL)
			}
			tokens, err := resolveTokens(cfg)
			if err != nil {
				return err
			}
			store, err := stations.Open(cfg.DatabasePath())
			if err != nil {
				return err
			}
			defer store.Close()

			syncer := newSyncer(cfg, tokens, store)
			syncer.Logger = logger
			n, err := syncer.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced %d stations\n", n)
			return nil
		},
	}
}

func stationsSetPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-path ID [PATH]",
		Short: "Set the export folder of a station; omit PATH to clear it",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid station id %q", args[0])
			}
			var path string
			if len(args) == 2 {
				if path, err = config.ExpandPath(args[1]); err != nil {
					return err
				}
			}

			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := stations.Open(cfg.DatabasePath())
			if err != nil {
				return err
			}
			defer store.Close()

			return setExportPath(cmd.Context(), store, cmd.OutOrStdout(), id, path)
		},
	}
}

func setExportPath(ctx context.Context, store *stations.Store, w io.Writer, id int64, path string) error {
	if err := store.SetExportPath(ctx, id, path); err != nil {
		if errors.Is(err, stations.ErrNotFound) {
			return fmt.Errorf("station %d is not registered; run 'stationsync stations sync' first", id)
		}
		return err
	}
	if path == "" {
		fmt.Fprintf(w, "cleared export path of station %d\n", id)
	} else {
		fmt.Fprintf(w, "station %d exports to %s\n", id, path)
	}
	return nil
}

func writeStations(w io.Writer, list []stations.Station) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "no stations registered")
		return err
	}
	rows := make([][]string, 0, len(list))
	for _, st := range list {
		path := st.ExportPath
		if path == "" {
			path = "-"
		}
		rows = append(rows, []string{strconv.FormatInt(st.ID, 10), st.Name, path})
	}
	headers := []string{"ID", "Name", "Export Path"}

	if !isTerminal(w) {
		return writeTSV(w, headers, rows)
	}
	_, err := fmt.Fprintln(w, renderTable(headers, rows, []columnAlignment{alignRight, alignLeft, alignLeft}))
	return err
}
