package main

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/rivalwatch/connectivity"
	"github.com/hazyhaar/rivalwatch/dbopen"
)

var routeConfig string

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Manage service routes (e.g. where compare_snapshots is served).",
}

var routesSetCmd = &cobra.Command{
	Use:   "set <service> <strategy> [endpoint]",
	Short: "Route a service to local, http or noop.",
	Long: `Route a service. A running server picks the change up within
route_watch_interval. Example:

  rivalwatch routes set compare_snapshots http http://llm-gw:8080/compare`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openRoutesDB()
		if err != nil {
			return err
		}
		defer db.Close()

		endpoint := ""
		if len(args) == 3 {
			endpoint = args[2]
		}
		var cfg json.RawMessage
		if routeConfig != "" {
			if !json.Valid([]byte(routeConfig)) {
				return fmt.Errorf("--route-config is not valid JSON")
			}
			cfg = json.RawMessage(routeConfig)
		}
		if err := connectivity.SetRoute(cmd.Context(), db, args[0], args[1], endpoint, cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s %s\n", args[0], args[1], endpoint)
		return nil
	},
}

var routesRmCmd = &cobra.Command{
	Use:   "rm <service>",
	Short: "Remove a route; the service falls back to its local handler.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openRoutesDB()
		if err != nil {
			return err
		}
		defer db.Close()
		return connectivity.DeleteRoute(cmd.Context(), db, args[0])
	},
}

func openRoutesDB() (*sql.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll())
	if err != nil {
		return nil, err
	}
	if err := connectivity.Init(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func init() {
	routesSetCmd.Flags().StringVar(&routeConfig, "route-config", "", `JSON route config, e.g. {"timeout_ms":5000}`)
	routesCmd.AddCommand(routesSetCmd, routesRmCmd)
	rootCmd.AddCommand(routesCmd)
}
