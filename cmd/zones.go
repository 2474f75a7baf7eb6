package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geobatch/internal/db"
	"github.com/sells-group/geobatch/internal/zones"
)

var zonesCmd = &cobra.Command{
	Use:   "zones",
	Short: "Manage postal-zone boundaries",
}

// -- zones load --

var zonesLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load a postal-zone shapefile into PostGIS",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if path, _ := cmd.Flags().GetString("shapefile"); path != "" {
			cfg.Zip.Shapefile.Path = path
		}
		table, _ := cmd.Flags().GetString("table")
		if table == "" {
			table = cfg.Zip.PostGIS.Table
		}
		truncate, _ := cmd.Flags().GetBool("truncate")

		if err := cfg.Validate("zones"); err != nil {
			return err
		}

		zs, err := zones.ReadShapefile(cfg.Zip.Shapefile.Path, cfg.Zip.Shapefile.Fields)
		if err != nil {
			return err
		}

		pool, err := db.Connect(ctx, cfg.Store.DatabaseURL, db.PoolConfig{MaxConns: cfg.Store.MaxConns})
		if err != nil {
			return eris.Wrap(err, "zones load")
		}
		defer pool.Close()

		n, err := zones.LoadPostGIS(ctx, pool, table, zs, truncate)
		if err != nil {
			return err
		}
		zap.L().Info("postal zones loaded",
			zap.String("table", table),
			zap.Int("read", len(zs)),
			zap.Int64("copied", n),
		)
		return nil
	},
}

// -- zones lookup --

var zonesLookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Look up the postal zone at a coordinate in the configured shapefile",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if path, _ := cmd.Flags().GetString("shapefile"); path != "" {
			cfg.Zip.Shapefile.Path = path
		}
		if cfg.Zip.Shapefile.Path == "" {
			return eris.New("zip.shapefile.path is required")
		}
		lat, _ := cmd.Flags().GetFloat64("lat")
		lng, _ := cmd.Flags().GetFloat64("lng")

		idx, err := zones.LoadIndex(cfg.Zip.Shapefile.Path, cfg.Zip.Shapefile.Fields, cfg.Zip.MaxDistanceKm)
		if err != nil {
			return err
		}
		info, err := idx.Lookup(cmd.Context(), lat, lng)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	},
}

func init() {
	zonesLoadCmd.Flags().String("shapefile", "", "path to the .shp file (default from config)")
	zonesLoadCmd.Flags().String("table", "", "destination table (default from config)")
	zonesLoadCmd.Flags().Bool("truncate", false, "empty the table before loading")

	zonesLookupCmd.Flags().String("shapefile", "", "path to the .shp file (default from config)")
	zonesLookupCmd.Flags().Float64("lat", 0, "latitude")
	zonesLookupCmd.Flags().Float64("lng", 0, "longitude")
	_ = zonesLookupCmd.MarkFlagRequired("lat")
	_ = zonesLookupCmd.MarkFlagRequired("lng")

	zonesCmd.AddCommand(zonesLoadCmd, zonesLookupCmd)
	rootCmd.AddCommand(zonesCmd)
}
