package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/apportion/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "apportion",
	Short: "Census block population and housing apportionment",
	Long: `apportion totals 2020 census population and housing units for polygons that
do not follow census geography: service areas, districts, response zones.

  summarize   intersect areas with blocks and optionally write totals back
  blocks      load TIGER/Line block shapefiles into PostGIS
  runs        inspect the local run history
  serve       summarize single areas over HTTP

Settings come from config.yaml, .env and APPORTION_* variables, in
increasing order of precedence. --log-level and --log-format override them.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zap.L().Sync()
	},
}

// setup loads and checks the configuration, applies logging flag overrides
// and installs the global logger before any subcommand runs.
func setup(cmd *cobra.Command, _ []string) error {
	c, err := config.Load()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		c.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		c.Log.Format, _ = flags.GetString("log-format")
	}

	if err := c.Validate(); err != nil {
		return err
	}
	if err := config.InitLogger(c.Log); err != nil {
		return eris.Wrap(err, "init logger")
	}
	cfg = c

	zap.L().Debug("configuration loaded",
		zap.String("command", cmd.CommandPath()),
		zap.String("store", cfg.Store.Path),
		zap.Int("postgis_srid", cfg.PostGIS.SRID),
		zap.Int("tigerweb_wkid", cfg.TIGERweb.WKID),
		zap.Bool("block_cache", cfg.Cache.RedisAddr != ""),
	)
	return nil
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("log-level", "", "log level: debug, info, warn or error (default: log.level)")
	pf.String("log-format", "", "log format: auto, console or json (default: log.format)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
