package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/calebwray/tempo/internal/logging"
)

var (
	verbosity            int
	dbPath               string
	apiPort              int
	syncInterval         time.Duration
	tokenRefreshInterval time.Duration
	noSync               bool
	forceReauth          bool
)

var rootCmd = &cobra.Command{
	Use:   "tempo",
	Short: "Tempo - personal fitness analytics over your Strava activities",
	Long: `Tempo syncs your Strava activities to a local SQLite database and
serves normalized analytics over HTTP: weekly, monthly and yearly
summaries, calendar rollups, distance buckets and headline KPIs.

The server runs with:
- Automatic authentication via OAuth (prompts on first run)
- Background token refresh to keep authentication valid
- Periodic activity sync from Strava
- A JSON API for dashboard frontends

On first run, you will be prompted for your Strava API credentials.
Get these from https://www.strava.com/settings/api

Use --force-reauth to re-enter credentials and re-authenticate.
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Set up logging based on verbosity before any command runs
		logging.Setup(logging.Level(verbosity))
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		rtCfg := &RuntimeConfig{
			DBPath:               dbPath,
			APIPort:              apiPort,
			SyncInterval:         syncInterval,
			TokenRefreshInterval: tokenRefreshInterval,
			NoSync:               noSync,
			ForceReauth:          forceReauth,
		}

		return Run(rtCfg)
	},
}

func init() {
	// Logging verbosity
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase verbosity (-v for debug, -vv for trace with HTTP detail)")

	// Runtime settings as CLI flags
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "tempo_activities.db", "path to SQLite database file")
	rootCmd.PersistentFlags().IntVarP(&apiPort, "port", "p", 8080, "dashboard API port")
	rootCmd.PersistentFlags().DurationVar(&syncInterval, "sync-interval", 15*time.Minute, "interval between activity syncs")
	rootCmd.PersistentFlags().DurationVar(&tokenRefreshInterval, "token-refresh-interval", 30*time.Minute, "interval between token refresh checks")

	// Offline mode
	rootCmd.PersistentFlags().BoolVar(&noSync, "no-sync", false, "serve stored activities only, without Strava API sync (offline mode)")

	// Force re-authentication
	rootCmd.PersistentFlags().BoolVar(&forceReauth, "force-reauth", false, "force OAuth re-authentication, clearing existing tokens")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
