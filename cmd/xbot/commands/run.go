package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sakaguchi/xbot/config"
	"github.com/sakaguchi/xbot/logger"
	"github.com/sakaguchi/xbot/pipeline"
)

// RunCmd starts the bot daemon.
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bot daemon",
	Long: `Start the bot daemon in foreground mode.

The daemon will:
- Enqueue a scrape window per monitored handle on each interval
- Run the scheduler loop (due jobs, retries, chained stages)
- Reload configuration when the config file changes
- Run until interrupted (Ctrl+C) with graceful shutdown`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		feeder := pipeline.NewFeeder(a.scheduler, a.cfg.Scrape.Handles, a.cfg.ScrapeInterval(), logger.Named("feeder"))

		// Watch the project config when one exists so handle changes are
		// picked up without a restart.
		if configPath := findWatchableConfig(); configPath != "" {
			watcher, err := config.StartGlobalWatcher(configPath)
			if err != nil {
				logger.Warnw("Config watcher unavailable", "path", configPath, "error", err)
			} else {
				watcher.OnReload(func(newCfg *config.Config) error {
					feeder.SetHandles(newCfg.Scrape.Handles)
					return nil
				})
				defer watcher.Stop()
			}
		}

		a.scheduler.Start()
		feeder.Start()

		fmt.Println("xbot daemon started")
		fmt.Printf("  Database: %s\n", a.cfg.Database.Path)
		fmt.Printf("  Handles: %v\n", a.cfg.Scrape.Handles)
		fmt.Printf("  Scrape interval: %v\n", a.cfg.ScrapeInterval())
		fmt.Printf("  Poll interval: %v\n", a.cfg.ToSched().PollInterval)
		fmt.Printf("  Chain publish: %v\n", a.cfg.Scheduler.ChainPublish)
		fmt.Printf("  Dry run: %v\n", a.cfg.Publish.DryRun)
		fmt.Println("\nPress Ctrl+C for graceful shutdown")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		fmt.Println("\nShutting down...")

		// Stop components in reverse order of startup
		feeder.Stop()
		a.scheduler.Stop()

		fmt.Println("xbot daemon stopped")
		return nil
	},
}

// findWatchableConfig returns the project config path if one exists.
func findWatchableConfig() string {
	if _, err := os.Stat("xbot.toml"); err == nil {
		return "xbot.toml"
	}
	return ""
}
