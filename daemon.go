package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/dropsync-go/internal/config"
	"github.com/tonimelisma/dropsync-go/internal/monitor"
	"github.com/tonimelisma/dropsync-go/internal/notify"
	"github.com/tonimelisma/dropsync-go/internal/remote"
)

func newDaemonCmd() *cobra.Command {
	var flagRoot, flagMirror string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the sync daemon",
		Long: `Run the bidirectional sync daemon in the foreground.

Local changes are uploaded as they happen; remote changes are pulled via
long-polling. SIGUSR1 toggles pause/resume; SIGINT/SIGTERM stop the daemon.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runDaemon(flagRoot, flagMirror)
		},
	}

	cmd.Flags().StringVar(&flagRoot, "root", "", "local sync root (overrides config)")
	cmd.Flags().StringVar(&flagMirror, "mirror", "", "mirror directory backend (overrides config)")

	return cmd
}

func runDaemon(rootOverride, mirrorOverride string) error {
	logger := buildLogger()

	cfg, err := config.Load(configPath())
	if err != nil {
		return err
	}

	root := cfg.String("core", "root_dir", "")
	if rootOverride != "" {
		root = rootOverride
	}

	if root == "" {
		home, homeErr := os.UserHomeDir()
		if homeErr != nil {
			return fmt.Errorf("cannot determine sync root: %w", homeErr)
		}

		root = filepath.Join(home, "Dropsync")
	}

	mirror := cfg.String("core", "mirror_dir", "")
	if mirrorOverride != "" {
		mirror = mirrorOverride
	}

	if mirror == "" {
		return fmt.Errorf("no backend configured — set core.mirror_dir or pass --mirror")
	}

	revs, err := remote.OpenRevisionIndex(config.RevisionDBPath(), logger)
	if err != nil {
		return err
	}
	defer revs.Close()

	client, err := remote.NewLocalFS(root, mirror, revs, cfg.Strings("core", "excluded"))
	if err != nil {
		return err
	}

	cleanup, err := acquirePIDFile(config.PIDFilePath())
	if err != nil {
		return err
	}
	defer cleanup()

	m := monitor.New(client, cfg, notify.NewLog(logger), logger)

	ctx := shutdownContext(context.Background(), logger)
	pauseResumeOnSignal(ctx, m, logger)

	logger.Info("daemon starting", "root", root, "mirror", mirror)

	return m.Run(ctx)
}
