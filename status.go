package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/dropsync-go/internal/config"
)

func newStatusCmd() *cobra.Command {
	var flagJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and sync status",
		Long: `Display whether the daemon is running and when the last successful
sync completed. Reads the PID file and config only.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runStatus(flagJSON)
		},
	}

	cmd.Flags().BoolVar(&flagJSON, "json", false, "output in JSON format")

	return cmd
}

// statusOutput is the JSON output schema for the status command.
type statusOutput struct {
	Running  bool   `json:"running"`
	PID      int    `json:"pid,omitempty"`
	RootDir  string `json:"root_dir,omitempty"`
	LastSync string `json:"last_sync,omitempty"`
}

func runStatus(asJSON bool) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return err
	}

	out := statusOutput{
		RootDir: cfg.String("core", "root_dir", ""),
	}

	if pid := daemonPID(config.PIDFilePath()); pid != 0 {
		out.Running = true
		out.PID = pid
	}

	if seconds := cfg.Float("internal", "lastsync", 0); seconds > 0 {
		out.LastSync = time.Unix(0, int64(seconds*1e9)).Format(time.RFC3339)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	}

	if out.Running {
		fmt.Printf("Daemon:    running (PID %d)\n", out.PID)
	} else {
		fmt.Println("Daemon:    not running")
	}

	if out.RootDir != "" {
		fmt.Printf("Sync root: %s\n", out.RootDir)
	}

	if out.LastSync != "" {
		fmt.Printf("Last sync: %s\n", out.LastSync)
	} else {
		fmt.Println("Last sync: never")
	}

	return nil
}
