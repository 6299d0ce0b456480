package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pohlai88/lynx/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  `Show whether the lynx daemon is running and summarize its configuration.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	pidFile := getPIDFilePath()
	pid, running := readPID(pidFile)
	if !running {
		fmt.Fprintln(out, "Status: stopped")
	} else {
		fmt.Fprintln(out, "Status: running")
		fmt.Fprintf(out, "PID: %d\n", pid)
		if info, err := os.Stat(pidFile); err == nil {
			fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
		}
	}

	fmt.Fprintf(out, "Mode: %s\n", cfg.Mode)
	fmt.Fprintf(out, "Approval gate: %s\n", onOff(cfg.ProductionMode()))
	fmt.Fprintf(out, "Database: %s\n", cfg.Storage.DatabasePath)
	fmt.Fprintf(out, "Audit: %s\n", cfg.Storage.AuditPath)
	fmt.Fprintf(out, "Kernel: %s\n", orNone(cfg.Kernel.URL))
	if cfg.Agent.Enabled() {
		fmt.Fprintf(out, "Agent: %s (%s)\n", cfg.Agent.Provider, cfg.Agent.Model)
	} else {
		fmt.Fprintln(out, "Agent: none")
	}
	fmt.Fprintf(out, "Settlement worker: %s\n", onOff(cfg.Settlement.Enabled))
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
