package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pohlai88/lynx/internal/config"
	"github.com/pohlai88/lynx/internal/daemon"
	"github.com/pohlai88/lynx/internal/logger"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the lynx daemon",
	Long: `Start the lynx daemon in the foreground. The daemon registers the
tool catalog, opens the draft and execution stores, and runs the settlement
worker until interrupted.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	pidFile := getPIDFilePath()
	if pid, running := readPID(pidFile); running {
		return fmt.Errorf("daemon is already running (pid %d)", pid)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}

	if err := writePID(pidFile); err != nil {
		log.Warn().Err(err).Str("path", pidFile).Msg("Failed to write pid file")
	}
	defer os.Remove(pidFile)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info().Str("signal", s.String()).Msg("Shutdown signal received")

	return d.Stop()
}

func getPIDFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/lynx.pid"
	}
	return filepath.Join(home, ".lynx", "lynx.pid")
}

func writePID(pidFile string) error {
	if err := os.MkdirAll(filepath.Dir(pidFile), 0755); err != nil {
		return err
	}
	return os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644)
}

// readPID reports the recorded pid and whether that process is alive.
func readPID(pidFile string) (int, bool) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return pid, false
	}
	// FindProcess always succeeds on unix; signal 0 probes existence.
	return pid, process.Signal(syscall.Signal(0)) == nil
}
