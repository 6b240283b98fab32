// Package main is the CLI entry point for the yotsuba proxy launcher.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tiredIsa/yotsubacore/internal/backend"
	"github.com/tiredIsa/yotsubacore/internal/infra"
	"github.com/tiredIsa/yotsubacore/internal/store"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "yotsuba",
	Short: "Per-application proxy launcher built on sing-box",
	Long: `yotsuba supervises a local sing-box engine and routes applications
through it per user-defined rules. Rules select apps by executable path
or process name; the engine config is regenerated and the proxy
restarted whenever the desired state changes.`,
	Version: Version,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the launcher daemon in the foreground",
	Long: `Starts the reconciliation engine: loads the saved desired state,
applies it to the proxy, and keeps the process snapshot and log buffer
fresh until interrupted.`,
	RunE: runRun,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current proxy status",
	RunE:  runStatus,
}

var processesCmd = &cobra.Command{
	Use:   "processes",
	Short: "List running processes aggregated by executable path",
	RunE:  runProcesses,
}

var importCmd = &cobra.Command{
	Use:   "import [links...]",
	Short: "Import proxy outbounds from share links or raw JSON",
	Long: `Imports outbounds into the profile. Pass share links (ss://, vmess://,
vless://, trojan://, hysteria://, hysteria2://, tuic://) as arguments,
or use --json to import a raw outbound JSON file ("-" reads stdin).`,
	RunE: runImport,
}

var autostartCmd = &cobra.Command{
	Use:       "autostart [on|off|status]",
	Short:     "Manage start-at-login registration",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off", "status"},
	RunE:      runAutostart,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run:   runVersion,
}

var (
	dataDir      string
	debounce     time.Duration
	pollInterval time.Duration
	jsonFile     string
	jsonOutput   bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default: user config dir)")
	runCmd.Flags().DurationVar(&debounce, "debounce", 0, "Apply debounce interval")
	runCmd.Flags().DurationVar(&pollInterval, "poll-interval", 0, "Process snapshot poll interval")
	importCmd.Flags().StringVar(&jsonFile, "json", "", `Raw outbound JSON file ("-" for stdin)`)
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(processesCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(autostartCmd)
	rootCmd.AddCommand(versionCmd)
}

func resolveDataDir() (string, error) {
	if dataDir != "" {
		return dataDir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config directory: %w", err)
	}
	return filepath.Join(base, "yotsuba"), nil
}

func newBackend(logger *zap.Logger) (*backend.Backend, error) {
	dir, err := resolveDataDir()
	if err != nil {
		return nil, err
	}
	return backend.New(backend.DefaultConfig(dir), infra.NewProcessLister(), logger)
}

func runRun(cmd *cobra.Command, args []string) error {
	dir, err := resolveDataDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	logger := createLogger(dir)
	defer func() { _ = logger.Sync() }()

	b, err := newBackend(logger)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	auto, err := infra.NewAutostart()
	if err != nil {
		logger.Warn("autostart unavailable", zap.Error(err))
		auto = nil
	}

	cfg := store.DefaultEngineConfig()
	if debounce > 0 {
		cfg.Debounce = debounce
	}
	if pollInterval > 0 {
		cfg.PollInterval = pollInterval
	}
	engine := store.New(b, auto, logger, cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	engine.StartProcessPolling()

	fmt.Printf("yotsuba running (data dir: %s)\n", dir)
	<-ctx.Done()

	logger.Info("shutting down")
	engine.StopProcessPolling()
	engine.Stop()
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	b, err := newBackend(nil)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	status, err := b.GetStatus(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Println("\n=== yotsuba Status ===")
	if status.Running {
		fmt.Printf("Status: RUNNING (pid %d)\n", status.PID)
	} else {
		fmt.Println("Status: NOT RUNNING")
	}
	fmt.Printf("Mode: %s\n", status.Mode)
	if status.LastExit != nil {
		fmt.Printf("Last exit code: %d\n", *status.LastExit)
	}
	if status.LastError != "" {
		fmt.Printf("Last error: %s\n", status.LastError)
	}
	fmt.Printf("Profile: %s\n", status.ProfilePath)
	if status.ConfigPath != "" {
		fmt.Printf("Config: %s\n", status.ConfigPath)
	}
	if status.LogPath != "" {
		fmt.Printf("Log: %s\n", status.LogPath)
	}
	fmt.Println("======================")
	return nil
}

func runProcesses(cmd *cobra.Command, args []string) error {
	lister := infra.NewProcessLister()
	procs, err := lister.Snapshot(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list processes: %w", err)
	}

	for _, p := range procs {
		fmt.Printf("%-30s x%-3d %s\n", p.Name, p.Count, p.Path)
	}
	fmt.Printf("\n%d executables\n", len(procs))
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	if jsonFile == "" && len(args) == 0 {
		return fmt.Errorf("pass share links or --json")
	}

	b, err := newBackend(nil)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	if jsonFile != "" {
		payload, err := readPayload(jsonFile)
		if err != nil {
			return err
		}
		result, err := b.ImportOutboundJSON(cmd.Context(), payload)
		if err != nil {
			return err
		}
		printImportResult(result.Added, result.Errors)
		return nil
	}

	result, err := b.ImportShareLinks(cmd.Context(), args)
	if err != nil {
		return err
	}
	printImportResult(result.Added, result.Errors)
	return nil
}

func readPayload(path string) (string, error) {
	if path == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(raw), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(raw), nil
}

func printImportResult(added int, warnings []string) {
	fmt.Printf("Imported %d outbound(s)\n", added)
	if len(warnings) > 0 {
		fmt.Printf("Skipped %d item(s):\n", len(warnings))
		for _, w := range warnings {
			fmt.Printf("  - %s\n", strings.SplitN(w, "\n", 2)[0])
		}
	}
}

func runAutostart(cmd *cobra.Command, args []string) error {
	auto, err := infra.NewAutostart()
	if err != nil {
		return err
	}

	switch args[0] {
	case "on":
		if err := auto.Enable(); err != nil {
			return fmt.Errorf("failed to enable autostart: %w", err)
		}
		fmt.Println("Autostart enabled")
	case "off":
		if err := auto.Disable(); err != nil {
			return fmt.Errorf("failed to disable autostart: %w", err)
		}
		fmt.Println("Autostart disabled")
	case "status":
		if auto.IsEnabled() {
			fmt.Println("Autostart: enabled")
		} else {
			fmt.Println("Autostart: disabled")
		}
	default:
		return fmt.Errorf("unknown argument: %s", args[0])
	}
	return nil
}

func createLogger(dir string) *zap.Logger {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{filepath.Join(dir, "yotsuba.log")}
	config.ErrorOutputPaths = []string{filepath.Join(dir, "yotsuba.error.log")}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		// Fallback to stdout if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("yotsuba %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
