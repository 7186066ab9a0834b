// Package main is the entry point for the diagnostics-server
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"k8s.io/client-go/kubernetes"

	"github.com/container-resource-predictor/fleet-diagnostics/internal/config"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/kubetargets"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   = ""
	buildDate = ""
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "diagnostics-server",
		Short: "Serve on-demand diagnostics against a fleet of targets",
		Long: `diagnostics-server discovers diagnostic tests, lists the ones that apply
to each environment/application target and runs them over HTTP.`,
		SilenceUsage: true,
		Version:      versionString(),
	}
	root.SetVersionTemplate(`{{printf "diagnostics-server version %s\n" .Version}}`)

	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of diagnostics-server",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "diagnostics-server version %s\n", versionString())
		},
	}
}

func versionString() string {
	if version == "" {
		return "dev"
	}
	return version
}

type serveFlags struct {
	envFile         string
	addr            string
	logLevel        string
	testsRoot       string
	sensorsRoot     string
	targetsFile     string
	testTimeout     time.Duration
	caseInsensitive bool
	kubeDiscovery   bool
	kubeNamespace   string
	kubeconfig      string
}

func newServeCmd() *cobra.Command {
	var f serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the diagnostics HTTP server",
		Long: `Start the diagnostics HTTP server. Configuration is read from the
environment (and an optional .env file); flags override it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}

			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level: cfg.SlogLevel(),
			})))
			slog.Info("Starting diagnostics-server", "version", versionString(), "environment", cfg.Environment)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var kube kubernetes.Interface
			if cfg.Kube.Enabled {
				kube, err = kubetargets.NewClient(cfg.Kube.Kubeconfig)
				if err != nil {
					return err
				}
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			a, err := buildApp(ctx, cfg, reg, kube)
			if err != nil {
				return err
			}
			return a.server.ListenAndServe(ctx)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flags.StringVar(&f.addr, "addr", "", "HTTP listen address (HTTP_ADDR)")
	flags.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error (LOG_LEVEL)")
	flags.StringVar(&f.testsRoot, "tests-root", "", "route root of the test endpoints (TESTS_ROOT)")
	flags.StringVar(&f.sensorsRoot, "sensors-root", "", "route root of the sensor endpoints (SENSORS_ROOT)")
	flags.StringVar(&f.targetsFile, "targets-file", "", "YAML file listing targets (TARGETS_FILE)")
	flags.DurationVar(&f.testTimeout, "test-timeout", 0, "upper bound of a single test run (TEST_TIMEOUT)")
	flags.BoolVar(&f.caseInsensitive, "case-insensitive", false, "match test names ignoring case (TEST_NAME_CASE_INSENSITIVE)")
	flags.BoolVar(&f.kubeDiscovery, "kube-discovery", false, "discover targets from Kubernetes services (KUBE_DISCOVERY_ENABLED)")
	flags.StringVar(&f.kubeNamespace, "kube-namespace", "", "namespace to discover targets in (KUBE_DISCOVERY_NAMESPACE)")
	flags.StringVar(&f.kubeconfig, "kubeconfig", "", "path to a kubeconfig (KUBECONFIG)")

	return cmd
}

// loadConfig reads the environment and applies the flags that were set.
func loadConfig(cmd *cobra.Command, f serveFlags) (*config.Config, error) {
	cfg, err := config.Load(f.envFile)
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("addr") {
		cfg.HTTPAddr = f.addr
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("tests-root") {
		cfg.TestsRoot = f.testsRoot
	}
	if changed("sensors-root") {
		cfg.SensorsRoot = f.sensorsRoot
	}
	if changed("targets-file") {
		cfg.TargetsFile = f.targetsFile
	}
	if changed("test-timeout") {
		cfg.TestTimeout = f.testTimeout
	}
	if changed("case-insensitive") {
		cfg.TestNameCaseInsensitive = f.caseInsensitive
	}
	if changed("kube-discovery") {
		cfg.Kube.Enabled = f.kubeDiscovery
	}
	if changed("kube-namespace") {
		cfg.Kube.Namespace = f.kubeNamespace
	}
	if changed("kubeconfig") {
		cfg.Kube.Kubeconfig = f.kubeconfig
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func parseBuildDate() time.Time {
	if buildDate == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, buildDate)
	if err != nil {
		slog.Warn("Ignoring malformed build date", "buildDate", buildDate, "error", err)
		return time.Time{}
	}
	return t
}
