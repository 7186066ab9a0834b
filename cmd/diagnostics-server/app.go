package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/client-go/kubernetes"

	"github.com/container-resource-predictor/fleet-diagnostics/internal/api"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/checks"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/config"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/constraint"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/dependency"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/kubetargets"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/metrics"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/runner"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/sensor"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/server"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/target"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/testdef"
)

const componentName = "diagnostics-server"

// app is the fully wired server.
type app struct {
	targets *target.Registry
	tests   *testdef.Registry
	server  *server.Server
}

// buildApp wires every component. kube may be nil when discovery is disabled.
func buildApp(ctx context.Context, cfg *config.Config, reg *prometheus.Registry, kube kubernetes.Interface) (*app, error) {
	m := metrics.New(componentName, reg)

	specs, err := targetSpecs(ctx, cfg, kube)
	if err != nil {
		return nil, err
	}

	targets, err := buildTargets(cfg, specs)
	if err != nil {
		return nil, err
	}
	m.TargetsRegistered.Set(float64(len(targets.All())))
	if len(targets.All()) == 0 {
		slog.Warn("No targets configured, listings will be empty")
	}

	tests, err := testdef.NewRegistry(
		testdef.RegistryConfig{CaseInsensitive: cfg.TestNameCaseInsensitive},
		testdef.FromType[*checks.Reachability](),
	)
	if err != nil {
		return nil, fmt.Errorf("discovering tests: %w", err)
	}
	slog.Info("Discovered tests", "count", tests.Len(), "targets", len(targets.All()))

	evaluator := constraint.NewEvaluator(tests.All(), func(def *testdef.Definition, t *target.Target, applies bool) {
		m.ObserveConstraint(t.Environment, t.Application, applies)
	})

	sensors := sensor.NewRegistry()
	if err := sensors.Register("version", sensor.VersionProbe(version, parseBuildDate())); err != nil {
		return nil, err
	}

	srv := server.New(server.Config{
		Name:       componentName,
		Addr:       cfg.HTTPAddr,
		Production: cfg.Environment == "production",
		Metrics:    m,
		Gatherer:   reg,
	})

	api.NewHandlers(api.Config{
		Root:      cfg.TestsRoot,
		Targets:   targets,
		Tests:     tests,
		Evaluator: evaluator,
		Runner:    runner.New(cfg.TestTimeout, m),
		Metrics:   m,
	}).RegisterRoutes(srv.Router())
	sensor.NewHandlers(sensors, cfg.SensorsRoot, m).RegisterRoutes(srv.Router())

	return &app{targets: targets, tests: tests, server: srv}, nil
}

// targetSpecs merges the targets file with the targets discovered in
// Kubernetes. Duplicates are left for the builder to reject.
func targetSpecs(ctx context.Context, cfg *config.Config, kube kubernetes.Interface) ([]config.TargetSpec, error) {
	var specs []config.TargetSpec

	if cfg.TargetsFile != "" {
		fromFile, err := config.LoadTargets(cfg.TargetsFile)
		if err != nil {
			return nil, err
		}
		slog.Info("Loaded targets file", "path", cfg.TargetsFile, "count", len(fromFile))
		specs = append(specs, fromFile...)
	}

	if kube != nil {
		discovered, err := kubetargets.New(kube, cfg.Kube.Namespace).Discover(ctx)
		if err != nil {
			return nil, fmt.Errorf("discovering targets: %w", err)
		}
		specs = append(specs, discovered...)
	}

	return specs, nil
}

func buildTargets(cfg *config.Config, specs []config.TargetSpec) (*target.Registry, error) {
	clientCfg := target.DefaultClientConfig()
	clientCfg.Timeout = cfg.TargetHTTPTimeout
	clientCfg.RetryMax = cfg.TargetHTTPRetries

	b := target.NewBuilder().WithClientConfig(clientCfg)
	for _, spec := range specs {
		var opts []target.Option
		if spec.WarmupPath != "" {
			opts = append(opts, target.WithWarmup(warmupRequest(spec.WarmupPath)))
		}
		if !spec.MinBuildDate.IsZero() {
			predicate := checks.BuildDateAfter(spec.MinBuildDate)
			opts = append(opts, target.WithDependencies(func(d *dependency.Registry) {
				dependency.RegisterValue(d, predicate)
			}))
		}
		b.Add(spec.Environment, spec.Application, spec.BaseURL, opts...)
	}

	targets, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("building targets: %w", err)
	}
	return targets, nil
}

// warmupRequest succeeds once path answers 2xx.
func warmupRequest(path string) func(ctx context.Context, client *target.Client) error {
	return func(ctx context.Context, client *target.Client) error {
		resp, err := client.Get(ctx, path)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			return &target.StatusError{URL: client.URL(path), StatusCode: resp.StatusCode}
		}
		return nil
	}
}
