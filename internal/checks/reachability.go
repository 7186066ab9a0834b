// Package checks contains the diagnostics every target gets.
package checks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/container-resource-predictor/fleet-diagnostics/internal/dependency"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/result"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/sensor"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/target"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/tracelog"
)

// VersionPath is where targets expose their version sensor.
const VersionPath = "/sensors/version"

// StandardEndpoints are probed by RespondsOK on every target.
var StandardEndpoints = []string{"/health", "/ready"}

// Probe describes one HTTP exchange with a target.
type Probe struct {
	URL        string  `json:"url"`
	StatusCode int     `json:"statusCode"`
	LatencyMs  float64 `json:"latencyMs"`
}

// EndpointParams selects the endpoint probed by RespondsOK.
type EndpointParams struct {
	Path string `param:"path" default:"/health"`
}

// Reachability checks that a target answers HTTP requests.
type Reachability struct {
	Client *target.Client `inject:""`
}

// TestTags implements testdef.TestTagger.
func (s *Reachability) TestTags() map[string][]string {
	return map[string][]string{
		"IsReachable":    {"smoke"},
		"RespondsOK":     {"smoke"},
		"ReportsVersion": {"version"},
	}
}

// RegisterTestCases registers one RespondsOK case per standard endpoint.
func (s *Reachability) RegisterTestCases(cases *dependency.Registry) error {
	for _, path := range StandardEndpoints {
		if err := cases.RegisterParameters((*Reachability).RespondsOK, EndpointParams{Path: path}); err != nil {
			return err
		}
	}
	return nil
}

// IsReachable passes when the target's base URL answers with anything but a
// server error.
func (s *Reachability) IsReachable(ctx context.Context) (*Probe, error) {
	probe, err := s.probe(ctx, "/")
	if err != nil {
		return nil, err
	}
	if probe.StatusCode >= http.StatusInternalServerError {
		return probe, fmt.Errorf("%s answered %d", probe.URL, probe.StatusCode)
	}
	return probe, nil
}

// RespondsOK passes when the endpoint answers 2xx.
func (s *Reachability) RespondsOK(ctx context.Context, p EndpointParams) (*Probe, error) {
	probe, err := s.probe(ctx, p.Path)
	if err != nil {
		return nil, err
	}
	if probe.StatusCode < 200 || probe.StatusCode > 299 {
		return probe, fmt.Errorf("%s answered %d", probe.URL, probe.StatusCode)
	}
	return probe, nil
}

// ReportsVersion passes when the target exposes its version sensor.
func (s *Reachability) ReportsVersion(ctx context.Context) (sensor.VersionInfo, error) {
	var info sensor.VersionInfo
	if err := s.Client.GetJSON(ctx, VersionPath, &info); err != nil {
		var statusErr *target.StatusError
		if errors.As(err, &statusErr) {
			return info, fmt.Errorf("version sensor unavailable: %w", err)
		}
		return info, unreachable(err)
	}
	if info.Version == "" && info.BuildDate.IsZero() {
		return info, errors.New("version sensor reported neither a version nor a build date")
	}
	return info, nil
}

func (s *Reachability) probe(ctx context.Context, path string) (*Probe, error) {
	log := tracelog.Logger(ctx)
	url := s.Client.URL(path)
	log.Info("Probing target", "url", url)

	start := time.Now()
	resp, err := s.Client.Get(ctx, path)
	if err != nil {
		return nil, unreachable(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	probe := &Probe{
		URL:        url,
		StatusCode: resp.StatusCode,
		LatencyMs:  float64(time.Since(start).Microseconds()) / 1000,
	}
	log.Info("Target answered", "url", url, "status", resp.StatusCode, "latency_ms", probe.LatencyMs)
	return probe, nil
}

// unreachable keeps deadline errors as they are so they classify as timeouts.
func unreachable(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &result.InconclusiveError{Message: "target unreachable", Err: err}
}
