package checks

import (
	"context"
	"log/slog"
	"time"

	"github.com/container-resource-predictor/fleet-diagnostics/internal/constraint"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/sensor"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/target"
)

// BuildDateAfter returns a predicate that shows tests only on targets whose
// version sensor reports a build date after t. Targets that cannot be asked
// are treated as not matching.
func BuildDateAfter(t time.Time) constraint.TargetPredicate {
	return func(ctx context.Context, client *target.Client) bool {
		var info sensor.VersionInfo
		if err := client.GetJSON(ctx, VersionPath, &info); err != nil {
			slog.Warn("Cannot read build date", "url", client.URL(VersionPath), "error", err)
			return false
		}
		return info.BuildDate.After(t)
	}
}
