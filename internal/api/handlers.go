// Package api serves the test listing and test run endpoints.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/container-resource-predictor/fleet-diagnostics/internal/constraint"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/dependency"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/metrics"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/result"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/runner"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/target"
	"github.com/container-resource-predictor/fleet-diagnostics/internal/testdef"
)

// CaseProvider is implemented by suites that register parameterized test
// cases for a target.
type CaseProvider interface {
	RegisterTestCases(cases *dependency.Registry) error
}

var caseProviderType = reflect.TypeOf((*CaseProvider)(nil)).Elem()

// Handlers contains the dependencies for the test handlers.
type Handlers struct {
	root      string
	targets   *target.Registry
	tests     *testdef.Registry
	evaluator *constraint.Evaluator
	runner    *runner.Runner
	metrics   *metrics.Metrics
}

// Config configures the handlers.
type Config struct {
	// Root is the path the routes are mounted under, e.g. /tests.
	Root      string
	Targets   *target.Registry
	Tests     *testdef.Registry
	Evaluator *constraint.Evaluator
	Runner    *runner.Runner
	Metrics   *metrics.Metrics
}

// NewHandlers creates the test handlers.
func NewHandlers(cfg Config) *Handlers {
	return &Handlers{
		root:      "/" + strings.Trim(cfg.Root, "/"),
		targets:   cfg.Targets,
		tests:     cfg.Tests,
		evaluator: cfg.Evaluator,
		runner:    cfg.Runner,
		metrics:   cfg.Metrics,
	}
}

// RegisterRoutes sets up the test routes. The bare root redirects to root/.
func (h *Handlers) RegisterRoutes(router gin.IRouter) {
	router.GET(h.root+"/*path", h.dispatch)
}

// dispatch routes on the number of path segments:
// none lists everything, one names an environment or an application, two name
// a target and three name a test to run.
func (h *Handlers) dispatch(c *gin.Context) {
	segments := splitPath(c.Param("path"))

	switch len(segments) {
	case 0:
		h.list(c, "", "")
	case 1:
		if env, ok := h.targets.Environment(segments[0]); ok {
			h.list(c, env, "")
			return
		}
		h.list(c, "", segments[0])
	case 2:
		h.list(c, segments[0], segments[1])
	case 3:
		h.run(c, segments[0], segments[1], segments[2])
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	}
}

func splitPath(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (h *Handlers) list(c *gin.Context, environment, application string) {
	if environment != "" {
		if _, ok := h.targets.Environment(environment); !ok {
			h.metrics.ObserveList(strconv.Itoa(http.StatusNotFound), 0)
			h.notFound(c, fmt.Sprintf("environment not found: %s", environment))
			return
		}
	}
	if application != "" && !h.targets.HasApplication(application) {
		h.metrics.ObserveList(strconv.Itoa(http.StatusNotFound), 0)
		h.notFound(c, fmt.Sprintf("application not found: %s", application))
		return
	}

	ctx := c.Request.Context()
	filter := ParseTagFilter(c.Request.URL.Query())
	tests := make([]result.Test, 0)

	for _, t := range h.targets.Filter(environment, application) {
		for _, def := range h.tests.All() {
			if !filter.Matches(def.Tags) || !h.evaluator.AppliesTo(ctx, def, t) {
				continue
			}
			tests = append(tests, h.expand(ctx, c.Request, t, def)...)
		}
	}

	sort.Slice(tests, func(i, j int) bool { return tests[i].URL < tests[j].URL })

	h.metrics.ObserveList(strconv.Itoa(http.StatusOK), len(tests))
	c.JSON(http.StatusOK, gin.H{"tests": tests})
}

// expand returns the routable instances of def on t: one per registered test
// case, or a single one carrying the declared defaults.
func (h *Handlers) expand(ctx context.Context, req *http.Request, t *target.Target, def *testdef.Definition) []result.Test {
	h.discoverCases(ctx, t, def)

	sets := t.Dependencies().ParameterSetsFor(def.MethodKey)
	if len(sets) == 0 {
		sets = []testdef.ParameterSet{def.Defaults()}
	}

	out := make([]result.Test, 0, len(sets))
	for _, set := range sets {
		out = append(out, result.Test{
			Environment: t.Environment,
			Application: t.Application,
			Name:        def.Name,
			URL:         h.testURL(req, t, def.Name, set.QueryString()),
			Tags:        def.Tags,
			Parameters:  def.Parameters,
		})
	}
	return out
}

// discoverCases lets the suite of def register its test cases on t, once per
// suite type and target.
func (h *Handlers) discoverCases(ctx context.Context, t *target.Target, def *testdef.Definition) {
	if def.SuiteType == nil || !def.SuiteType.Implements(caseProviderType) {
		return
	}
	deps := t.Dependencies()
	err := deps.EnsureCases(suiteKey(def.SuiteType), func(cases *dependency.Registry) error {
		suite, err := cases.Resolve(def.SuiteType)
		if err != nil {
			return err
		}
		return suite.(CaseProvider).RegisterTestCases(cases)
	})
	if err != nil {
		slog.WarnContext(ctx, "Test case registration failed", "suite", def.SuiteType.String(), "target", t.String(), "error", err)
	}
}

func suiteKey(t reflect.Type) string {
	elem := t
	for elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	return elem.PkgPath() + "." + t.String()
}

func (h *Handlers) run(c *gin.Context, environment, application, name string) {
	ctx := c.Request.Context()

	t, err := h.targets.Get(environment, application)
	if err != nil {
		h.notFound(c, err.Error())
		return
	}
	def, err := h.tests.Get(name)
	if err != nil {
		h.notFound(c, err.Error())
		return
	}
	if !h.evaluator.AppliesTo(ctx, def, t) {
		h.notFound(c, fmt.Sprintf("test %s does not apply to %s", def.Name, t))
		return
	}

	res := h.runner.Run(ctx, runner.Request{
		Target:     t,
		Definition: def,
		Query:      c.Request.URL.Query(),
		URL: func(query string) string {
			return h.testURL(c.Request, t, def.Name, query)
		},
	})

	if strings.HasPrefix(c.ContentType(), "text/html") {
		c.Status(res.StatusCode())
		return
	}
	c.JSON(res.StatusCode(), res)
}

// testURL uses the scheme of the target and the host the request came in on.
func (h *Handlers) testURL(req *http.Request, t *target.Target, name, query string) string {
	u := url.URL{
		Scheme:   t.BaseURL.Scheme,
		Host:     req.Host,
		Path:     h.root + "/" + t.Environment + "/" + t.Application + "/" + name,
		RawQuery: query,
	}
	return u.String()
}

func (h *Handlers) notFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, gin.H{"error": msg})
}
