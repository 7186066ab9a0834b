// Package kubetargets discovers diagnostic targets from Kubernetes Services.
package kubetargets

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/container-resource-predictor/fleet-diagnostics/internal/config"
)

// Labels and annotations read from Services.
const (
	EnvironmentLabel     = "diagnostics.fleet/environment"
	ApplicationLabel     = "diagnostics.fleet/application"
	BaseURLAnnotation    = "diagnostics.fleet/base-url"
	WarmupPathAnnotation = "diagnostics.fleet/warmup-path"
)

// NewClient builds a clientset. kubeconfigPath wins when set; otherwise the
// standard loading rules apply ($KUBECONFIG, then ~/.kube/config) and an empty
// result falls back to the pod's service account.
func NewClient(kubeconfigPath string) (kubernetes.Interface, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	rules.ExplicitPath = kubeconfigPath
	loader := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{})

	cfg, err := loader.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("building kubernetes config: %w", err)
	}

	source, kubeContext := "in-cluster", ""
	if raw, err := loader.RawConfig(); err == nil && raw.CurrentContext != "" {
		source, kubeContext = "kubeconfig", raw.CurrentContext
	}
	slog.Info("Using Kubernetes configuration for target discovery",
		"source", source,
		"context", kubeContext,
		"host", cfg.Host,
	)

	return kubernetes.NewForConfig(cfg)
}

// Discovery lists labelled Services as targets.
type Discovery struct {
	client    kubernetes.Interface
	namespace string
}

// New returns a Discovery over namespace. An empty namespace lists all
// namespaces.
func New(client kubernetes.Interface, namespace string) *Discovery {
	return &Discovery{client: client, namespace: namespace}
}

// Discover returns a target for every Service carrying both the environment
// and the application label, sorted by environment and application.
func (d *Discovery) Discover(ctx context.Context) ([]config.TargetSpec, error) {
	services, err := d.client.CoreV1().Services(d.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: EnvironmentLabel + "," + ApplicationLabel,
	})
	if err != nil {
		return nil, fmt.Errorf("listing services: %w", err)
	}

	specs := make([]config.TargetSpec, 0, len(services.Items))
	for i := range services.Items {
		svc := &services.Items[i]
		spec := config.TargetSpec{
			Environment: svc.Labels[EnvironmentLabel],
			Application: svc.Labels[ApplicationLabel],
			BaseURL:     baseURL(svc),
			WarmupPath:  svc.Annotations[WarmupPathAnnotation],
		}
		if spec.Environment == "" || spec.Application == "" {
			slog.Warn("Skipping service with empty target labels", "service", svc.Namespace+"/"+svc.Name)
			continue
		}
		specs = append(specs, spec)
	}

	sort.Slice(specs, func(i, j int) bool {
		if specs[i].Environment != specs[j].Environment {
			return specs[i].Environment < specs[j].Environment
		}
		return specs[i].Application < specs[j].Application
	})

	slog.Info("Discovered targets from Kubernetes", "namespace", d.namespace, "count", len(specs))
	return specs, nil
}

func baseURL(svc *corev1.Service) string {
	if u := svc.Annotations[BaseURLAnnotation]; u != "" {
		return u
	}

	host := fmt.Sprintf("%s.%s.svc.cluster.local", svc.Name, svc.Namespace)
	if len(svc.Spec.Ports) == 0 {
		return "http://" + host
	}

	port := svc.Spec.Ports[0]
	scheme := "http"
	if port.Name == "https" || port.Port == 443 {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port.Port)
}
