package collector

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/metadata"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	metricsclientset "k8s.io/metrics/pkg/client/clientset/versioned"
)

// Clients bundles the cluster handles shared by the resolver, the watch
// controller and the collector. All of them are safe for concurrent use.
type Clients struct {
	Kubernetes kubernetes.Interface
	Metadata   metadata.Interface
	Metrics    metricsclientset.Interface
}

func NewClients(kubeconfigPath string, logger *zap.Logger) (*Clients, error) {
	config, err := getKubeConfig(kubeconfigPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to get kubernetes config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}

	metadataClient, err := metadata.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata client: %w", err)
	}

	metricsClientset, err := metricsclientset.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics clientset: %w", err)
	}

	return &Clients{
		Kubernetes: clientset,
		Metadata:   metadataClient,
		Metrics:    metricsClientset,
	}, nil
}

func getKubeConfig(kubeconfigPath string, logger *zap.Logger) (*rest.Config, error) {
	if kubeconfigPath == "" {
		config, err := rest.InClusterConfig()
		if err == nil {
			logger.Info("Using in-cluster kubernetes config")
			return config, nil
		}

		logger.Debug("Not running in cluster, trying local kubeconfig", zap.Error(err))

		kubeconfigPath = os.Getenv("KUBECONFIG")
		if kubeconfigPath == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get home directory: %w", err)
			}
			kubeconfigPath = filepath.Join(homeDir, ".kube", "config")
		}
	}

	config, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to build config from kubeconfig: %w", err)
	}

	logger.Info("Using kubeconfig", zap.String("path", kubeconfigPath))
	return config, nil
}

// Collector gathers a point-in-time view of the release's pods for the
// periodic digest. It never mutates cluster state.
type Collector struct {
	clients      *Clients
	namespace    string
	eventsWindow time.Duration
	logger       *zap.Logger
}

func New(clients *Clients, namespace string, logger *zap.Logger) *Collector {
	return &Collector{
		clients:      clients,
		namespace:    namespace,
		eventsWindow: 3 * time.Hour,
		logger:       logger,
	}
}
