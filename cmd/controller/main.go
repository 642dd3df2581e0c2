package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/vfabi/kube-janitor/internal/cluster"
	"github.com/vfabi/kube-janitor/internal/janitor"
	"github.com/vfabi/kube-janitor/internal/metrics"
	"github.com/vfabi/kube-janitor/internal/notifier"
	"github.com/vfabi/kube-janitor/internal/rules"
)

func main() {
	var (
		dryRun             bool
		once               bool
		debug              bool
		interval           time.Duration
		includeResources   string
		excludeResources   string
		includeNamespaces  string
		excludeNamespaces  string
		rulesFile          string
		deployTimeAnnot    string
		deleteNotification time.Duration
		waitAfterDelete    time.Duration
		eventsPerMinute    int
		metricsAddr        string
		kubeconfig         string
	)

	flag.BoolVar(&dryRun, "dry-run", false, "Log intended mutations instead of performing them.")
	flag.BoolVar(&once, "once", false, "Run one clean-up pass and exit.")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging.")
	flag.DurationVar(&interval, "interval", 30*time.Second, "Time between clean-up runs.")
	flag.StringVar(&includeResources, "include-resources", "all", "Comma-separated plural resource endpoints to process, or \"all\".")
	flag.StringVar(&excludeResources, "exclude-resources", "events,controllerrevisions", "Comma-separated plural resource endpoints to skip, or \"all\".")
	flag.StringVar(&includeNamespaces, "include-namespaces", "all", "Comma-separated namespaces to process, or \"all\".")
	flag.StringVar(&excludeNamespaces, "exclude-namespaces", "kube-system", "Comma-separated namespaces to skip, or \"all\".")
	flag.StringVar(&rulesFile, "rules-file", "", "Path to a YAML file with TTL rules (optional).")
	flag.StringVar(&deployTimeAnnot, "deployment-time-annotation", "", "Annotation whose timestamp overrides the creation time as TTL age baseline (optional).")
	flag.DurationVar(&deleteNotification, "delete-notification", 0, "Lead time before deletion during which a warning event is sent. Zero disables notifications.")
	flag.DurationVar(&waitAfterDelete, "wait-after-delete", 0, "Pause after each deletion to throttle delete throughput.")
	flag.IntVar(&eventsPerMinute, "events-per-minute", 100, "Per-namespace event creation rate limit.")
	flag.StringVar(&metricsAddr, "metrics-bind-address", ":8080", "The address the metrics and health endpoints bind to.")
	flag.StringVar(&kubeconfig, "kubeconfig", "", "Path to a kubeconfig file. Defaults to in-cluster config, then $KUBECONFIG.")
	flag.Parse()

	// Setup logger
	logConfig := zap.NewProductionConfig()
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		logConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := logConfig.Build()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting kube-janitor",
		zap.Bool("dry_run", dryRun),
		zap.Bool("once", once),
		zap.Duration("interval", interval),
		zap.Duration("delete_notification", deleteNotification),
	)

	cfg, err := restConfig(kubeconfig)
	if err != nil {
		logger.Fatal("Failed to load cluster configuration", zap.Error(err))
	}

	discoveryClient, err := discovery.NewDiscoveryClientForConfig(cfg)
	if err != nil {
		logger.Fatal("Failed to create discovery client", zap.Error(err))
	}
	dynamicClient, err := dynamic.NewForConfig(cfg)
	if err != nil {
		logger.Fatal("Failed to create dynamic client", zap.Error(err))
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		logger.Fatal("Failed to create clientset", zap.Error(err))
	}

	var ttlRules []janitor.Rule
	if rulesFile != "" {
		ttlRules, err = rules.Load(rulesFile)
		if err != nil {
			logger.Fatal("Failed to load rules file", zap.String("path", rulesFile), zap.Error(err))
		}
		logger.Info("Loaded rules", zap.String("path", rulesFile), zap.Int("count", len(ttlRules)))
	}

	j := janitor.New(
		cluster.NewClient(dynamicClient, discoveryClient, clientset, logger),
		ttlRules,
		notifier.NewRateLimiter(eventsPerMinute),
		logger,
		janitor.Options{
			DryRun:                   dryRun,
			DeleteNotification:       deleteNotification,
			DeploymentTimeAnnotation: deployTimeAnnot,
			WaitAfterDelete:          waitAfterDelete,
			IncludeResources:         splitCSV(includeResources),
			ExcludeResources:         splitCSV(excludeResources),
			IncludeNamespaces:        splitCSV(includeNamespaces),
			ExcludeNamespaces:        splitCSV(excludeNamespaces),
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go serveMetrics(logger, metricsAddr)

	run := func() {
		start := time.Now()
		counter := j.CleanUp(ctx)
		metrics.Report(counter, time.Since(start))
	}

	run()
	if once {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down")
			return
		case <-ticker.C:
			run()
		}
	}
}

// restConfig loads the kubeconfig flag if set, otherwise tries in-cluster
// config and falls back to the default kubeconfig resolution ($KUBECONFIG,
// ~/.kube/config).
func restConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, nil).ClientConfig()
}

func serveMetrics(logger *zap.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Metrics server stopped", zap.Error(err))
	}
}

func splitCSV(s string) []string {
	var values []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}
