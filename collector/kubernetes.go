package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/nkbud/terraform-index/core"
)

// stateSecretKeys are the data keys the Terraform kubernetes backend is known
// to store state under, in probe order.
var stateSecretKeys = []string{"tfstate", "state", "terraform.tfstate", "default.tfstate"}

// ClusterConfig identifies one cluster to poll.
type ClusterConfig struct {
	// Name labels the cluster in metadata and logs.
	Name string `json:"name"`

	// Kubeconfig is a path to a kubeconfig file. Empty means in-cluster
	// config with a fallback to the default loading rules.
	Kubeconfig string `json:"kubeconfig,omitempty"`

	// Context selects a kubeconfig context. Empty uses the current one.
	Context string `json:"context,omitempty"`

	// Namespaces restricts the search. Empty searches every namespace the
	// credentials can list.
	Namespaces []string `json:"namespaces,omitempty"`
}

// KubernetesConfig configures a Kubernetes collector.
type KubernetesConfig struct {
	Clusters []ClusterConfig

	// LabelSelector identifies state-bearing secrets. Defaults to the
	// Terraform backend convention.
	LabelSelector string

	// NamePattern is a substring fallback used when the selector query is
	// rejected. Defaults to "tfstate-".
	NamePattern string

	// PollInterval is the delay between poll cycles. Defaults to 60s.
	PollInterval time.Duration

	Logger *slog.Logger
}

// Kubernetes collects Terraform state stored as secrets across one or more
// clusters. A secret is re-delivered only when its UID changes.
type Kubernetes struct {
	cfg     KubernetesConfig
	clients map[string]kubernetes.Interface
	seen    map[string]struct{}

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

var _ Collector = (*Kubernetes)(nil)

// NewKubernetes creates a Kubernetes collector. Cluster connectivity is
// established by Start.
func NewKubernetes(cfg KubernetesConfig) *Kubernetes {
	if cfg.LabelSelector == "" {
		cfg.LabelSelector = "app.terraform.io/component=backend-state"
	}
	if cfg.NamePattern == "" {
		cfg.NamePattern = "tfstate-"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Kubernetes{
		cfg:     cfg,
		clients: make(map[string]kubernetes.Interface),
		seen:    make(map[string]struct{}),
	}
}

func (c *Kubernetes) Name() string { return "kubernetes" }

// Start connects to each configured cluster, continuing past individual
// failures. It fails with core.ErrConnection only when clusters were
// configured and none could be reached.
func (c *Kubernetes) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	for _, cluster := range c.cfg.Clusters {
		client, err := c.connect(cluster)
		if err != nil {
			c.cfg.Logger.Error("failed to connect to cluster", "cluster", cluster.Name, "err", err)
			continue
		}
		c.clients[cluster.Name] = client
		c.cfg.Logger.Info("connected to cluster", "cluster", cluster.Name)
	}

	if len(c.cfg.Clusters) > 0 && len(c.clients) == 0 {
		return fmt.Errorf("%w: no kubernetes cluster reachable", core.ErrConnection)
	}

	c.done = make(chan struct{})
	c.running = true
	return nil
}

func (c *Kubernetes) connect(cluster ClusterConfig) (kubernetes.Interface, error) {
	restCfg, err := c.restConfig(cluster)
	if err != nil {
		return nil, err
	}
	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, err
	}
	if _, err := client.Discovery().ServerVersion(); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Kubernetes) restConfig(cluster ClusterConfig) (*rest.Config, error) {
	if cluster.Kubeconfig != "" {
		rules := &clientcmd.ClientConfigLoadingRules{ExplicitPath: cluster.Kubeconfig}
		overrides := &clientcmd.ConfigOverrides{CurrentContext: cluster.Context}
		return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	}
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	overrides := &clientcmd.ConfigOverrides{CurrentContext: cluster.Context}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
}

// Stop ends the collect loop and drops the cluster clients. Idempotent.
func (c *Kubernetes) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	close(c.done)
	c.clients = make(map[string]kubernetes.Interface)
	c.running = false
	return nil
}

// Collect polls every connected cluster on each cycle and yields unseen
// state-bearing secrets. Failures are contained per namespace and per secret.
func (c *Kubernetes) Collect(ctx context.Context) iter.Seq[*core.RawRecord] {
	return func(yield func(*core.RawRecord) bool) {
		for {
			for _, cluster := range c.cfg.Clusters {
				client, ok := c.clients[cluster.Name]
				if !ok {
					continue
				}
				if !c.pollCluster(ctx, client, cluster, yield) {
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case <-time.After(c.cfg.PollInterval):
			}
		}
	}
}

func (c *Kubernetes) pollCluster(ctx context.Context, client kubernetes.Interface, cluster ClusterConfig, yield func(*core.RawRecord) bool) bool {
	namespaces := cluster.Namespaces
	if len(namespaces) == 0 {
		list, err := client.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
		if err != nil {
			c.cfg.Logger.Error("failed to list namespaces", "cluster", cluster.Name, "err", err)
			return true
		}
		for _, ns := range list.Items {
			namespaces = append(namespaces, ns.Name)
		}
	}

	for _, ns := range namespaces {
		if !c.pollNamespace(ctx, client, cluster.Name, ns, yield) {
			return false
		}
	}
	return true
}

func (c *Kubernetes) pollNamespace(ctx context.Context, client kubernetes.Interface, clusterName, namespace string, yield func(*core.RawRecord) bool) bool {
	secrets, err := client.CoreV1().Secrets(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: c.cfg.LabelSelector,
	})
	if err != nil {
		if apierrors.IsForbidden(err) {
			c.cfg.Logger.Debug("no access to namespace", "cluster", clusterName, "namespace", namespace)
			return true
		}
		if !apierrors.IsBadRequest(err) {
			c.cfg.Logger.Warn("failed to list secrets", "cluster", clusterName, "namespace", namespace, "err", err)
			return true
		}
		// Selector rejected; fall back to the name-pattern match.
		all, err := client.CoreV1().Secrets(namespace).List(ctx, metav1.ListOptions{})
		if err != nil {
			c.cfg.Logger.Warn("failed to list secrets", "cluster", clusterName, "namespace", namespace, "err", err)
			return true
		}
		for i := range all.Items {
			secret := &all.Items[i]
			if !strings.Contains(secret.Name, c.cfg.NamePattern) {
				continue
			}
			if !c.processSecret(clusterName, namespace, secret, yield) {
				return false
			}
		}
		return true
	}

	for i := range secrets.Items {
		if !c.processSecret(clusterName, namespace, &secrets.Items[i], yield) {
			return false
		}
	}
	return true
}

func (c *Kubernetes) processSecret(clusterName, namespace string, secret *corev1.Secret, yield func(*core.RawRecord) bool) bool {
	fp := core.Fingerprint(clusterName, namespace, secret.Name, string(secret.UID))
	if _, ok := c.seen[fp]; ok {
		return true
	}

	content, stateKey := decodeStateSecret(secret)
	if content == nil {
		c.cfg.Logger.Debug("no terraform state in secret",
			"cluster", clusterName, "namespace", namespace, "secret", secret.Name)
		return true
	}

	c.seen[fp] = struct{}{}

	meta := core.SourceMetadata{
		SourceType:  core.SourceKubernetes,
		Cluster:     clusterName,
		Namespace:   namespace,
		SecretName:  secret.Name,
		SecretUID:   string(secret.UID),
		StateKey:    stateKey,
		Labels:      secret.Labels,
		Annotations: secret.Annotations,
		CollectedAt: time.Now().UTC(),
	}
	if !secret.CreationTimestamp.IsZero() {
		meta.LastModified = secret.CreationTimestamp.Time.UTC()
	}

	return yield(&core.RawRecord{Content: content, Metadata: meta})
}

// decodeStateSecret probes the well-known state keys and returns the first
// value that decodes as JSON. Secret data arrives base64-decoded from the
// API client.
func decodeStateSecret(secret *corev1.Secret) (map[string]any, string) {
	for _, key := range stateSecretKeys {
		data, ok := secret.Data[key]
		if !ok {
			continue
		}
		var content map[string]any
		if err := json.Unmarshal(data, &content); err != nil {
			continue
		}
		return content, key
	}
	return nil, ""
}
