// Package sandbox implements the SandboxManager: it creates, watches,
// and tears down one per-thread Kubernetes Sandbox custom resource at a
// time, and forwards the execute/interrupt/answer operations to the
// sandbox's SandboxRouter once it's ready.
package sandbox

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"

	sandboxv1alpha1 "sigs.k8s.io/agent-sandbox/api/v1alpha1"

	"github.com/nextlevelbuilder/sreorch/internal/orcherr"
	"github.com/nextlevelbuilder/sreorch/internal/telemetry"
)

const (
	labelManagedBy       = "managed-by"
	labelValue           = "sreorchd"
	labelThreadID        = "sreorch.io/thread-id"
	sandboxNameHashLabel = "agents.x-k8s.io/sandbox-name-hash"
	sandboxContainerName = "agent"

	defaultPollInterval = 2 * time.Second
)

// State is the SandboxManager's view of a sandbox's lifecycle.
type State string

const (
	StatePending State = "pending"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

// Info describes one thread's sandbox.
type Info struct {
	ThreadID  string
	Name      string
	Namespace string
	State     State
	PodName   string
	PodIP     string
}

// Config controls sandbox provisioning defaults.
type Config struct {
	Namespace      string
	Image          string
	CPUMillis      int64
	MemoryBytes    int64
	PollInterval   time.Duration
	ReadyTimeout   time.Duration
	TTL            time.Duration
	Kubeconfig     string
}

// RouterClient is the subset of SandboxRouter operations the
// orchestrator calls once a sandbox is ready. It's defined here, not
// imported from internal/sandboxrouter, so Manager depends only on a
// shape it needs — internal/sandboxrouter provides the concrete
// implementation and is wired in at startup.
type RouterClient interface {
	Execute(ctx context.Context, info Info, threadID string, body []byte) ([]byte, error)
	Interrupt(ctx context.Context, info Info, threadID string) error
	SendAnswer(ctx context.Context, info Info, threadID, questionID string, answer []byte) error
	ExecuteStream(ctx context.Context, info Info, threadID string, body []byte) (io.ReadCloser, error)
	InterruptStream(ctx context.Context, info Info, threadID string) (io.ReadCloser, error)
}

// Manager is the SandboxManager.
type Manager struct {
	crClient client.Client
	kube     kubernetes.Interface
	cfg      Config
	router   RouterClient
}

// NewManager builds a Manager from in-cluster config, falling back to a
// kubeconfig file when cfg.Kubeconfig or KUBECONFIG is set — the same
// fallback order a kubectl-adjacent tool uses so it works both inside
// and outside the cluster it manages.
func NewManager(cfg Config, router RouterClient) (*Manager, error) {
	restCfg, err := buildRESTConfig(cfg.Kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("sandbox: build rest config: %w", err)
	}

	scheme := runtime.NewScheme()
	if err := sandboxv1alpha1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("sandbox: register scheme: %w", err)
	}
	if err := corev1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("sandbox: register core scheme: %w", err)
	}

	crClient, err := client.New(restCfg, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("sandbox: build controller-runtime client: %w", err)
	}
	kube, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("sandbox: build clientset: %w", err)
	}

	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ReadyTimeout == 0 {
		cfg.ReadyTimeout = 120 * time.Second
	}

	return &Manager{crClient: crClient, kube: kube, cfg: cfg, router: router}, nil
}

// newManagerForTesting builds a Manager around an already-constructed
// client pair, bypassing buildRESTConfig — used by tests with a fake
// clientset and a fake controller-runtime client.
func newManagerForTesting(cr client.Client, kube kubernetes.Interface, cfg Config, router RouterClient) *Manager {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ReadyTimeout == 0 {
		cfg.ReadyTimeout = 120 * time.Second
	}
	return &Manager{crClient: cr, kube: kube, cfg: cfg, router: router}
}

// Ping verifies the cluster API server is reachable, for use by
// operator-facing health checks (cmd/doctor) that want a yes/no signal
// without exercising a real sandbox lifecycle.
func (m *Manager) Ping(ctx context.Context) error {
	if _, err := m.kube.Discovery().ServerVersion(); err != nil {
		return fmt.Errorf("sandbox: ping cluster: %w", err)
	}
	return nil
}

func buildRESTConfig(kubeconfigOverride string) (*rest.Config, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}

	kubeconfig := kubeconfigOverride
	if kubeconfig == "" {
		kubeconfig = os.Getenv("KUBECONFIG")
	}
	if kubeconfig == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory for kubeconfig: %w", err)
		}
		kubeconfig = filepath.Join(home, ".kube", "config")
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfig)
}

// CreateSandbox provisions a Sandbox custom resource for threadID. If
// one already exists, it returns orcherr.ErrAlreadyExists and the
// caller should proceed straight to WaitForReady — sandbox reuse on a
// repeated /investigate call for the same thread is expected, not an
// error condition at the API boundary.
//
// jwtToken is the TokenVault-minted capability the agent process uses
// to call back into the orchestration plane; teamToken, if non-empty,
// is the ConfigClient impersonation token the agent uses to read its
// own effective config. Both are injected as container env vars, never
// baked into the image or the CRD spec's non-secret fields (§4.1(ii)).
func (m *Manager) CreateSandbox(ctx context.Context, threadID, tenantID, teamID, jwtToken, teamToken string) (Info, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "sandbox.create", trace.WithAttributes(
		attribute.String("sreorch.thread_id", threadID),
		attribute.String("sreorch.tenant_id", tenantID),
		attribute.String("sreorch.team_id", teamID),
	))
	defer span.End()

	name := sandboxName(threadID)

	existing := &sandboxv1alpha1.Sandbox{}
	err := m.crClient.Get(ctx, client.ObjectKey{Namespace: m.cfg.Namespace, Name: name}, existing)
	if err == nil {
		return m.infoFromSandbox(existing), fmt.Errorf("sandbox: create %s: %w", name, orcherr.ErrAlreadyExists)
	}
	if !apierrors.IsNotFound(err) {
		span.RecordError(err)
		return Info{}, fmt.Errorf("sandbox: get %s: %w", name, err)
	}

	createdAt := time.Now().UTC()
	shutdownAt := createdAt.Add(m.ttlOrDefault())

	env := []corev1.EnvVar{
		{Name: "SREORCH_TENANT_ID", Value: tenantID},
		{Name: "SREORCH_TEAM_ID", Value: teamID},
		{Name: "SREORCH_THREAD_ID", Value: threadID},
		{Name: "SREORCH_SANDBOX_NAME", Value: name},
		{Name: "SREORCH_SANDBOX_JWT", Value: jwtToken},
	}
	if teamToken != "" {
		env = append(env, corev1.EnvVar{Name: "SREORCH_TEAM_TOKEN", Value: teamToken})
	}
	// Secret-ref table (§4.1(iii)): every optional upstream credential the
	// agent may need is wired by reference, never by value, and is
	// simply absent from the pod if the team hasn't configured one.
	for envName, secretKey := range optionalCredentialSecretRefs {
		env = append(env, corev1.EnvVar{
			Name: envName,
			ValueFrom: &corev1.EnvVarSource{
				SecretKeyRef: &corev1.SecretKeySelector{
					LocalObjectReference: corev1.LocalObjectReference{Name: teamCredentialsSecretName(teamID)},
					Key:                  secretKey,
					Optional:             boolPtr(true),
				},
			},
		})
	}

	sb := &sandboxv1alpha1.Sandbox{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: m.cfg.Namespace,
			Labels: map[string]string{
				labelManagedBy:       labelValue,
				labelThreadID:        name,
				sandboxNameHashLabel: nameHash(name),
			},
			Annotations: map[string]string{
				"sreorch.io/tenant-id":   tenantID,
				"sreorch.io/team-id":     teamID,
				"sreorch.io/created-at":  createdAt.Format(time.RFC3339),
				"sreorch.io/shutdown-at": shutdownAt.Format(time.RFC3339),
			},
		},
		Spec: sandboxv1alpha1.SandboxSpec{
			PodTemplate: sandboxv1alpha1.PodTemplate{
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:  sandboxContainerName,
							Image: m.cfg.Image,
							Env:   env,
							Resources: corev1.ResourceRequirements{
								Limits: corev1.ResourceList{
									corev1.ResourceCPU:    cpuQuantity(m.cfg.CPUMillis),
									corev1.ResourceMemory: memoryQuantity(m.cfg.MemoryBytes),
								},
							},
						},
					},
				},
			},
		},
	}

	if err := m.crClient.Create(ctx, sb); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return Info{ThreadID: threadID, Name: name, Namespace: m.cfg.Namespace, State: StatePending}, fmt.Errorf("sandbox: create %s: %w", name, orcherr.ErrAlreadyExists)
		}
		return Info{}, fmt.Errorf("sandbox: create %s: %w", name, orcherr.ErrSandboxSetupFailed)
	}

	return Info{ThreadID: threadID, Name: name, Namespace: m.cfg.Namespace, State: StatePending}, nil
}

// optionalCredentialSecretRefs names the upstream credentials an agent
// process may optionally need, each sourced from the team's own
// credentials secret rather than the orchestrator's own. Absent keys
// simply leave the env var unset (Optional: true) instead of failing
// sandbox creation.
var optionalCredentialSecretRefs = map[string]string{
	"SREORCH_GITHUB_TOKEN":    "github-token",
	"SREORCH_DATADOG_API_KEY": "datadog-api-key",
	"SREORCH_PAGERDUTY_TOKEN": "pagerduty-token",
}

func teamCredentialsSecretName(teamID string) string {
	return "sreorch-team-" + teamID + "-credentials"
}

func boolPtr(b bool) *bool { return &b }

func (m *Manager) ttlOrDefault() time.Duration {
	if m.cfg.TTL <= 0 {
		return 2 * time.Hour
	}
	return m.cfg.TTL
}

// GetSandbox returns the current state of threadID's sandbox.
// orcherr.ErrNotFound if none exists.
func (m *Manager) GetSandbox(ctx context.Context, threadID string) (Info, error) {
	name := sandboxName(threadID)
	sb := &sandboxv1alpha1.Sandbox{}
	if err := m.crClient.Get(ctx, client.ObjectKey{Namespace: m.cfg.Namespace, Name: name}, sb); err != nil {
		if apierrors.IsNotFound(err) {
			return Info{}, fmt.Errorf("sandbox: get %s: %w", name, orcherr.ErrNotFound)
		}
		return Info{}, fmt.Errorf("sandbox: get %s: %w", name, err)
	}
	return m.infoFromSandbox(sb), nil
}

// WaitForReady polls until the Sandbox condition is Ready and its pod
// has reached Running phase, or until cfg.ReadyTimeout elapses.
func (m *Manager) WaitForReady(ctx context.Context, threadID string) (Info, error) {
	name := sandboxName(threadID)
	deadline := time.Now().Add(m.cfg.ReadyTimeout)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		sb := &sandboxv1alpha1.Sandbox{}
		err := m.crClient.Get(ctx, client.ObjectKey{Namespace: m.cfg.Namespace, Name: name}, sb)
		if err != nil && !apierrors.IsNotFound(err) {
			return Info{}, fmt.Errorf("sandbox: wait for ready %s: %w", name, err)
		}
		if err == nil && isSandboxReady(sb) {
			podName, podIP, perr := m.findReadyPod(ctx, name)
			if perr == nil {
				info := m.infoFromSandbox(sb)
				info.State = StateReady
				info.PodName = podName
				info.PodIP = podIP
				return info, nil
			}
		}

		if time.Now().After(deadline) {
			return Info{}, fmt.Errorf("sandbox: wait for ready %s: %w", name, orcherr.ErrTimeout)
		}

		select {
		case <-ctx.Done():
			return Info{}, fmt.Errorf("sandbox: wait for ready %s: %w", name, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (m *Manager) findReadyPod(ctx context.Context, sandboxName string) (podName, podIP string, err error) {
	pods, err := m.kube.CoreV1().Pods(m.cfg.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", sandboxNameHashLabel, nameHash(sandboxName)),
	})
	if err != nil {
		return "", "", fmt.Errorf("list pods for %s: %w", sandboxName, err)
	}
	for _, pod := range pods.Items {
		if pod.Status.Phase == corev1.PodRunning {
			return pod.Name, pod.Status.PodIP, nil
		}
	}
	return "", "", fmt.Errorf("no running pod for %s", sandboxName)
}

// DeleteSandbox removes threadID's Sandbox resource. Idempotent: a
// missing sandbox is not an error, matching the teacher's swallow-style
// Stop semantics — callers want "make sure it's gone," not "prove it
// was there."
func (m *Manager) DeleteSandbox(ctx context.Context, threadID string) error {
	name := sandboxName(threadID)
	sb := &sandboxv1alpha1.Sandbox{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: m.cfg.Namespace},
	}
	if err := m.crClient.Delete(ctx, sb); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("sandbox: delete %s: %w", name, err)
	}
	return nil
}

// ExecuteInSandbox, InterruptSandbox, and SendAnswer satisfy the
// SandboxManager operation list by delegating to the injected
// SandboxRouter client, which owns the identity-header forwarding
// logic — kept as a distinct collaborator per the client-view split.
func (m *Manager) ExecuteInSandbox(ctx context.Context, threadID string, body []byte) ([]byte, error) {
	info, err := m.GetSandbox(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return m.router.Execute(ctx, info, threadID, body)
}

func (m *Manager) InterruptSandbox(ctx context.Context, threadID string) error {
	info, err := m.GetSandbox(ctx, threadID)
	if err != nil {
		return err
	}
	return m.router.Interrupt(ctx, info, threadID)
}

func (m *Manager) SendAnswer(ctx context.Context, threadID, questionID string, answer []byte) error {
	info, err := m.GetSandbox(ctx, threadID)
	if err != nil {
		return err
	}
	return m.router.SendAnswer(ctx, info, threadID, questionID, answer)
}

// ExecuteStream opens a streaming /execute call against threadID's
// sandbox and returns the upstream SSE body unread, so StreamBroker can
// forward it line-by-line under backpressure instead of buffering the
// whole turn.
func (m *Manager) ExecuteStream(ctx context.Context, threadID string, body []byte) (io.ReadCloser, error) {
	info, err := m.GetSandbox(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return m.router.ExecuteStream(ctx, info, threadID, body)
}

// InterruptStream opens a streaming /interrupt call against threadID's
// sandbox and returns the upstream SSE acknowledgement body unread.
func (m *Manager) InterruptStream(ctx context.Context, threadID string) (io.ReadCloser, error) {
	info, err := m.GetSandbox(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return m.router.InterruptStream(ctx, info, threadID)
}

func (m *Manager) infoFromSandbox(sb *sandboxv1alpha1.Sandbox) Info {
	state := StatePending
	if isSandboxReady(sb) {
		state = StateReady
	}
	return Info{
		Name:      sb.Name,
		Namespace: sb.Namespace,
		State:     state,
	}
}

func isSandboxReady(sb *sandboxv1alpha1.Sandbox) bool {
	for _, cond := range sb.Status.Conditions {
		if cond.Type == string(sandboxv1alpha1.SandboxConditionReady) && cond.Status == metav1.ConditionTrue {
			return true
		}
	}
	return false
}

// sandboxName derives a DNS-1123-safe Sandbox resource name. The
// thread-identity slugging itself (§4.7) happens in internal/triggeradapter
// before a thread ID ever reaches here; this just prefixes it so
// sandbox resources are visually distinct from other CRDs sharing the
// namespace.
func sandboxName(threadID string) string {
	return "investigation-" + threadID
}

func nameHash(name string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return fmt.Sprintf("%08x", h.Sum32())
}

func cpuQuantity(millis int64) resource.Quantity {
	if millis <= 0 {
		millis = 2000
	}
	return *resource.NewMilliQuantity(millis, resource.DecimalSI)
}

func memoryQuantity(bytes int64) resource.Quantity {
	if bytes <= 0 {
		bytes = 2 << 30
	}
	return *resource.NewQuantity(bytes, resource.BinarySI)
}
