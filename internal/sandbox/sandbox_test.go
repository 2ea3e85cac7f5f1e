package sandbox

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	fakeclientset "k8s.io/client-go/kubernetes/fake"
	"sigs.k8s.io/controller-runtime/pkg/client"
	sigsfake "sigs.k8s.io/controller-runtime/pkg/client/fake"

	sandboxv1alpha1 "sigs.k8s.io/agent-sandbox/api/v1alpha1"

	"github.com/nextlevelbuilder/sreorch/internal/orcherr"
)

type noopRouter struct{}

func (noopRouter) Execute(ctx context.Context, info Info, threadID string, body []byte) ([]byte, error) {
	return nil, nil
}
func (noopRouter) Interrupt(ctx context.Context, info Info, threadID string) error { return nil }
func (noopRouter) SendAnswer(ctx context.Context, info Info, threadID, questionID string, answer []byte) error {
	return nil
}
func (noopRouter) ExecuteStream(ctx context.Context, info Info, threadID string, body []byte) (io.ReadCloser, error) {
	return io.NopCloser(nil), nil
}
func (noopRouter) InterruptStream(ctx context.Context, info Info, threadID string) (io.ReadCloser, error) {
	return io.NopCloser(nil), nil
}

func newTestManager(t *testing.T, objs ...client.Object) *Manager {
	t.Helper()
	scheme := runtime.NewScheme()
	if err := sandboxv1alpha1.AddToScheme(scheme); err != nil {
		t.Fatal(err)
	}
	if err := corev1.AddToScheme(scheme); err != nil {
		t.Fatal(err)
	}
	cr := sigsfake.NewClientBuilder().WithScheme(scheme).WithObjects(objs...).Build()
	kube := fakeclientset.NewSimpleClientset()

	return newManagerForTesting(cr, kube, Config{
		Namespace:    "test-ns",
		Image:        "test-image",
		PollInterval: 5 * time.Millisecond,
		ReadyTimeout: 200 * time.Millisecond,
	}, noopRouter{})
}

func TestCreateSandboxIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.CreateSandbox(ctx, "thread-1", "tenant-a", "team-a", "jwt-token-1", ""); err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, err := m.CreateSandbox(ctx, "thread-1", "tenant-a", "team-a", "jwt-token-1", "")
	if !errors.Is(err, orcherr.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists on second create, got %v", err)
	}
}

func TestGetSandboxNotFound(t *testing.T) {
	m := newTestManager(t)
	_, err := m.GetSandbox(context.Background(), "missing-thread")
	if !errors.Is(err, orcherr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWaitForReadyTimesOutWithoutPod(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.CreateSandbox(ctx, "thread-1", "tenant-a", "team-a", "jwt-token-1", ""); err != nil {
		t.Fatal(err)
	}

	_, err := m.WaitForReady(ctx, "thread-1")
	if !errors.Is(err, orcherr.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestDeleteSandboxIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.DeleteSandbox(ctx, "never-created"); err != nil {
		t.Fatalf("expected no error deleting a nonexistent sandbox, got %v", err)
	}

	if _, err := m.CreateSandbox(ctx, "thread-1", "tenant-a", "team-a", "jwt-token-1", ""); err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteSandbox(ctx, "thread-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.GetSandbox(ctx, "thread-1"); !errors.Is(err, orcherr.ErrNotFound) {
		t.Fatalf("expected sandbox gone after delete, got %v", err)
	}
}
