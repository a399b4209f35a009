/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/primus-safe/jupyter-kube-deploy/pkg/deploy"
	jerrors "github.com/primus-safe/jupyter-kube-deploy/pkg/errors"
	"github.com/primus-safe/jupyter-kube-deploy/pkg/identity"
	"github.com/primus-safe/jupyter-kube-deploy/pkg/k8sclient"
)

func fakeConnect(namespace string) func(ctx context.Context, kubeconfigPath, ns string) (*k8sclient.Client, error) {
	return func(ctx context.Context, kubeconfigPath, ns string) (*k8sclient.Client, error) {
		if namespace == "" {
			namespace = "default"
		}
		return &k8sclient.Client{Clientset: fake.NewSimpleClientset(), Namespace: namespace}, nil
	}
}

func fakeReadySetup(url string) func(ctx context.Context, client *k8sclient.Client, podName string, localPort int) (string, error) {
	return func(ctx context.Context, client *k8sclient.Client, podName string, localPort int) (string, error) {
		return url, nil
	}
}

func drain(t *testing.T, events <-chan deploy.ProgressEvent, timeout time.Duration) []deploy.ProgressEvent {
	t.Helper()
	var got []deploy.ProgressEvent
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatal("timed out draining progress events")
			return got
		}
	}
}

func baseConfig() deploy.Config {
	return deploy.Config{
		ClusterConfigPath: "/dev/null",
		Namespace:         "ns",
		Hardware:          deploy.Hardware{CPU: "1", Memory: "1Gi", GPUKind: "none"},
	}
}

// TestDeploy_FreshWorkloadWithoutPod_EndsInTerminalEvent exercises the path
// where no pod ever appears in the fake cluster: observeUntilReady's watch
// never sees an event and the attempt's context expires, still driving the
// DeploymentPhase sequence through a terminal event.
func TestDeploy_FreshWorkloadWithoutPod_EndsInTerminalEvent(t *testing.T) {
	s := New()
	s.connect = fakeConnect("ns")
	s.setupAccess = fakeReadySetup("http://127.0.0.1:18888")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	events, err := s.Deploy(ctx, "/dev/null", baseConfig(), 18888)
	require.NoError(t, err)

	got := drain(t, events, 2*time.Second)
	require.NotEmpty(t, got)
	assert.Equal(t, deploy.PhaseInitializing, got[0].Phase)

	last := got[len(got)-1]
	assert.True(t, last.Phase.Terminal(), "last event %q should be terminal", last.Phase)
}

func TestDeploy_RejectsSecondCallWhileInFlight(t *testing.T) {
	s := New()
	s.connect = fakeConnect("ns")
	s.setupAccess = fakeReadySetup("http://127.0.0.1:18891")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	events, err := s.Deploy(ctx, "/dev/null", baseConfig(), 18891)
	require.NoError(t, err)

	_, err = s.Deploy(context.Background(), "/dev/null", baseConfig(), 18892)
	require.Error(t, err)
	assert.Equal(t, jerrors.ConfigInvalid, jerrors.GetCode(err))

	drain(t, events, 2*time.Second)
}

func TestDeploy_ConnectFailureEmitsTerminalError(t *testing.T) {
	s := New()
	s.connect = func(ctx context.Context, kubeconfigPath, ns string) (*k8sclient.Client, error) {
		return nil, jerrors.NewConnectAuth("bad credentials")
	}

	events, err := s.Deploy(context.Background(), "/dev/null", baseConfig(), 18893)
	require.NoError(t, err)

	got := drain(t, events, 2*time.Second)
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, deploy.PhaseError, last.Phase)
	assert.NotEmpty(t, last.Error)
}

func TestDeploy_ProgressNeverMovesBackward(t *testing.T) {
	s := New()
	s.connect = fakeConnect("ns")
	s.setupAccess = fakeReadySetup("http://127.0.0.1:18894")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	events, err := s.Deploy(ctx, "/dev/null", baseConfig(), 18894)
	require.NoError(t, err)

	got := drain(t, events, 2*time.Second)
	lastRank := -1
	for _, ev := range got {
		rank := ev.Phase.Rank()
		assert.GreaterOrEqual(t, rank, lastRank, "phase %q moved backward", ev.Phase)
		lastRank = rank
	}
}

func TestDeploy_CancelledContextYieldsCancelledPhase(t *testing.T) {
	s := New()
	s.connect = fakeConnect("ns")
	s.setupAccess = fakeReadySetup("http://127.0.0.1:18895")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events, err := s.Deploy(ctx, "/dev/null", baseConfig(), 18895)
	require.NoError(t, err)

	got := drain(t, events, 2*time.Second)
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, deploy.PhaseCancelled, last.Phase)
	assert.Empty(t, last.Error, "cancellation is terminal but not an error")
}

// TestDeploy_WatchDrivenReadyThenPostReadyDeletionEmitsError exercises the
// path comment (c)/(f) of the review wired up: the pod-name the Supervisor
// watches is resolved via ResolvePodName's deterministic fallback (no pod
// exists yet, so the label list comes back empty), the watch itself is what
// notices the pod turning Running, and a deletion after the terminal Ready
// event still produces a terminal error via monitorPostReady.
func TestDeploy_WatchDrivenReadyThenPostReadyDeletionEmitsError(t *testing.T) {
	id := identity.Derive("/dev/null")
	podName := id.Name + "-0"

	cs := fake.NewSimpleClientset()
	s := New()
	s.connect = func(ctx context.Context, kubeconfigPath, ns string) (*k8sclient.Client, error) {
		return &k8sclient.Client{Clientset: cs, Namespace: "ns"}, nil
	}
	s.setupAccess = fakeReadySetup("http://127.0.0.1:18899")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := s.Deploy(ctx, "/dev/null", baseConfig(), 18899)
	require.NoError(t, err)

	// Give the Supervisor time to reach observe-pod and subscribe its watch
	// before the pod exists, so the watch itself delivers the Added event.
	time.Sleep(100 * time.Millisecond)
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: podName, Namespace: "ns"},
		Status: corev1.PodStatus{
			Phase:      corev1.PodRunning,
			Conditions: []corev1.PodCondition{{Type: corev1.PodReady, Status: corev1.ConditionTrue}},
		},
	}
	_, err = cs.CoreV1().Pods("ns").Create(context.Background(), pod, metav1.CreateOptions{})
	require.NoError(t, err)

	for {
		ev, ok := <-events
		require.True(t, ok, "channel closed before a ready event arrived")
		if ev.Phase == deploy.PhaseReady {
			assert.Equal(t, podName, ev.PodName)
			break
		}
	}

	require.NoError(t, cs.CoreV1().Pods("ns").Delete(context.Background(), podName, metav1.DeleteOptions{}))

	got := drain(t, events, 3*time.Second)
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, deploy.PhaseError, last.Phase)
	assert.Contains(t, last.Error, "deleted")
}

func TestCleanup_DeletesWorkload(t *testing.T) {
	cs := fake.NewSimpleClientset()
	s := New()
	s.connect = func(ctx context.Context, kubeconfigPath, ns string) (*k8sclient.Client, error) {
		return &k8sclient.Client{Clientset: cs, Namespace: "ns"}, nil
	}

	_, err := cs.AppsV1().StatefulSets("ns").Create(context.Background(), &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{Name: "wl-1"},
	}, metav1.CreateOptions{})
	require.NoError(t, err)

	err = s.Cleanup(context.Background(), "wl-1")
	require.NoError(t, err)

	_, err = cs.AppsV1().StatefulSets("ns").Get(context.Background(), "wl-1", metav1.GetOptions{})
	assert.Error(t, err, "Cleanup must delete the workload")
}

func TestStop_WithNoActiveSession_DoesNotPanic(t *testing.T) {
	s := New()
	assert.NotPanics(t, func() { s.Stop() })
}

func TestDeploy_InvalidHardwareFailsBeforeConnecting(t *testing.T) {
	s := New()
	connected := false
	s.connect = func(ctx context.Context, kubeconfigPath, ns string) (*k8sclient.Client, error) {
		connected = true
		return &k8sclient.Client{Clientset: fake.NewSimpleClientset(), Namespace: "ns"}, nil
	}

	cfg := baseConfig()
	cfg.Hardware.CPU = "not-a-quantity"

	events, err := s.Deploy(context.Background(), "/dev/null", cfg, 18896)
	require.NoError(t, err)

	got := drain(t, events, 2*time.Second)
	require.NotEmpty(t, got)
	assert.Equal(t, deploy.PhaseError, got[len(got)-1].Phase)
	assert.False(t, connected, "Deploy must validate hardware before opening a cluster connection")
}
