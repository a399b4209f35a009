/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package supervisor drives one deployment attempt end to end: validate the
// cluster connection, ensure the workload and its secrets exist, wait for
// the pod to come ready, and bind a local port to it. Progress is reported
// as a stream of monotone deploy.ProgressEvent values, mirroring the
// async goroutine chain the teacher's CD handler uses for its own
// deploy-wait-verify pipeline.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/klog/v2"

	"github.com/primus-safe/jupyter-kube-deploy/pkg/config"
	"github.com/primus-safe/jupyter-kube-deploy/pkg/deploy"
	jerrors "github.com/primus-safe/jupyter-kube-deploy/pkg/errors"
	"github.com/primus-safe/jupyter-kube-deploy/pkg/identity"
	"github.com/primus-safe/jupyter-kube-deploy/pkg/k8sclient"
	"github.com/primus-safe/jupyter-kube-deploy/pkg/manifest"
	"github.com/primus-safe/jupyter-kube-deploy/pkg/normalizer"
	"github.com/primus-safe/jupyter-kube-deploy/pkg/portforward"
	"github.com/primus-safe/jupyter-kube-deploy/pkg/reconciler"
)

// notebookRemotePort is the in-cluster container port the port-forward
// session tunnels to (spec.md section 6: "Container port name: jupyter,
// port 8888").
const notebookRemotePort = 8888

// readyTimeout is the absolute 300s ceiling from spec.md section 5 ("pod
// readiness: 300s absolute"), read from pkg/config's DefaultTimeouts. That
// value is a fixed default; no setting overrides it.
func readyTimeout() time.Duration {
	return config.DefaultTimeouts().ReadyTimeout
}

// Supervisor runs at most one deployment at a time. A second call to Deploy
// while one is already in flight returns ConfigInvalid immediately rather
// than queuing or interleaving progress events from two attempts.
type Supervisor struct {
	inFlight atomic.Bool

	mu             sync.Mutex
	session        *portforward.Session
	lastKubeconfig string
	lastNamespace  string

	// connect and setupAccess are overridden in tests to substitute a fake
	// cluster and a no-op access step; production code always uses the
	// defaults New installs: k8sclient.New and Supervisor.startPortForward.
	connect     func(ctx context.Context, kubeconfigPath, namespace string) (*k8sclient.Client, error)
	setupAccess func(ctx context.Context, client *k8sclient.Client, podName string, localPort int) (string, error)
}

// New creates an idle Supervisor.
func New() *Supervisor {
	s := &Supervisor{connect: k8sclient.New}
	s.setupAccess = s.startPortForward
	return s
}

// Deploy starts one deployment attempt in the background and returns a
// channel of progress events. After an Error or Cancelled event the channel
// is closed. After a Ready event it stays open while the pod is watched: it
// is closed when ctx is done, or after one further Error event if the pod
// is deleted. A second Deploy is rejected until the channel has been
// closed. kubeconfigPath's content
// determines the workload's WorkloadIdentity (see pkg/identity); it does
// not need to be passed again by the caller once the deployment begins.
func (s *Supervisor) Deploy(ctx context.Context, kubeconfigPath string, cfg deploy.Config, localPort int) (<-chan deploy.ProgressEvent, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, jerrors.NewConfigInvalid("a deployment is already in progress")
	}

	events := make(chan deploy.ProgressEvent, 8)
	go func() {
		defer s.inFlight.Store(false)
		defer close(events)
		s.run(ctx, kubeconfigPath, cfg, localPort, events)
	}()
	return events, nil
}

// Stop tears down the active port-forward session, if any. It does not
// delete the workload: the notebook keeps running and a later Deploy call
// with the same cluster config reattaches to it. Use Cleanup to also
// remove the workload and its secrets/configmaps.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	if session != nil {
		session.Stop()
	}
}

// Cleanup implements the external cleanup(workloadName) interface (spec.md
// section 6) and its section 4.6 algorithm: stop the active port-forward,
// delete the workload (ignoring NotFound), and best-effort delete the fixed
// git/SSH secrets plus any conda-environment ConfigMaps labeled for this
// workload. It reconnects using the kubeconfig/namespace from the most
// recent Deploy call, since the Supervisor does not otherwise keep a
// connection open between attempts.
func (s *Supervisor) Cleanup(ctx context.Context, workloadName string) error {
	s.Stop()

	s.mu.Lock()
	kubeconfigPath := s.lastKubeconfig
	namespace := s.lastNamespace
	s.mu.Unlock()

	client, err := s.connect(ctx, kubeconfigPath, namespace)
	if err != nil {
		return err
	}

	if err := client.DeleteWorkload(ctx, workloadName); err != nil {
		return err
	}

	if err := client.DeleteSecret(ctx, manifest.GitSSHSecretName); err != nil {
		klog.Warningf("supervisor: cleanup: failed to delete secret %s: %v", manifest.GitSSHSecretName, err)
	}
	if err := client.DeleteSecret(ctx, manifest.GitIdentitySecretName); err != nil {
		klog.Warningf("supervisor: cleanup: failed to delete secret %s: %v", manifest.GitIdentitySecretName, err)
	}
	if err := client.DeleteConfigMapsByLabel(ctx, manifest.EnvironmentConfigMapSelector(workloadName)); err != nil {
		klog.Warningf("supervisor: cleanup: failed to delete environment configmaps for %s: %v", workloadName, err)
	}
	return nil
}

func (s *Supervisor) run(ctx context.Context, kubeconfigPath string, cfg deploy.Config, localPort int, events chan<- deploy.ProgressEvent) {
	emit := func(phase deploy.DeploymentPhase, progress int, message string) {
		events <- deploy.ProgressEvent{Phase: phase, Progress: progress, Message: message}
	}
	// fail reports err as the attempt's terminal event. Cancellation is
	// terminal but not an error (spec.md section 7): it surfaces as
	// phase:cancelled with no Error field, while every other code surfaces
	// as phase:error.
	fail := func(err error) {
		if jerrors.Is(err, jerrors.Cancelled) {
			events <- deploy.ProgressEvent{Phase: deploy.PhaseCancelled, Progress: 100, Message: err.Error()}
			return
		}
		events <- deploy.ProgressEvent{Phase: deploy.PhaseError, Progress: 100, Message: err.Error(), Error: err.Error()}
	}

	emit(deploy.PhaseInitializing, 0, "resolving workload identity")
	id := identity.Derive(kubeconfigPath)
	if id.Degraded {
		klog.Warningf("supervisor: proceeding with degraded identity for %s", kubeconfigPath)
	}

	res, err := normalizer.Normalize(cfg.Hardware.CPU, cfg.Hardware.Memory, cfg.Hardware.GPUKind, cfg.Hardware.GPUCount)
	if err != nil {
		fail(err)
		return
	}

	emit(deploy.PhaseValidatingConnection, 10, "validating cluster connection")
	client, err := s.connect(ctx, kubeconfigPath, cfg.Namespace)
	if err != nil {
		fail(err)
		return
	}
	s.mu.Lock()
	s.lastKubeconfig = kubeconfigPath
	s.lastNamespace = client.Namespace
	s.mu.Unlock()

	emit(deploy.PhaseCreatingDeployment, 25, "ensuring secrets and workload")
	if err := reconciler.EnsureSecrets(ctx, client, id.Name, cfg.GitIdentity, cfg.Environments); err != nil {
		fail(err)
		return
	}

	envNames := make([]string, 0, len(cfg.Environments))
	for _, e := range cfg.Environments {
		envNames = append(envNames, e.Name)
	}

	podPhase := func(ctx context.Context, podName string) (deploy.WorkloadPhase, error) {
		return reconciler.PodPhase(ctx, client, podName)
	}
	outcome, err := reconciler.EnsureWorkload(ctx, client, id.Name, res, cfg.GitIdentity, cfg.Hardware.Volumes, envNames, podPhase)
	if err != nil {
		fail(err)
		return
	}
	klog.InfoS("supervisor: reconciled workload", "identity", id.Name, "outcome", outcome.String())

	podName := reconciler.ResolvePodName(ctx, client, id.Name)

	// Fast path: a healthy reattach skips straight to setting up access,
	// since waiting-for-pod/waiting-for-ready have already happened in a
	// prior attempt.
	var podEvents <-chan *corev1.Pod
	if !outcome.Healthy() {
		emit(deploy.PhaseWaitingForPod, 40, "waiting for pod to be scheduled")
		watched, err := s.observeUntilReady(ctx, client, podName, emit)
		if err != nil {
			fail(err)
			return
		}
		podEvents = watched
	}

	emit(deploy.PhaseSettingUpAccess, 85, "binding local port")
	jupyterURL, err := s.setupAccess(ctx, client, podName, localPort)
	if err != nil {
		fail(err)
		return
	}

	if podEvents == nil {
		podEvents = client.WatchPod(ctx, podName)
	}

	events <- deploy.ProgressEvent{
		Phase:      deploy.PhaseReady,
		Progress:   100,
		Message:    "notebook ready",
		PodName:    podName,
		JupyterURL: jupyterURL,
	}

	s.monitorPostReady(ctx, podEvents, podName, events)
}

// observeUntilReady consumes client.WatchPod's event stream from the
// ensure-workload->observe-pod transition through ensure-ready (spec.md
// section 4.6), replacing a fixed poll loop with the watch subscription the
// spec calls out as this system's central engineering problem. It returns
// the still-open event channel so the caller can keep consuming it for
// post-ready DELETED detection instead of opening a second watch.
func (s *Supervisor) observeUntilReady(ctx context.Context, client *k8sclient.Client, podName string, emit func(deploy.DeploymentPhase, int, string)) (<-chan *corev1.Pod, error) {
	podEvents := client.WatchPod(ctx, podName)

	deadline := time.NewTimer(readyTimeout())
	defer deadline.Stop()

	announcedWaitingForReady := false
	for {
		select {
		case pod, ok := <-podEvents:
			if !ok {
				if ctx.Err() != nil {
					return nil, jerrors.NewCancelled("deployment cancelled while waiting for pod")
				}
				return nil, jerrors.NewReadyTimeout("pod watch for " + podName + " closed unexpectedly")
			}
			if pod == nil {
				return nil, jerrors.NewPodDeletedExternally("pod " + podName + " was deleted while waiting for readiness")
			}
			if !announcedWaitingForReady {
				emit(deploy.PhaseWaitingForReady, 60, "waiting for notebook to become ready")
				announcedWaitingForReady = true
			}
			switch reconciler.ClassifyPod(pod) {
			case deploy.WorkloadRunning:
				return podEvents, nil
			case deploy.WorkloadFailed:
				return nil, jerrors.NewPodFailed("pod " + podName + " reported Failed")
			}
		case <-deadline.C:
			return nil, jerrors.NewReadyTimeout("timed out waiting for pod " + podName + " to become ready")
		case <-ctx.Done():
			return nil, jerrors.NewCancelled("deployment cancelled while waiting for pod")
		}
	}
}

// monitorPostReady keeps consuming podEvents after the terminal Ready event
// has been sent, so a pod deleted after deployment is still caught (spec.md
// section 4.6: "A DELETED event at any time stops the port-forward
// immediately and transitions to error"). Reporting error after ready does
// not violate the progress-event monotonicity invariant (P4): error outranks
// ready in phaseRank.
func (s *Supervisor) monitorPostReady(ctx context.Context, podEvents <-chan *corev1.Pod, podName string, events chan<- deploy.ProgressEvent) {
	for {
		select {
		case pod, ok := <-podEvents:
			if !ok {
				return
			}
			if pod == nil {
				s.Stop()
				err := jerrors.NewPodDeletedExternally("pod " + podName + " was deleted externally")
				events <- deploy.ProgressEvent{Phase: deploy.PhaseError, Progress: 100, Message: err.Error(), Error: err.Error(), PodName: podName}
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// startPortForward starts the port-forward session and returns the local
// notebook URL. It is the default implementation of Supervisor.setupAccess.
func (s *Supervisor) startPortForward(ctx context.Context, client *k8sclient.Client, podName string, localPort int) (string, error) {
	cfg := deploy.PortForwardConfig{Workload: podName, LocalPort: localPort, RemotePort: notebookRemotePort}
	session := portforward.New(client.Clientset, client.RestConfig, client.Namespace, podName, cfg, true)

	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	if err := session.Start(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf("http://127.0.0.1:%d", localPort), nil
}
