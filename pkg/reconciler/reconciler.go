/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package reconciler implements the "ensure workload exists and is usable"
// algorithm: read the cluster's current state for one identity, classify
// it, and act - create, reattach, drain-and-replace, or surface a terminal
// error - so that callers never have to special-case "already there" versus
// "just created".
package reconciler

import (
	"context"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/klog/v2"

	"github.com/primus-safe/jupyter-kube-deploy/pkg/config"
	"github.com/primus-safe/jupyter-kube-deploy/pkg/deploy"
	jerrors "github.com/primus-safe/jupyter-kube-deploy/pkg/errors"
	"github.com/primus-safe/jupyter-kube-deploy/pkg/k8sclient"
	"github.com/primus-safe/jupyter-kube-deploy/pkg/manifest"
	"github.com/primus-safe/jupyter-kube-deploy/pkg/normalizer"
)

// terminatingDrainBudget is the number of UnusableDeleteDrain intervals
// EnsureWorkload waits for a StatefulSet marked for deletion to actually
// disappear before giving up with StuckTerminating (spec.md section 4.3,
// "workload deletion drain: bounded ~5s before re-check").
const terminatingDrainBudget = 12

// EnsureSecrets idempotently creates or replaces every secret and
// ConfigMap the workload depends on. Secrets carry no identity worth
// preserving across a replace, unlike the workload itself, so this step
// never reads existing state first.
func EnsureSecrets(ctx context.Context, c *k8sclient.Client, identityName string, git deploy.GitIdentity, envs []deploy.EnvironmentSpec) error {
	if git.User != "" || git.Email != "" {
		if err := c.ApplySecret(ctx, manifest.BuildGitIdentitySecret(c.Namespace, identityName, git)); err != nil {
			return err
		}
	}
	if git.EnableSSH {
		secret, err := manifest.BuildGitSSHSecret(c.Namespace, identityName, git)
		if err != nil {
			return err
		}
		if err := c.ApplySecret(ctx, secret); err != nil {
			return err
		}
	}

	configMaps, err := manifest.BuildEnvironmentConfigMaps(c.Namespace, identityName, envs)
	if err != nil {
		return err
	}
	for _, cm := range configMaps {
		if err := c.ApplyConfigMap(ctx, cm); err != nil {
			return err
		}
	}
	return nil
}

// EnsureWorkload reads the existing StatefulSet for identityName, if any,
// and decides whether to reattach, replace, or create fresh:
//
//   - No existing workload: create one from the supplied spec and report
//     OutcomeCreated.
//   - Existing workload whose resource request matches the supplied spec:
//     reattach without touching the cluster. The outcome distinguishes a
//     pod already Running (OutcomeReattachHealthy, eligible for the fast
//     path) from one still starting (OutcomeReattachStarting).
//   - Existing workload with a different resource request: it is stale and
//     must be replaced. Delete it and wait for it to fully terminate
//     before creating the new one, since StatefulSet pod identity must
//     never be ambiguous between an old and new generation.
//   - Replaced workload still present after terminatingDrainBudget
//     UnusableDeleteDrain intervals: give up with a StuckTerminating error
//     rather than wait forever. An existing workload's deletion timestamp
//     is not inspected: one that is already terminating is classified by
//     its resource request like any other.
func EnsureWorkload(ctx context.Context, c *k8sclient.Client, identityName string, res normalizer.Resources, git deploy.GitIdentity, volumes []deploy.VolumeMount, envNames []string, podPhase func(context.Context, string) (deploy.WorkloadPhase, error)) (deploy.ReconcileOutcome, error) {
	existing, err := c.GetWorkload(ctx, manifest.WorkloadName(identityName))
	if err != nil && !jerrors.Is(err, jerrors.NotFound) {
		return 0, err
	}

	if err == nil && existing != nil {
		if sameResourceRequest(existing, res) {
			phase, err := podPhase(ctx, ResolvePodName(ctx, c, identityName))
			if err != nil {
				return 0, err
			}
			klog.InfoS("reconciler: reattaching existing workload", "identity", identityName, "phase", phase)
			if phase == deploy.WorkloadRunning {
				return deploy.OutcomeReattachHealthy, nil
			}
			return deploy.OutcomeReattachStarting, nil
		}

		klog.InfoS("reconciler: replacing stale workload", "identity", identityName)
		if err := drainExisting(ctx, c, manifest.WorkloadName(identityName)); err != nil {
			return 0, err
		}

		if err := create(ctx, c, identityName, res, git, volumes, envNames); err != nil {
			return 0, err
		}
		return deploy.OutcomeReplaced, nil
	}

	if err := create(ctx, c, identityName, res, git, volumes, envNames); err != nil {
		return 0, err
	}
	return deploy.OutcomeCreated, nil
}

func create(ctx context.Context, c *k8sclient.Client, identityName string, res normalizer.Resources, git deploy.GitIdentity, volumes []deploy.VolumeMount, envNames []string) error {
	sts, err := manifest.BuildWorkload(c.Namespace, identityName, res, git, volumes, envNames)
	if err != nil {
		return err
	}
	return c.CreateWorkload(ctx, sts)
}

// sameResourceRequest compares the existing StatefulSet's container
// resource requests against the freshly normalized request. A workload is
// only ever reattached when these match exactly; any drift means a new
// generation is required.
func sameResourceRequest(existing *appsv1.StatefulSet, res normalizer.Resources) bool {
	if len(existing.Spec.Template.Spec.Containers) == 0 {
		return false
	}
	want := res.ToResourceList()
	got := existing.Spec.Template.Spec.Containers[0].Resources.Requests
	if len(want) != len(got) {
		return false
	}
	for name, wantQty := range want {
		gotQty, ok := got[name]
		if !ok || !gotQty.Equal(wantQty) {
			return false
		}
	}
	return true
}

// drainExisting deletes the stale StatefulSet and polls until it is gone,
// returning StuckTerminating if it outlives terminatingDrainBudget
// UnusableDeleteDrain intervals.
func drainExisting(ctx context.Context, c *k8sclient.Client, name string) error {
	if err := c.DeleteWorkload(ctx, name); err != nil {
		return err
	}

	pollInterval := config.DefaultTimeouts().UnusableDeleteDrain
	deadline := time.Now().Add(pollInterval * terminatingDrainBudget)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		_, err := c.GetWorkload(ctx, name)
		if jerrors.Is(err, jerrors.NotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return jerrors.NewStuckTerminating("workload " + name + " did not finish terminating")
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return jerrors.NewCancelled("drain cancelled")
		}
	}
}

// ResolvePodName returns the pod name to observe for identityName's
// workload. Label-selector resolution (spec.md section 4.6: "the Supervisor
// resolves the pod by labels app=jupyter-kube, component=jupyterlab,
// instance=<workload> and picks the first returned pod") is the primary
// path; the deterministic StatefulSet pod-0 name is only a fast-path hint
// used when the label list comes back empty, e.g. before the pod exists.
func ResolvePodName(ctx context.Context, c *k8sclient.Client, identityName string) string {
	pods, err := c.ListPodsByLabel(ctx, manifest.WorkloadPodSelector(identityName))
	if err == nil && len(pods) > 0 {
		return pods[0].Name
	}
	return manifest.WorkloadName(identityName) + "-0"
}

// PodPhase reads the pod named podName and projects it into a
// deploy.WorkloadPhase (WorkloadUnknown when the pod does not exist), used
// as the default podPhase lookup for EnsureWorkload's reattach
// classification.
func PodPhase(ctx context.Context, c *k8sclient.Client, podName string) (deploy.WorkloadPhase, error) {
	pod, err := c.GetPod(ctx, podName)
	if jerrors.Is(err, jerrors.NotFound) {
		return deploy.WorkloadUnknown, nil
	}
	if err != nil {
		return "", err
	}
	return phaseOf(pod), nil
}

// ClassifyPod projects a *corev1.Pod the caller already holds (e.g. from a
// watch event) into a deploy.WorkloadPhase, the same classification PodPhase
// performs after its own GetPod round trip.
func ClassifyPod(pod *corev1.Pod) deploy.WorkloadPhase {
	return phaseOf(pod)
}

func phaseOf(pod *corev1.Pod) deploy.WorkloadPhase {
	switch pod.Status.Phase {
	case corev1.PodRunning:
		if isReady(pod) {
			return deploy.WorkloadRunning
		}
		return deploy.WorkloadPending
	case corev1.PodSucceeded:
		return deploy.WorkloadSucceeded
	case corev1.PodFailed:
		return deploy.WorkloadFailed
	default:
		return deploy.WorkloadPending
	}
}

func isReady(pod *corev1.Pod) bool {
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}
