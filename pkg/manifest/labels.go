/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package manifest assembles the Kubernetes API objects for one workload:
// its StatefulSet, its git/SSH secrets, and its per-environment ConfigMaps.
package manifest

import "k8s.io/apimachinery/pkg/labels"

const (
	// AppLabel/AppValue is carried by every object this package creates
	// (spec.md section 6, "bit-exact where compatibility matters").
	AppLabel = "app"
	AppValue = "jupyter-kube"

	// ComponentLabel is only set on the workload itself.
	ComponentLabel      = "component"
	ComponentJupyterLab = "jupyterlab"

	// InstanceLabel carries the owning WorkloadIdentity across every object
	// this package creates, and is what the Supervisor's label-selector pod
	// lookup (spec.md section 4.6) and Cleanup's labeled-configmap sweep
	// (section 4.6 step 4) both filter on.
	InstanceLabel = "instance"

	// TypeLabel/TypeCondaEnvironment mark conda-environment ConfigMaps so
	// Cleanup can find and delete them by label without knowing their names.
	TypeLabel            = "type"
	TypeCondaEnvironment = "conda-environment"

	EnvironmentNameLabel = "jupyter-kube-deploy.environment.name"

	envConfigMapSuffix = "-env-"

	sshPrivateKeyField = "id_rsa"
	sshKnownHostsField = "known_hosts"
	gitUserField       = "user.name"
	gitEmailField      = "user.email"

	// GitSSHSecretName and GitIdentitySecretName are fixed, not per-identity:
	// spec.md section 6 lists them as bit-exact persisted names, and section
	// 4.6's Cleanup step deletes them by these literal names.
	GitSSHSecretName      = "jupyter-ssh-key"
	GitIdentitySecretName = "jupyter-git-config"

	notebookContainerName = "jupyter"
	notebookPortName      = "jupyter"
	notebookPort          = 8888
)

// baseLabels returns the label set every object created for identityName
// carries.
func baseLabels(identityName string) map[string]string {
	return map[string]string{
		AppLabel:      AppValue,
		InstanceLabel: identityName,
	}
}

// workloadLabels is baseLabels plus the component label the workload (and
// only the workload) carries.
func workloadLabels(identityName string) map[string]string {
	return mergeLabels(baseLabels(identityName), map[string]string{
		ComponentLabel: ComponentJupyterLab,
	})
}

// WorkloadPodSelector returns the label selector spec.md section 4.6
// specifies as the primary pod-resolution path for identityName's workload:
// "app=jupyter-kube, component=jupyterlab, instance=<workload>".
func WorkloadPodSelector(identityName string) string {
	return labels.SelectorFromSet(workloadLabels(identityName)).String()
}

// EnvironmentConfigMapSelector returns the label selector Cleanup uses to
// find every conda-environment ConfigMap for identityName without knowing
// their names (spec.md section 4.6 step 4).
func EnvironmentConfigMapSelector(identityName string) string {
	return labels.SelectorFromSet(map[string]string{
		InstanceLabel: identityName,
		TypeLabel:     TypeCondaEnvironment,
	}).String()
}
