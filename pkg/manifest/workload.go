/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package manifest

import (
	"encoding/json"
	"path/filepath"
	"strconv"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"

	"github.com/primus-safe/jupyter-kube-deploy/pkg/deploy"
	jerrors "github.com/primus-safe/jupyter-kube-deploy/pkg/errors"
	"github.com/primus-safe/jupyter-kube-deploy/pkg/normalizer"
)

// defaultNotebookImage is used when no image override is supplied. Today
// the core does not expose an image override, so this is the only image
// ever requested.
const defaultNotebookImage = "jupyter/scipy-notebook:latest"

// mountRoot is the fixed prefix every PVC mount is rewritten under (spec.md
// section 6, "PVC mount-path rewrite: /home/jovyan/main/<sanitized>").
const mountRoot = "/home/jovyan/main/"

// WorkloadName returns the deterministic StatefulSet name for identityName.
// Pod-0 of this StatefulSet is always named WorkloadName(identityName)+"-0".
func WorkloadName(identityName string) string {
	return identityName
}

// BuildWorkload assembles a single-replica StatefulSet. A StatefulSet
// rather than a Deployment is used so the pod name is deterministic
// ("<identity>-0"). The Lifecycle Supervisor resolves the pod by the
// label-selector lookup spec.md section 4.6 specifies as primary and uses
// this name only as the fallback when that lookup finds no pod.
func BuildWorkload(namespace, identityName string, res normalizer.Resources, git deploy.GitIdentity, volumes []deploy.VolumeMount, envNames []string) (*appsv1.StatefulSet, error) {
	volumeMounts, podVolumes, err := buildVolumes(volumes)
	if err != nil {
		return nil, err
	}

	envMounts, envVolumes := buildEnvironmentVolumes(identityName, envNames)
	volumeMounts = append(volumeMounts, envMounts...)
	podVolumes = append(podVolumes, envVolumes...)

	env, err := buildEnv(git, envNames)
	if err != nil {
		return nil, err
	}

	if git.User != "" || git.Email != "" {
		volumeMounts = append(volumeMounts, corev1.VolumeMount{
			Name:      "git-identity",
			MountPath: "/etc/jupyter-kube-deploy/git",
			ReadOnly:  true,
		})
		podVolumes = append(podVolumes, corev1.Volume{
			Name: "git-identity",
			VolumeSource: corev1.VolumeSource{
				Secret: &corev1.SecretVolumeSource{SecretName: GitIdentitySecretName},
			},
		})
	}
	if git.EnableSSH {
		volumeMounts = append(volumeMounts, corev1.VolumeMount{
			Name:      "git-ssh",
			MountPath: "/home/jovyan/.ssh",
			ReadOnly:  true,
		})
		podVolumes = append(podVolumes, corev1.Volume{
			Name: "git-ssh",
			VolumeSource: corev1.VolumeSource{
				Secret: &corev1.SecretVolumeSource{SecretName: GitSSHSecretName, DefaultMode: ptr.To(privateKeyFileMode)},
			},
		})
	}

	resourceList := res.ToResourceList()
	labels := workloadLabels(identityName)

	statefulSet := &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:      WorkloadName(identityName),
			Namespace: namespace,
			Labels:    labels,
		},
		Spec: appsv1.StatefulSetSpec{
			Replicas:    ptr.To(int32(1)),
			ServiceName: WorkloadName(identityName),
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{InstanceLabel: identityName},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyAlways,
					Containers: []corev1.Container{
						{
							Name:            notebookContainerName,
							Image:           defaultNotebookImage,
							ImagePullPolicy: corev1.PullAlways,
							Ports: []corev1.ContainerPort{
								{Name: notebookPortName, ContainerPort: notebookPort},
							},
							Env: env,
							Resources: corev1.ResourceRequirements{
								// Requests == limits: a per-user notebook gets exactly what
								// it asked for, never more, never less (no burst, no
								// overcommit).
								Requests: resourceList,
								Limits:   resourceList,
							},
							VolumeMounts: volumeMounts,
						},
					},
					Volumes: podVolumes,
				},
			},
		},
	}
	return statefulSet, nil
}

// buildEnv populates the four conditionally-present variables spec.md
// sections 4.3/6 require the workload's init tooling to read: GIT_USER_NAME,
// GIT_USER_EMAIL, SETUP_SSH_KEY, and CONDA_ENVIRONMENTS. CONDA_ENVIRONMENTS
// holds only the JSON-serialized list of environment names; the
// environment bodies are not in the variable but in the per-environment
// ConfigMaps mounted by buildEnvironmentVolumes.
func buildEnv(git deploy.GitIdentity, envNames []string) ([]corev1.EnvVar, error) {
	var env []corev1.EnvVar
	if git.User != "" {
		env = append(env, corev1.EnvVar{Name: "GIT_USER_NAME", Value: git.User})
	}
	if git.Email != "" {
		env = append(env, corev1.EnvVar{Name: "GIT_USER_EMAIL", Value: git.Email})
	}
	if git.EnableSSH {
		env = append(env, corev1.EnvVar{Name: "SETUP_SSH_KEY", Value: "true"})
	}
	if len(envNames) > 0 {
		encoded, err := json.Marshal(envNames)
		if err != nil {
			return nil, jerrors.NewConfigInvalid("failed to encode conda environment list: " + err.Error())
		}
		env = append(env, corev1.EnvVar{Name: "CONDA_ENVIRONMENTS", Value: string(encoded)})
	}
	return env, nil
}

// buildVolumes sanitizes and converts caller-supplied PVC mounts. Mount
// paths must be absolute and must not escape via "..", since they are
// rewritten under mountRoot and passed straight through to the pod spec.
func buildVolumes(volumes []deploy.VolumeMount) ([]corev1.VolumeMount, []corev1.Volume, error) {
	mounts := make([]corev1.VolumeMount, 0, len(volumes))
	podVolumes := make([]corev1.Volume, 0, len(volumes))
	seen := make(map[string]bool, len(volumes))

	for i, v := range volumes {
		if v.ClaimName == "" {
			return nil, nil, jerrors.NewConfigInvalid("volume claimName must not be empty")
		}
		if err := validateMountPath(v.MountPath); err != nil {
			return nil, nil, err
		}
		if seen[v.MountPath] {
			return nil, nil, jerrors.NewConfigInvalid("duplicate volume mountPath: " + v.MountPath)
		}
		seen[v.MountPath] = true

		name := volumeName(i)
		mounts = append(mounts, corev1.VolumeMount{Name: name, MountPath: containerMountPath(v.MountPath)})
		podVolumes = append(podVolumes, corev1.Volume{
			Name: name,
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: v.ClaimName},
			},
		})
	}
	return mounts, podVolumes, nil
}

// containerMountPath rewrites a validated, absolute user-supplied mountPath
// under mountRoot, stripping its leading slash (spec.md section 6).
func containerMountPath(mountPath string) string {
	return mountRoot + strings.TrimPrefix(mountPath, "/")
}

func validateMountPath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return jerrors.NewConfigInvalid("volume mountPath must be absolute: " + path)
	}
	if filepath.Clean(path) != path {
		return jerrors.NewConfigInvalid("volume mountPath must not contain '..' or redundant separators: " + path)
	}
	return nil
}

func volumeName(i int) string {
	return "data-" + strconv.Itoa(i)
}

func buildEnvironmentVolumes(identityName string, envNames []string) ([]corev1.VolumeMount, []corev1.Volume) {
	mounts := make([]corev1.VolumeMount, 0, len(envNames))
	volumes := make([]corev1.Volume, 0, len(envNames))
	for _, name := range envNames {
		volName := "env-" + name
		mounts = append(mounts, corev1.VolumeMount{
			Name:      volName,
			MountPath: "/etc/jupyter-kube-deploy/environments/" + name,
			ReadOnly:  true,
		})
		volumes = append(volumes, corev1.Volume{
			Name: volName,
			VolumeSource: corev1.VolumeSource{
				ConfigMap: &corev1.ConfigMapVolumeSource{
					LocalObjectReference: corev1.LocalObjectReference{Name: EnvironmentConfigMapName(identityName, name)},
				},
			},
		})
	}
	return mounts, volumes
}
