/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package manifest

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/primus-safe/jupyter-kube-deploy/pkg/deploy"
	jerrors "github.com/primus-safe/jupyter-kube-deploy/pkg/errors"
)

const environmentConfigMapKey = "environment.yaml"

// EnvironmentConfigMapName returns the deterministic name of the ConfigMap
// holding the named conda environment for identityName.
func EnvironmentConfigMapName(identityName, envName string) string {
	return identityName + envConfigMapSuffix + envName
}

// BuildEnvironmentConfigMaps produces one ConfigMap per EnvironmentSpec.
// Environment names must be unique within envs; a duplicate is a
// ConfigInvalid error since it would collide on the same object name.
func BuildEnvironmentConfigMaps(namespace, identityName string, envs []deploy.EnvironmentSpec) ([]*corev1.ConfigMap, error) {
	seen := make(map[string]bool, len(envs))
	maps := make([]*corev1.ConfigMap, 0, len(envs))

	for _, env := range envs {
		if env.Name == "" {
			return nil, jerrors.NewConfigInvalid("environment name must not be empty")
		}
		if seen[env.Name] {
			return nil, jerrors.NewConfigInvalid("duplicate environment name: " + env.Name)
		}
		seen[env.Name] = true

		maps = append(maps, &corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{
				Name:      EnvironmentConfigMapName(identityName, env.Name),
				Namespace: namespace,
				Labels: mergeLabels(baseLabels(identityName), map[string]string{
					TypeLabel:            TypeCondaEnvironment,
					EnvironmentNameLabel: env.Name,
				}),
			},
			BinaryData: map[string][]byte{
				environmentConfigMapKey: env.Body,
			},
		})
	}
	return maps, nil
}

func mergeLabels(a, b map[string]string) map[string]string {
	merged := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		merged[k] = v
	}
	for k, v := range b {
		merged[k] = v
	}
	return merged
}
