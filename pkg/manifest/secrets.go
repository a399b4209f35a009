/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package manifest

import (
	"golang.org/x/crypto/ssh"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/primus-safe/jupyter-kube-deploy/pkg/deploy"
	jerrors "github.com/primus-safe/jupyter-kube-deploy/pkg/errors"
)

// BuildGitIdentitySecret produces the user.name/user.email secret consumed
// by the workload's git configuration step. Its name is the fixed
// GitIdentitySecretName, not derived from identityName: spec.md section 6
// lists it as a bit-exact persisted name shared by every attempt in a
// namespace, and Cleanup deletes it by that same literal name.
func BuildGitIdentitySecret(namespace, identityName string, git deploy.GitIdentity) *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      GitIdentitySecretName,
			Namespace: namespace,
			Labels:    baseLabels(identityName),
		},
		Type: corev1.SecretTypeOpaque,
		StringData: map[string]string{
			gitUserField:  git.User,
			gitEmailField: git.Email,
		},
	}
}

// BuildGitSSHSecret validates git.PrivateKey as a parseable SSH private key
// and produces the secret holding it alongside the caller-supplied
// known_hosts content. Returns ConfigInvalid when the key does not parse.
// Its name is the fixed GitSSHSecretName for the same reason as
// BuildGitIdentitySecret's.
func BuildGitSSHSecret(namespace, identityName string, git deploy.GitIdentity) (*corev1.Secret, error) {
	if len(git.PrivateKey) == 0 {
		return nil, jerrors.NewConfigInvalid("ssh private key must not be empty when enableSSH is true")
	}
	if _, err := ssh.ParsePrivateKey(git.PrivateKey); err != nil {
		return nil, jerrors.NewConfigInvalid("invalid ssh private key: " + err.Error())
	}

	data := map[string][]byte{
		sshPrivateKeyField: git.PrivateKey,
	}
	if len(git.KnownHosts) > 0 {
		data[sshKnownHostsField] = git.KnownHosts
	}

	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      GitSSHSecretName,
			Namespace: namespace,
			Labels:    baseLabels(identityName),
		},
		Type: corev1.SecretTypeOpaque,
		Data: data,
	}, nil
}

// privateKeyFileMode is the bit-exact SSH private-key file mode spec.md
// section 6 requires for the secret volume mount.
const privateKeyFileMode = int32(0o600)
