/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package identity computes the stable per-user workload name from the
// byte content of a cluster-config file. The identity is intentionally
// independent of user identity and of the target namespace.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"k8s.io/klog/v2"
)

const (
	namePrefix = "jupyter-kube-"
	hashLen    = 10
)

// Identity is a derived WorkloadIdentity. Degraded is set when the cluster
// config file could not be read and the name was derived from a fallback
// source instead of file content - callers should log a warning but
// continue, per spec.md section 4.2.
type Identity struct {
	Name     string
	Degraded bool
}

// Derive computes "jupyter-kube-<hash10>" from the first 10 lowercase hex
// characters of SHA-256(bytes of the file at path). On I/O failure it falls
// back to hashing path+wall-clock time so the deployment can still proceed,
// flagging the result as degraded.
func Derive(path string) Identity {
	content, err := os.ReadFile(path)
	if err != nil {
		klog.Warningf("identity: failed to read cluster config %s, falling back to degraded identity: %v", path, err)
		fallback := fmt.Sprintf("%s||%d", path, time.Now().UnixNano())
		return Identity{Name: nameFromBytes([]byte(fallback)), Degraded: true}
	}
	return Identity{Name: nameFromBytes(content)}
}

func nameFromBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return namePrefix + hex.EncodeToString(sum[:])[:hashLen]
}
