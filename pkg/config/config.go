/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package config holds the small set of process-wide knobs the deployment
// core needs: cluster-config location, default namespace, and timeouts. It
// is deliberately not a general-purpose config framework - local persistent
// configuration storage is out of scope for this core (see spec.md, section 6).
package config

import (
	"os"
	"sync"
	"time"
)

var (
	mu     sync.RWMutex
	values = map[string]string{}
)

// SetValue overrides a key for the lifetime of the process. Intended for
// tests; production code should set the corresponding environment variable
// before the process starts.
func SetValue(key, value string) {
	mu.Lock()
	defer mu.Unlock()
	values[key] = value
}

func getValue(key string) string {
	mu.RLock()
	if v, ok := values[key]; ok {
		mu.RUnlock()
		return v
	}
	mu.RUnlock()
	return os.Getenv(key)
}

const (
	envClusterConfigPath = "JUPYTER_KUBE_CLUSTER_CONFIG"
	envDefaultNamespace  = "JUPYTER_KUBE_NAMESPACE"
)

// ClusterConfigPath returns the configured kubeconfig path, or "" if unset -
// callers fall back to client-go's own default loading rules.
func ClusterConfigPath() string {
	return getValue(envClusterConfigPath)
}

// DefaultNamespace returns the operator-configured fallback namespace, used
// only when neither the caller nor the current context supplies one.
func DefaultNamespace() string {
	if v := getValue(envDefaultNamespace); v != "" {
		return v
	}
	return "default"
}

// Timeouts bundles the bounded waits named throughout section 5 of the spec.
type Timeouts struct {
	ConnectRetries       int
	ConnectBackoffBase   time.Duration
	ReadyTimeout         time.Duration
	TerminatingDrain     time.Duration
	UnusableDeleteDrain  time.Duration
	PortForwardRetryBase time.Duration
	PortForwardRetryCap  time.Duration
}

// DefaultTimeouts returns the section-5 defaults. The values are fixed and
// no caller can override them: the Lifecycle Supervisor reads ReadyTimeout
// and the Reconciler reads UnusableDeleteDrain from here, and no package
// reads the other fields.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		ConnectRetries:       3,
		ConnectBackoffBase:   time.Second,
		ReadyTimeout:         300 * time.Second,
		TerminatingDrain:     3 * time.Second,
		UnusableDeleteDrain:  5 * time.Second,
		PortForwardRetryBase: time.Second,
		PortForwardRetryCap:  30 * time.Second,
	}
}
