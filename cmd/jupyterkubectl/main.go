/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Command jupyterkubectl drives one deployment attempt against a real
// cluster and renders the progress-event stream to stdout as
// newline-delimited JSON, the external-presentation stand-in described in
// SPEC_FULL.md section 6.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"k8s.io/klog/v2"

	"github.com/primus-safe/jupyter-kube-deploy/pkg/deploy"
	"github.com/primus-safe/jupyter-kube-deploy/pkg/supervisor"
)

var (
	kubeconfig = flag.String("kubeconfig", "", "path to the cluster config file; empty uses client-go's default loading rules")
	namespace  = flag.String("namespace", "", "target namespace; empty resolves from the kubeconfig context, then falls back to the configured default")
	cpu        = flag.String("cpu", "1", "cpu quantity, e.g. \"1\" or \"500m\"")
	memory     = flag.String("memory", "2Gi", "memory quantity, e.g. \"2Gi\" or \"512Mi\"")
	gpuKind    = flag.String("gpu", "none", "gpu selector, e.g. \"a100\", \"any-gpu\", or \"none\"")
	gpuCount   = flag.Int64("gpu-count", 0, "gpu count; must be 0 when gpu=none and >=1 otherwise")
	localPort  = flag.Int("local-port", 18888, "local TCP port to bind to the notebook's remote port")
	gitUser    = flag.String("git-user", "", "git user.name to configure inside the workload")
	gitEmail   = flag.String("git-email", "", "git user.email to configure inside the workload")
	cleanup    = flag.String("cleanup", "", "workload name to tear down instead of deploying; every other flag, kubeconfig and namespace included, is ignored: cleanup uses client-go's default loading rules and that context's namespace")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *cleanup != "" {
		s := supervisor.New()
		if err := s.Cleanup(ctx, *cleanup); err != nil {
			klog.ErrorS(err, "cleanup failed", "workload", *cleanup)
			os.Exit(1)
		}
		return
	}

	cfg := deploy.Config{
		ClusterConfigPath: *kubeconfig,
		Namespace:         *namespace,
		Hardware: deploy.Hardware{
			CPU:      *cpu,
			Memory:   *memory,
			GPUKind:  *gpuKind,
			GPUCount: *gpuCount,
		},
		GitIdentity: deploy.GitIdentity{
			User:  *gitUser,
			Email: *gitEmail,
		},
	}

	s := supervisor.New()
	events, err := s.Deploy(ctx, *kubeconfig, cfg, *localPort)
	if err != nil {
		klog.ErrorS(err, "failed to start deployment")
		os.Exit(1)
	}

	encoder := json.NewEncoder(os.Stdout)
	exitCode := 0
	for event := range events {
		if err := encoder.Encode(event); err != nil {
			klog.ErrorS(err, "failed to encode progress event")
		}
		if event.Phase == deploy.PhaseError {
			exitCode = 1
		}
	}

	if ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, "jupyterkubectl: interrupted")
	}
	os.Exit(exitCode)
}
