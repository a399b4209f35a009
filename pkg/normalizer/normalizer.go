/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package normalizer converts user-entered CPU/memory/GPU values into
// canonical cluster-quantity strings, and classifies GPU selectors into
// vendor resource keys.
package normalizer

import (
	"regexp"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"

	jerrors "github.com/primus-safe/jupyter-kube-deploy/pkg/errors"
)

// cpuPattern accepts any string matching Kubernetes' relaxed quantity
// grammar for CPU: an amount, optionally followed by an SI/binary suffix.
var cpuPattern = regexp.MustCompile(`^([+-]?[0-9.]+)([eEinumkKMGTP]*[-+]?[0-9]*)$`)

// memoryUnitSuffix maps every case-insensitive unit alias accepted for
// memory to its canonical binary suffix. Decimal SI aliases (GB, MB, ...)
// intentionally map to binary suffixes (Gi, Mi, ...) - see Memory's doc
// comment and spec.md section 9 ("SI -> binary memory aliasing"); this is a
// preserved product decision, not a bug.
var memoryUnitSuffix = map[string]string{
	"":  "",
	"k": "Ki", "kb": "Ki", "ki": "Ki", "kib": "Ki",
	"m": "Mi", "mb": "Mi", "mi": "Mi", "mib": "Mi",
	"g": "Gi", "gb": "Gi", "gi": "Gi", "gib": "Gi",
	"t": "Ti", "tb": "Ti", "ti": "Ti", "tib": "Ti",
	"p": "Pi", "pb": "Pi", "pi": "Pi", "pib": "Pi",
	"e": "Ei", "eb": "Ei", "ei": "Ei", "eib": "Ei",
}

var memoryPattern = regexp.MustCompile(`^\s*([0-9]*\.?[0-9]+)\s?([a-zA-Z]*)\s*$`)

// gpuResourceKeys maps a GPU selector to the Kubernetes extended resource
// name the scheduler understands. Unknown selectors fall back to the
// generic "nvidia.com/gpu" key.
var gpuResourceKeys = map[string]string{
	"a40":       "nvidia.com/a40",
	"a100":      "nvidia.com/a100",
	"rtxa6000":  "nvidia.com/rtxa6000",
	"rtx8000":   "nvidia.com/rtx8000",
	"gh200":     "nvidia.com/gh200",
	"mig-small": "nvidia.com/mig-1g.5gb",
	"any-gpu":   "nvidia.com/gpu",
}

const defaultGPUResourceKey = "nvidia.com/gpu"

// Resources is the canonical, cluster-ready form of a user's hardware
// request.
type Resources struct {
	CPU         string
	Memory      string
	GPUResource corev1.ResourceName
	GPUCount    int64
}

// CPU validates and passes through a CPU quantity string unchanged.
func CPU(raw string) (string, error) {
	if raw == "" {
		return "", jerrors.NewConfigInvalid("cpu must not be empty")
	}
	if !cpuPattern.MatchString(raw) {
		return "", jerrors.NewConfigInvalid("invalid cpu quantity: " + raw)
	}
	if _, err := resource.ParseQuantity(raw); err != nil {
		return "", jerrors.NewConfigInvalid("invalid cpu quantity: " + raw)
	}
	return raw, nil
}

// Memory parses "<amount>[ ]?<unit>?" and emits "<amount><MappedSuffix>"
// using the closed unit set described in spec.md section 4.1. Decimal SI
// aliases map to binary suffixes: "4GB" becomes "4Gi", not 4*10^9 bytes.
func Memory(raw string) (string, error) {
	if raw == "" {
		return "", jerrors.NewConfigInvalid("memory must not be empty")
	}
	m := memoryPattern.FindStringSubmatch(raw)
	if m == nil {
		return "", jerrors.NewConfigInvalid("invalid memory quantity: " + raw)
	}
	amount, unit := m[1], strings.ToLower(m[2])
	suffix, ok := memoryUnitSuffix[unit]
	if !ok {
		return "", jerrors.NewConfigInvalid("invalid memory unit: " + raw)
	}
	canonical := amount + suffix
	if _, err := resource.ParseQuantity(canonical); err != nil {
		return "", jerrors.NewConfigInvalid("invalid memory quantity: " + raw)
	}
	return canonical, nil
}

// GPUResourceKey classifies a GPU selector into its vendor resource key.
// "none" carries no resource request and returns "".
func GPUResourceKey(gpuKind string) corev1.ResourceName {
	if gpuKind == "" || gpuKind == "none" {
		return ""
	}
	if key, ok := gpuResourceKeys[gpuKind]; ok {
		return corev1.ResourceName(key)
	}
	return corev1.ResourceName(defaultGPUResourceKey)
}

// Normalize validates cpu/memory/gpu together and returns their canonical
// cluster-quantity form. gpuCount must be 0 when gpuKind is "none" or ""
// and at least 1 otherwise; anything else is ConfigInvalid.
func Normalize(cpu, memory, gpuKind string, gpuCount int64) (Resources, error) {
	if gpuKind != "" && gpuKind != "none" && gpuCount < 1 {
		return Resources{}, jerrors.NewConfigInvalid("gpuCount must be >= 1 when gpu is requested")
	}
	if (gpuKind == "" || gpuKind == "none") && gpuCount != 0 {
		return Resources{}, jerrors.NewConfigInvalid("gpuCount must be 0 when gpu is none")
	}

	normalizedCPU, err := CPU(cpu)
	if err != nil {
		return Resources{}, err
	}
	normalizedMemory, err := Memory(memory)
	if err != nil {
		return Resources{}, err
	}

	res := Resources{CPU: normalizedCPU, Memory: normalizedMemory}
	if key := GPUResourceKey(gpuKind); key != "" {
		res.GPUResource = key
		res.GPUCount = gpuCount
	}
	return res, nil
}

// ToResourceList converts Resources into requests==limits ResourceList, the
// shape the Manifest Builder drops directly into a pod's container spec.
func (r Resources) ToResourceList() corev1.ResourceList {
	list := corev1.ResourceList{
		corev1.ResourceCPU:    resource.MustParse(r.CPU),
		corev1.ResourceMemory: resource.MustParse(r.Memory),
	}
	if r.GPUResource != "" {
		list[r.GPUResource] = *resource.NewQuantity(r.GPUCount, resource.DecimalSI)
	}
	return list
}
