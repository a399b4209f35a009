/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package deploy holds the data types shared across the deployment core:
// the caller-supplied config, the progress-event stream, and the small sum
// types the Reconciler and Lifecycle Supervisor pass between themselves.
package deploy

import "time"

// Config is the input to one deployment attempt (spec.md section 3,
// DeploymentConfig). It is built by the caller and immutable for the
// duration of the attempt.
type Config struct {
	ClusterConfigPath string
	Namespace         string
	Hardware          Hardware
	GitIdentity       GitIdentity
	Environments      []EnvironmentSpec
}

// Hardware is the user-entered resource request, pre-normalization.
type Hardware struct {
	CPU      string
	Memory   string
	GPUKind  string
	GPUCount int64
	Volumes  []VolumeMount
}

// VolumeMount binds an existing persistent volume claim into the workload.
type VolumeMount struct {
	ClaimName string
	MountPath string
}

// GitIdentity carries the optional git/SSH setup the workload's init
// tooling consumes. PrivateKey and KnownHosts are caller-supplied - the
// core ships no embedded known-hosts content (spec.md section 9).
type GitIdentity struct {
	User       string
	Email      string
	PrivateKey []byte
	KnownHosts []byte
	EnableSSH  bool
}

// EnvironmentSpec is one opaque conda-environment YAML blob. Name must be
// unique within a Config.
type EnvironmentSpec struct {
	Name string
	Body []byte
}

// ReconcileOutcome is the explicit sum type called for in spec.md section 9
// ("error-for-control-flow") in place of a sentinel error.
type ReconcileOutcome int

const (
	OutcomeCreated ReconcileOutcome = iota
	OutcomeReattachHealthy
	OutcomeReattachStarting
	OutcomeReplaced
	OutcomeStuckTerminating
)

func (o ReconcileOutcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeReattachHealthy:
		return "reattach-healthy"
	case OutcomeReattachStarting:
		return "reattach-starting"
	case OutcomeReplaced:
		return "replaced"
	case OutcomeStuckTerminating:
		return "stuck-terminating"
	default:
		return "unknown"
	}
}

// Reattached reports whether the outcome means an existing workload was
// kept rather than freshly created.
func (o ReconcileOutcome) Reattached() bool {
	return o == OutcomeReattachHealthy || o == OutcomeReattachStarting
}

// Healthy reports whether the outcome is eligible for the fast-reconnect
// path (spec.md section 4.6: "On HealthyRunning reattach, take the fast
// path").
func (o ReconcileOutcome) Healthy() bool {
	return o == OutcomeReattachHealthy
}

// WorkloadPhase mirrors the cluster-reported pod phase.
type WorkloadPhase string

const (
	WorkloadPending   WorkloadPhase = "Pending"
	WorkloadRunning   WorkloadPhase = "Running"
	WorkloadSucceeded WorkloadPhase = "Succeeded"
	WorkloadFailed    WorkloadPhase = "Failed"
	WorkloadUnknown   WorkloadPhase = "Unknown"
)

// PodObservation is the projection of pod status described in spec.md
// section 4.6 ("observe-pod -> ensure-ready").
type PodObservation struct {
	Phase        WorkloadPhase
	Ready        bool
	RestartCount int32
	IP           string
	StartTime    *time.Time
	Conditions   []string
	// TerminationMessage is set only when Phase is WorkloadFailed and a
	// container supplies one.
	TerminationMessage string
}

// DeploymentPhase is the ordered, monotone progress enum from spec.md
// section 3.
type DeploymentPhase string

const (
	PhaseInitializing         DeploymentPhase = "initializing"
	PhaseValidatingConnection DeploymentPhase = "validating-connection"
	PhaseCreatingDeployment   DeploymentPhase = "creating-deployment"
	PhaseWaitingForPod        DeploymentPhase = "waiting-for-pod"
	PhaseWaitingForReady      DeploymentPhase = "waiting-for-ready"
	PhaseSettingUpAccess      DeploymentPhase = "setting-up-access"
	PhaseReady                DeploymentPhase = "ready"
	PhaseError                DeploymentPhase = "error"
	PhaseCancelled            DeploymentPhase = "cancelled"
)

// phaseRank gives DeploymentPhase a total order for the monotonicity check
// in spec.md P4; error/cancelled are terminal and rank above every other
// phase so a single comparison catches "moved backward".
var phaseRank = map[DeploymentPhase]int{
	PhaseInitializing:         0,
	PhaseValidatingConnection: 1,
	PhaseCreatingDeployment:   2,
	PhaseWaitingForPod:        3,
	PhaseWaitingForReady:      4,
	PhaseSettingUpAccess:      5,
	PhaseReady:                6,
	PhaseError:                7,
	PhaseCancelled:            7,
}

// Rank returns the phase's position in the monotone ordering.
func (p DeploymentPhase) Rank() int {
	return phaseRank[p]
}

// Terminal reports whether the phase ends the attempt's forward progress.
// Error and Cancelled are always the last event; Ready can still be
// followed by one Error event if the pod is deleted afterwards.
func (p DeploymentPhase) Terminal() bool {
	return p == PhaseReady || p == PhaseError || p == PhaseCancelled
}

// ProgressEvent is one element of the outbound event stream (spec.md
// section 6).
type ProgressEvent struct {
	Phase      DeploymentPhase `json:"phase"`
	Progress   int             `json:"progress"`
	Message    string          `json:"message"`
	PodName    string          `json:"podName,omitempty"`
	PodStatus  *PodObservation `json:"podStatus,omitempty"`
	JupyterURL string          `json:"jupyterUrl,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// PortForwardStatus is the port-forward session's state machine position.
type PortForwardStatus string

const (
	PortForwardStopped  PortForwardStatus = "stopped"
	PortForwardStarting PortForwardStatus = "starting"
	PortForwardRunning  PortForwardStatus = "running"
	PortForwardErrored  PortForwardStatus = "error"
)

// PortForwardConfig identifies one forwarding triple.
type PortForwardConfig struct {
	Workload   string
	LocalPort  int
	RemotePort int
}

// PortForwardReport is returned by portforward.Session.Status().
type PortForwardReport struct {
	Status            PortForwardStatus
	IsActive          bool
	RestartCount      int
	AutoRestart       bool
	RestartInProgress bool
	Starting          bool
	Config            *PortForwardConfig
}
