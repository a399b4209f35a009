/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package portforward binds a local TCP port to a pod's remote port over
// an SPDY tunnel, the mechanism the Lifecycle Supervisor uses to expose a
// notebook's in-cluster port on the user's machine.
package portforward

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/portforward"
	"k8s.io/client-go/transport/spdy"
	"k8s.io/klog/v2"

	"github.com/primus-safe/jupyter-kube-deploy/pkg/deploy"
	jerrors "github.com/primus-safe/jupyter-kube-deploy/pkg/errors"
)

const (
	minBackoff = 1 * time.Second
	maxBackoff = 30 * time.Second

	// podReadCheckTimeout bounds the direct pod read run() performs before
	// each reconnect attempt (spec.md section 4.7).
	podReadCheckTimeout = 5 * time.Second
)

// Session is one port-forward binding. It owns a background goroutine that
// keeps the tunnel alive across pod restarts when AutoRestart is set.
type Session struct {
	clientset  kubernetes.Interface
	restConfig *rest.Config
	namespace  string
	podName    string
	config     deploy.PortForwardConfig

	autoRestart bool
	out, errOut io.Writer

	mu           sync.Mutex
	status       deploy.PortForwardStatus
	restartCount int
	restarting   bool
	starting     bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a Session bound to podName. The session does not connect
// until Start is called.
func New(clientset kubernetes.Interface, restConfig *rest.Config, namespace, podName string, cfg deploy.PortForwardConfig, autoRestart bool) *Session {
	return &Session{
		clientset:   clientset,
		restConfig:  restConfig,
		namespace:   namespace,
		podName:     podName,
		config:      cfg,
		autoRestart: autoRestart,
		out:         io.Discard,
		errOut:      io.Discard,
		status:      deploy.PortForwardStopped,
	}
}

// Start establishes the tunnel and blocks until it is ready or ctx is
// cancelled. Once ready, a background goroutine holds the tunnel open and,
// when AutoRestart is set, reconnects with capped exponential backoff if
// the pod connection drops.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	s.starting = true
	s.status = deploy.PortForwardStarting
	s.mu.Unlock()

	readyCh := make(chan struct{})
	errCh := make(chan error, 1)
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	s.stopOnce = sync.Once{}

	go s.run(stopCh, readyCh, errCh)

	select {
	case <-readyCh:
		s.mu.Lock()
		s.starting = false
		s.status = deploy.PortForwardRunning
		s.mu.Unlock()
		return nil
	case err := <-errCh:
		s.mu.Lock()
		s.starting = false
		s.status = deploy.PortForwardErrored
		s.mu.Unlock()
		return jerrors.NewPortForwardStart(err.Error())
	case <-ctx.Done():
		s.Stop()
		return jerrors.NewCancelled("port forward start cancelled")
	}
}

// run owns the forwarder lifecycle and its auto-restart loop. It runs until
// stopCh is closed.
func (s *Session) run(stopCh chan struct{}, firstReadyCh chan struct{}, firstErrCh chan error) {
	backoff := minBackoff
	first := true

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if !first && s.podAbortsRestart() {
			klog.Warningf("portforward: pod %s is Failed or gone, aborting auto-restart", s.podName)
			s.mu.Lock()
			s.status = deploy.PortForwardErrored
			s.mu.Unlock()
			return
		}

		_, forwarderStop, forwarderReady, forwarderErr, err := s.dial()
		if err != nil {
			if first {
				firstErrCh <- err
				return
			}
			klog.Warningf("portforward: dial failed for %s, retrying in %s: %v", s.podName, backoff, err)
			if !s.sleepOrStop(stopCh, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		select {
		case <-forwarderReady:
			backoff = minBackoff
			if first {
				close(firstReadyCh)
				first = false
			} else {
				s.mu.Lock()
				s.restartCount++
				s.restarting = false
				s.status = deploy.PortForwardRunning
				s.mu.Unlock()
			}
		case err := <-forwarderErr:
			close(forwarderStop)
			if first {
				firstErrCh <- err
				return
			}
			s.markRestarting()
			if !s.sleepOrStop(stopCh, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		case <-stopCh:
			close(forwarderStop)
			return
		}

		// Wait for the tunnel to fail or for an external stop, then either
		// restart (AutoRestart) or give up.
		select {
		case err := <-forwarderErr:
			klog.Warningf("portforward: tunnel for %s closed: %v", s.podName, err)
			close(forwarderStop)
			if !s.autoRestart {
				s.mu.Lock()
				s.status = deploy.PortForwardErrored
				s.mu.Unlock()
				return
			}
			s.markRestarting()
			if !s.sleepOrStop(stopCh, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
		case <-stopCh:
			close(forwarderStop)
			return
		}
	}
}

// podAbortsRestart performs the direct pod read spec.md section 4.7
// requires before each reconnect attempt, reporting whether the pod is
// Failed or gone - either of which should stop the auto-restart loop rather
// than keep retrying a tunnel to a pod that will never come back.
func (s *Session) podAbortsRestart() bool {
	ctx, cancel := context.WithTimeout(context.Background(), podReadCheckTimeout)
	defer cancel()

	pod, err := s.clientset.CoreV1().Pods(s.namespace).Get(ctx, s.podName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return true
	}
	if err != nil {
		// Transient read failure: keep retrying the tunnel rather than give
		// up on an ambiguous signal.
		return false
	}
	return pod.Status.Phase == corev1.PodFailed
}

func (s *Session) markRestarting() {
	s.mu.Lock()
	s.restarting = true
	s.status = deploy.PortForwardStarting
	s.mu.Unlock()
}

func (s *Session) sleepOrStop(stopCh chan struct{}, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-stopCh:
		return false
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// dial opens one SPDY tunnel attempt, returning channels mirroring
// portforward.ForwardPorts' readyCh/errCh contract.
func (s *Session) dial() (*portforward.PortForwarder, chan struct{}, <-chan struct{}, <-chan error, error) {
	transport, upgrader, err := spdy.RoundTripperFor(s.restConfig)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	restClient, err := rest.RESTClientFor(s.restConfig)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	url := restClient.Post().
		Resource("pods").
		Namespace(s.namespace).
		Name(s.podName).
		SubResource("portforward").
		URL()

	dialer := spdy.NewDialer(upgrader, &http.Client{Transport: transport}, http.MethodPost, url)

	forwarderStop := make(chan struct{})
	readyCh := make(chan struct{})
	ports := []string{fmt.Sprintf("%d:%d", s.config.LocalPort, s.config.RemotePort)}

	forwarder, err := portforward.NewOnAddresses(dialer, []string{"127.0.0.1"}, ports, forwarderStop, readyCh, s.out, s.errOut)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := forwarder.ForwardPorts(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	return forwarder, forwarderStop, readyCh, errCh, nil
}

// Stop tears down the tunnel. Safe to call multiple times.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
		}
		s.mu.Lock()
		s.status = deploy.PortForwardStopped
		s.mu.Unlock()
	})
}

// Status reports the session's current state for the progress/status API.
func (s *Session) Status() deploy.PortForwardReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.config
	return deploy.PortForwardReport{
		Status:            s.status,
		IsActive:          s.status == deploy.PortForwardRunning,
		RestartCount:      s.restartCount,
		AutoRestart:       s.autoRestart,
		RestartInProgress: s.restarting,
		Starting:          s.starting,
		Config:            &cfg,
	}
}
