/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package k8sclient

import (
	"context"
	"math/rand"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/klog/v2"
)

// WatchPod streams *corev1.Pod updates for the single pod named podName
// until ctx is cancelled, restarting the underlying watch with jittered
// backoff whenever the API server closes the channel - the server is free
// to close idle watches at any time, and every long-lived watch in this
// package uses the same restart-on-close idiom. A nil value on the channel
// means the pod was deleted.
func (c *Client) WatchPod(ctx context.Context, podName string) <-chan *corev1.Pod {
	out := make(chan *corev1.Pod)
	go c.runPodWatch(ctx, podName, out)
	return out
}

func (c *Client) runPodWatch(ctx context.Context, podName string, out chan<- *corev1.Pod) {
	defer close(out)

	for {
		w, err := c.startPodWatch(ctx, podName)
		if err != nil {
			klog.Warningf("k8sclient: failed to start pod watch for %s: %v", podName, err)
			if !sleepWithJitter(ctx) {
				return
			}
			continue
		}

		if !c.drainPodWatch(ctx, w, out) {
			return
		}
		if !sleepWithJitter(ctx) {
			return
		}
	}
}

func (c *Client) startPodWatch(ctx context.Context, podName string) (watch.Interface, error) {
	return c.Clientset.CoreV1().Pods(c.Namespace).Watch(ctx, metav1.ListOptions{
		FieldSelector:       fields.OneTermEqualSelector(metav1.ObjectNameField, podName).String(),
		AllowWatchBookmarks: false,
	})
}

// drainPodWatch forwards events until the result channel closes or ctx is
// done. Returns false when the caller should stop entirely (ctx cancelled).
func (c *Client) drainPodWatch(ctx context.Context, w watch.Interface, out chan<- *corev1.Pod) bool {
	defer w.Stop()
	for {
		select {
		case event, ok := <-w.ResultChan():
			if !ok {
				return true
			}
			switch event.Type {
			case watch.Added, watch.Modified:
				if pod, ok := event.Object.(*corev1.Pod); ok {
					select {
					case out <- pod:
					case <-ctx.Done():
						return false
					}
				}
			case watch.Deleted:
				select {
				case out <- nil:
				case <-ctx.Done():
					return false
				}
			case watch.Error:
				klog.Warning("k8sclient: pod watch error event")
			}
		case <-ctx.Done():
			return false
		}
	}
}

func sleepWithJitter(ctx context.Context) bool {
	jitter := time.Duration(1+rand.Intn(3)) * time.Second
	select {
	case <-time.After(jitter):
		return true
	case <-ctx.Done():
		return false
	}
}
