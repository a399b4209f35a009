/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package k8sclient

import (
	"context"
	"testing"

	"gotest.tools/assert"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	jerrors "github.com/primus-safe/jupyter-kube-deploy/pkg/errors"
)

func newFakeClient(namespace string) *Client {
	return &Client{Clientset: fake.NewSimpleClientset(), Namespace: namespace}
}

func TestGetPod_NotFoundMapsToNotFoundCode(t *testing.T) {
	c := newFakeClient("ns")
	_, err := c.GetPod(context.Background(), "missing-0")
	assert.Equal(t, jerrors.GetCode(err), jerrors.NotFound)
	assert.Equal(t, PodNotFound(err), true)
}

func TestCreateAndGetWorkload(t *testing.T) {
	c := newFakeClient("ns")
	sts := &appsv1.StatefulSet{ObjectMeta: metav1.ObjectMeta{Name: "wl", Namespace: "ns"}}
	assert.NilError(t, c.CreateWorkload(context.Background(), sts))

	got, err := c.GetWorkload(context.Background(), "wl")
	assert.NilError(t, err)
	assert.Equal(t, got.Name, "wl")
}

func TestDeleteWorkload_MissingIsNotAnError(t *testing.T) {
	c := newFakeClient("ns")
	assert.NilError(t, c.DeleteWorkload(context.Background(), "missing"))
}

func TestApplySecret_CreateThenReplace(t *testing.T) {
	c := newFakeClient("ns")
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "s", Namespace: "ns"},
		StringData: map[string]string{"a": "1"},
	}
	assert.NilError(t, c.ApplySecret(context.Background(), secret))

	secret.StringData["a"] = "2"
	assert.NilError(t, c.ApplySecret(context.Background(), secret))

	got, err := c.Clientset.CoreV1().Secrets("ns").Get(context.Background(), "s", metav1.GetOptions{})
	assert.NilError(t, err)
	assert.Equal(t, got.StringData["a"], "2")
}

func TestApplyConfigMap_CreateThenReplace(t *testing.T) {
	c := newFakeClient("ns")
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "cm", Namespace: "ns"},
		Data:       map[string]string{"k": "v1"},
	}
	assert.NilError(t, c.ApplyConfigMap(context.Background(), cm))

	cm.Data["k"] = "v2"
	assert.NilError(t, c.ApplyConfigMap(context.Background(), cm))

	got, err := c.Clientset.CoreV1().ConfigMaps("ns").Get(context.Background(), "cm", metav1.GetOptions{})
	assert.NilError(t, err)
	assert.Equal(t, got.Data["k"], "v2")
}

func TestListPodsByLabel_ReturnsOnlyMatchingPods(t *testing.T) {
	c := newFakeClient("ns")
	ctx := context.Background()
	_, err := c.Clientset.CoreV1().Pods("ns").Create(ctx, &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "wl-0", Namespace: "ns", Labels: map[string]string{"instance": "wl"}},
	}, metav1.CreateOptions{})
	assert.NilError(t, err)
	_, err = c.Clientset.CoreV1().Pods("ns").Create(ctx, &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "other-0", Namespace: "ns", Labels: map[string]string{"instance": "other"}},
	}, metav1.CreateOptions{})
	assert.NilError(t, err)

	pods, err := c.ListPodsByLabel(ctx, "instance=wl")
	assert.NilError(t, err)
	assert.Equal(t, len(pods), 1)
	assert.Equal(t, pods[0].Name, "wl-0")
}

func TestListPodsByLabel_NoMatchesReturnsEmptySlice(t *testing.T) {
	c := newFakeClient("ns")
	pods, err := c.ListPodsByLabel(context.Background(), "instance=missing")
	assert.NilError(t, err)
	assert.Equal(t, len(pods), 0)
}

func TestDeleteSecret_MissingIsNotAnError(t *testing.T) {
	c := newFakeClient("ns")
	assert.NilError(t, c.DeleteSecret(context.Background(), "missing-secret"))
}

func TestDeleteSecret_RemovesExisting(t *testing.T) {
	c := newFakeClient("ns")
	ctx := context.Background()
	secret := &corev1.Secret{ObjectMeta: metav1.ObjectMeta{Name: "s", Namespace: "ns"}}
	assert.NilError(t, c.ApplySecret(ctx, secret))

	assert.NilError(t, c.DeleteSecret(ctx, "s"))

	_, err := c.Clientset.CoreV1().Secrets("ns").Get(ctx, "s", metav1.GetOptions{})
	assert.Assert(t, err != nil)
}

func TestDeleteConfigMapsByLabel_DeletesAllMatchesAndIgnoresNone(t *testing.T) {
	c := newFakeClient("ns")
	ctx := context.Background()
	for _, name := range []string{"env-a", "env-b"} {
		_, err := c.Clientset.CoreV1().ConfigMaps("ns").Create(ctx, &corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "ns", Labels: map[string]string{"instance": "wl", "type": "conda-environment"}},
		}, metav1.CreateOptions{})
		assert.NilError(t, err)
	}
	_, err := c.Clientset.CoreV1().ConfigMaps("ns").Create(ctx, &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "keep", Namespace: "ns", Labels: map[string]string{"instance": "other"}},
	}, metav1.CreateOptions{})
	assert.NilError(t, err)

	assert.NilError(t, c.DeleteConfigMapsByLabel(ctx, "instance=wl,type=conda-environment"))

	list, err := c.Clientset.CoreV1().ConfigMaps("ns").List(ctx, metav1.ListOptions{})
	assert.NilError(t, err)
	assert.Equal(t, len(list.Items), 1)
	assert.Equal(t, list.Items[0].Name, "keep")
}
