// Package cluster implements the janitor's cluster API surface on top of the
// dynamic client, API discovery and the typed core client (events).
package cluster

import (
	"context"
	"strings"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"

	"github.com/vfabi/kube-janitor/internal/janitor"
)

var namespacesGVR = schema.GroupVersionResource{Version: "v1", Resource: "namespaces"}

// Client implements janitor.Cluster against a live API server.
type Client struct {
	logger    *zap.Logger
	dynamic   dynamic.Interface
	discovery discovery.DiscoveryInterface
	clientset kubernetes.Interface
}

// NewClient creates a Client from the three underlying clients.
func NewClient(dyn dynamic.Interface, disc discovery.DiscoveryInterface, clientset kubernetes.Interface, logger *zap.Logger) *Client {
	return &Client{
		logger:    logger.Named("cluster"),
		dynamic:   dyn,
		discovery: disc,
		clientset: clientset,
	}
}

// ListNamespaces lists all namespaces.
func (c *Client) ListNamespaces(ctx context.Context) ([]*janitor.Object, error) {
	list, err := c.dynamic.Resource(namespacesGVR).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	return wrapItems(list, namespacesGVR), nil
}

// GetNamespace fetches a single namespace by name.
func (c *Client) GetNamespace(ctx context.Context, name string) (*janitor.Object, error) {
	obj, err := c.dynamic.Resource(namespacesGVR).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, err
	}
	return janitor.NewObject(obj, namespacesGVR), nil
}

// NamespacedResourceTypes walks API discovery and returns every namespaced
// resource kind that supports list and delete. Sub-resources are skipped.
// The same kind can appear under multiple group/versions; the janitor
// deduplicates objects across them. Discovery can return partial results with
// an error; partial results are used and the error logged.
func (c *Client) NamespacedResourceTypes(ctx context.Context) ([]janitor.ResourceType, error) {
	_, lists, err := c.discovery.ServerGroupsAndResources()
	if err != nil {
		if len(lists) == 0 {
			return nil, err
		}
		c.logger.Warn("Partial discovery result", zap.Error(err))
	}

	var types []janitor.ResourceType
	for _, list := range lists {
		gv, parseErr := schema.ParseGroupVersion(list.GroupVersion)
		if parseErr != nil {
			c.logger.Warn("Failed to parse group version",
				zap.String("gv", list.GroupVersion),
				zap.Error(parseErr),
			)
			continue
		}
		for _, r := range list.APIResources {
			if strings.Contains(r.Name, "/") {
				continue
			}
			if !r.Namespaced {
				continue
			}
			if !hasVerbs(r.Verbs, "list", "delete") {
				continue
			}
			types = append(types, janitor.ResourceType{GVR: gv.WithResource(r.Name), Kind: r.Kind})
		}
	}
	return types, nil
}

// List lists objects of one resource type, in a single namespace or across
// all namespaces when namespace is empty.
func (c *Client) List(ctx context.Context, rt janitor.ResourceType, namespace string) ([]*janitor.Object, error) {
	var (
		list *unstructured.UnstructuredList
		err  error
	)
	if namespace == "" {
		list, err = c.dynamic.Resource(rt.GVR).List(ctx, metav1.ListOptions{})
	} else {
		list, err = c.dynamic.Resource(rt.GVR).Namespace(namespace).List(ctx, metav1.ListOptions{})
	}
	if err != nil {
		return nil, err
	}
	return wrapItems(list, rt.GVR), nil
}

// Delete removes the object with background cascading propagation, so
// dependents are removed regardless of which API version served the object.
func (c *Client) Delete(ctx context.Context, obj *janitor.Object) error {
	propagation := metav1.DeletePropagationBackground
	return c.resourceInterface(obj).Delete(ctx, obj.GetName(), metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
}

// Update persists the object's current state.
func (c *Client) Update(ctx context.Context, obj *janitor.Object) error {
	_, err := c.resourceInterface(obj).Update(ctx, obj.Unstructured, metav1.UpdateOptions{})
	return err
}

// CreateEvent creates an event in the event's namespace.
func (c *Client) CreateEvent(ctx context.Context, event *corev1.Event) error {
	_, err := c.clientset.CoreV1().Events(event.Namespace).Create(ctx, event, metav1.CreateOptions{})
	return err
}

func (c *Client) resourceInterface(obj *janitor.Object) dynamic.ResourceInterface {
	if ns := obj.GetNamespace(); ns != "" {
		return c.dynamic.Resource(obj.GVR).Namespace(ns)
	}
	return c.dynamic.Resource(obj.GVR)
}

func wrapItems(list *unstructured.UnstructuredList, gvr schema.GroupVersionResource) []*janitor.Object {
	objects := make([]*janitor.Object, 0, len(list.Items))
	for i := range list.Items {
		objects = append(objects, janitor.NewObject(&list.Items[i], gvr))
	}
	return objects
}

func hasVerbs(verbs metav1.Verbs, required ...string) bool {
	for _, want := range required {
		found := false
		for _, v := range verbs {
			if v == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
