package janitor

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Object is a cluster object under janitor control: an unstructured resource
// plus the GroupVersionResource it was served from, which carries the plural
// endpoint used for include/exclude matching.
type Object struct {
	*unstructured.Unstructured

	GVR schema.GroupVersionResource
}

// NewObject wraps an unstructured object with its serving GVR.
func NewObject(u *unstructured.Unstructured, gvr schema.GroupVersionResource) *Object {
	return &Object{Unstructured: u, GVR: gvr}
}

// Endpoint returns the plural resource name, e.g. "deployments".
func (o *Object) Endpoint() string {
	return o.GVR.Resource
}

// FilterNamespace returns the namespace used for include/exclude matching.
// A Namespace object counts as its own namespace; for everything else this is
// the object's namespace, empty for non-namespaced objects.
func (o *Object) FilterNamespace() string {
	if o.GetKind() == "Namespace" {
		return o.GetName()
	}
	return o.GetNamespace()
}

// FullName returns "kind namespace/name" for log messages.
func (o *Object) FullName() string {
	if ns := o.GetNamespace(); ns != "" {
		return o.GetKind() + " " + ns + "/" + o.GetName()
	}
	return o.GetKind() + " " + o.GetName()
}

// ResourceType describes one namespaced resource kind served by the cluster,
// as reported by API discovery.
type ResourceType struct {
	GVR  schema.GroupVersionResource
	Kind string
}

// Cluster is the API surface the janitor drives. The production
// implementation lives in internal/cluster; tests substitute a fake.
type Cluster interface {
	// ListNamespaces lists all namespaces in the cluster.
	ListNamespaces(ctx context.Context) ([]*Object, error)

	// GetNamespace fetches a single namespace by name.
	GetNamespace(ctx context.Context, name string) (*Object, error)

	// NamespacedResourceTypes returns the namespaced resource kinds the
	// cluster currently serves.
	NamespacedResourceTypes(ctx context.Context) ([]ResourceType, error)

	// List lists objects of the given type in one namespace, or across all
	// namespaces when namespace is empty.
	List(ctx context.Context, rt ResourceType, namespace string) ([]*Object, error)

	// Delete removes an object with background cascading propagation.
	Delete(ctx context.Context, obj *Object) error

	// Update persists mutated object metadata (the notified flag).
	Update(ctx context.Context, obj *Object) error

	// CreateEvent creates an event in the event's namespace.
	CreateEvent(ctx context.Context, event *corev1.Event) error
}

// Context carries hook-supplied extra fields for one object, consulted by
// rule predicates.
type Context map[string]string

// ContextHook produces extra context for an object. The cache is scoped to a
// single clean-up run and is opaque to the janitor; hooks may use it to
// memoize lookups across objects.
type ContextHook func(obj *Object, cache map[string]any) Context

// Rule supplies a TTL for objects matching its predicate. Rules are evaluated
// in list order and the first match wins.
type Rule interface {
	ID() string
	TTL() string
	Matches(obj *Object, ctx Context) bool
}
