// Package notifier builds the cluster events kube-janitor emits before and
// at deletion, and rate-limits their creation per namespace.
package notifier

import (
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
)

const component = "kube-janitor"

// ObjectRef identifies the object an event is attached to.
type ObjectRef struct {
	APIVersion      string
	Kind            string
	Namespace       string
	Name            string
	ResourceVersion string
	UID             types.UID
}

// NewEvent builds a Normal-type event for the referenced object.
func NewEvent(ref ObjectRef, reason, message string, now time.Time) *corev1.Event {
	timestamp := metav1.NewTime(now)
	return &corev1.Event{
		ObjectMeta: metav1.ObjectMeta{
			GenerateName: component + "-",
			Namespace:    ref.Namespace,
		},
		Type:           corev1.EventTypeNormal,
		Count:          1,
		FirstTimestamp: timestamp,
		LastTimestamp:  timestamp,
		Reason:         reason,
		Message:        message,
		InvolvedObject: corev1.ObjectReference{
			APIVersion:      ref.APIVersion,
			Kind:            ref.Kind,
			Namespace:       ref.Namespace,
			Name:            ref.Name,
			ResourceVersion: ref.ResourceVersion,
			UID:             ref.UID,
		},
		Source: corev1.EventSource{Component: component},
	}
}
