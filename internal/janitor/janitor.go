// Package janitor implements the clean-up decision engine: it walks
// namespaces and namespaced resource kinds, evaluates TTL and expiry
// annotations (with rule-based TTL fallback), sends one advance warning per
// object, and deletes expired objects.
package janitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vfabi/kube-janitor/internal/annotations"
	"github.com/vfabi/kube-janitor/internal/notifier"
	"github.com/vfabi/kube-janitor/internal/timefmt"
)

// Event reasons attached to the cluster events the janitor creates.
const (
	reasonTTLExpired    = "TimeToLiveExpired"
	reasonExpiryReached = "ExpiryTimeReached"
	reasonNotification  = "DeleteNotification"
)

// Options configure a Janitor.
type Options struct {
	// DryRun logs intended mutations instead of performing them.
	DryRun bool

	// DeleteNotification is the lead time before the deletion deadline during
	// which a one-time warning event is emitted. Zero disables notifications.
	DeleteNotification time.Duration

	// DeploymentTimeAnnotation optionally names an annotation whose timestamp
	// overrides the creation time as the TTL age baseline.
	DeploymentTimeAnnotation string

	// WaitAfterDelete pauses the run after each deletion to throttle delete
	// throughput against the API server.
	WaitAfterDelete time.Duration

	// ContextHook supplies extra per-object context for rule matching.
	ContextHook ContextHook

	IncludeResources  []string
	ExcludeResources  []string
	IncludeNamespaces []string
	ExcludeNamespaces []string
}

// Janitor drives one synchronous clean-up run at a time. It holds no state
// between runs beyond the event rate limiter; all decisions derive from the
// objects themselves.
type Janitor struct {
	logger  *zap.Logger
	cluster Cluster
	rules   []Rule
	filter  *Filter
	events  *notifier.RateLimiter
	opts    Options

	// injected for deterministic tests
	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a Janitor. The rule list order is significant: the first
// matching rule wins. events may be nil to disable event rate limiting.
func New(cluster Cluster, rules []Rule, events *notifier.RateLimiter, logger *zap.Logger, opts Options) *Janitor {
	return &Janitor{
		logger:  logger.Named("janitor"),
		cluster: cluster,
		rules:   rules,
		filter:  NewFilter(opts.IncludeResources, opts.ExcludeResources, opts.IncludeNamespaces, opts.ExcludeNamespaces),
		events:  events,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
		sleep:   time.Sleep,
	}
}

// CleanUp performs one full traversal of the cluster and returns the
// aggregated run counters. A run is best effort: individual listing, delete
// and event failures are logged and skipped, never fatal.
func (j *Janitor) CleanUp(ctx context.Context) Counter {
	counter := Counter{}
	cache := map[string]any{}

	j.cleanUpNamespaces(ctx, counter, cache)

	for _, obj := range j.collectObjects(ctx) {
		counter.Update(j.handleResourceOnTTL(ctx, obj, cache))
		counter.Update(j.handleResourceOnExpiry(ctx, obj))
	}

	j.logger.Info("Clean up run completed: " + counter.Summary())
	return counter
}

// cleanUpNamespaces handles the Namespace kind itself, which uses a distinct
// enumeration path from the discovery-driven kinds.
func (j *Janitor) cleanUpNamespaces(ctx context.Context, counter Counter, cache map[string]any) {
	if !j.filter.ResourceTypeInScope("namespaces") {
		j.logger.Debug("Skipping resource type namespaces")
		return
	}

	var namespaces []*Object
	if j.filter.IncludesAllNamespaces() {
		all, err := j.cluster.ListNamespaces(ctx)
		if err != nil {
			j.logger.Error("Could not list namespaces", zap.Error(err))
			return
		}
		namespaces = all
	} else {
		for _, name := range j.filter.IncludedNamespaces() {
			ns, err := j.cluster.GetNamespace(ctx, name)
			if err != nil {
				j.logger.Error("Could not get namespace", zap.String("namespace", name), zap.Error(err))
				continue
			}
			namespaces = append(namespaces, ns)
		}
	}

	for _, ns := range namespaces {
		if !j.filter.Matches(ns) {
			j.logger.Debug("Skipping object", zap.String("object", ns.FullName()))
			continue
		}
		counter.Update(j.handleResourceOnTTL(ctx, ns, cache))
		counter.Update(j.handleResourceOnExpiry(ctx, ns))
	}
}

// objectID is the cross-endpoint identity of an object. The same object can
// be served under multiple API groups/versions; each identity is processed at
// most once per run.
type objectID struct {
	kind      string
	namespace string
	name      string
}

// collectObjects lists every in-scope namespaced kind and returns the unique,
// filter-matching objects.
func (j *Janitor) collectObjects(ctx context.Context) []*Object {
	types, err := j.cluster.NamespacedResourceTypes(ctx)
	if err != nil {
		j.logger.Error("Could not discover namespaced resource types", zap.Error(err))
		return nil
	}

	seen := map[objectID]bool{}
	var filtered []*Object

	for _, rt := range types {
		if !j.filter.ResourceTypeInScope(rt.GVR.Resource) {
			j.logger.Debug("Skipping resource type", zap.String("resource", rt.GVR.Resource))
			continue
		}

		objects, err := j.listResourceType(ctx, rt)
		if err != nil {
			j.logger.Error("Could not list objects",
				zap.String("resource", rt.GVR.Resource),
				zap.Error(err),
			)
			continue
		}

		for _, obj := range objects {
			id := objectID{kind: obj.GetKind(), namespace: obj.GetNamespace(), name: obj.GetName()}
			if seen[id] {
				continue
			}
			seen[id] = true

			if j.filter.Matches(obj) {
				filtered = append(filtered, obj)
			} else {
				j.logger.Debug("Skipping object", zap.String("object", obj.FullName()))
			}
		}
	}
	return filtered
}

func (j *Janitor) listResourceType(ctx context.Context, rt ResourceType) ([]*Object, error) {
	if j.filter.IncludesAllNamespaces() {
		return j.cluster.List(ctx, rt, "")
	}

	var objects []*Object
	for _, ns := range j.filter.IncludedNamespaces() {
		batch, err := j.cluster.List(ctx, rt, ns)
		if err != nil {
			return nil, err
		}
		objects = append(objects, batch...)
	}
	return objects, nil
}

// handleResourceOnTTL evaluates the TTL path for one object: an explicit TTL
// annotation wins over rules; a positive elapsed TTL deletes, an approaching
// one notifies.
func (j *Janitor) handleResourceOnTTL(ctx context.Context, obj *Object, cache map[string]any) Counter {
	counter := Counter{"resources-processed": 1}

	ttl := obj.GetAnnotations()[annotations.TTL]
	var reason string
	if ttl != "" {
		reason = fmt.Sprintf("annotation %s is set", annotations.TTL)
	} else {
		ruleContext := j.resourceContext(obj, cache)
		for _, rule := range j.rules {
			if rule.Matches(obj, ruleContext) {
				j.logger.Debug("Rule applies TTL",
					zap.String("rule", rule.ID()),
					zap.String("ttl", rule.TTL()),
					zap.String("object", obj.FullName()),
				)
				ttl = rule.TTL()
				reason = fmt.Sprintf("rule %s matches", rule.ID())
				counter["rule-"+rule.ID()+"-matches"] = 1
				break
			}
		}
	}
	if ttl == "" {
		return counter
	}

	duration, err := timefmt.ParseTTL(ttl)
	if err != nil {
		j.logger.Info("Ignoring invalid TTL",
			zap.String("object", obj.FullName()),
			zap.Error(err),
		)
		return counter
	}
	if duration <= 0 {
		j.logger.Debug("TTL disabled", zap.String("ttl", ttl), zap.String("object", obj.FullName()))
		return counter
	}

	counter[obj.Endpoint()+"-with-ttl"] = 1

	deploymentTime := j.deploymentTime(obj)
	age := j.now().Sub(deploymentTime)
	j.logger.Debug("Object age",
		zap.String("object", obj.FullName()),
		zap.String("ttl", ttl),
		zap.String("age", timefmt.FormatDuration(age)),
	)

	if age > duration {
		message := fmt.Sprintf("%s with %s TTL is %s old and will be deleted (%s)",
			obj.FullName(), ttl, timefmt.FormatDuration(age), reason)
		j.logger.Info(message)
		if j.notificationsEnabled() {
			j.createEvent(ctx, obj, message, reasonTTLExpired)
		}
		j.delete(ctx, obj)
		counter[obj.Endpoint()+"-deleted"] = 1
	} else if j.notificationsEnabled() {
		expiryTime := deploymentTime.Add(duration)
		if j.now().After(expiryTime.Add(-j.opts.DeleteNotification)) && !j.wasNotified(obj) {
			j.sendDeleteNotification(ctx, obj, reason, expiryTime)
		}
	}

	return counter
}

// handleResourceOnExpiry evaluates the absolute-expiry path, independent of
// any TTL on the same object.
func (j *Janitor) handleResourceOnExpiry(ctx context.Context, obj *Object) Counter {
	counter := Counter{}

	expiry := obj.GetAnnotations()[annotations.Expiry]
	if expiry == "" {
		return counter
	}
	reason := fmt.Sprintf("annotation %s is set", annotations.Expiry)

	expiryTime, err := timefmt.ParseExpiry(expiry)
	if err != nil {
		j.logger.Info("Ignoring invalid expiry date",
			zap.String("object", obj.FullName()),
			zap.Error(err),
		)
		return counter
	}

	counter[obj.Endpoint()+"-with-expiry"] = 1

	now := j.now()
	if now.After(expiryTime) {
		message := fmt.Sprintf("%s expired on %s and will be deleted (%s)", obj.FullName(), expiry, reason)
		j.logger.Info(message)
		if j.notificationsEnabled() {
			j.createEvent(ctx, obj, message, reasonExpiryReached)
		}
		j.delete(ctx, obj)
		counter[obj.Endpoint()+"-deleted"] = 1
	} else {
		j.logger.Debug("Object will expire",
			zap.String("object", obj.FullName()),
			zap.String("expiry", expiry),
		)
		if j.notificationsEnabled() &&
			now.After(expiryTime.Add(-j.opts.DeleteNotification)) && !j.wasNotified(obj) {
			j.sendDeleteNotification(ctx, obj, reason, expiryTime)
		}
	}

	return counter
}

// deploymentTime returns the TTL age baseline: the creation timestamp,
// overridden by the configured annotation when it holds a later timestamp.
// Malformed annotation values are logged and ignored.
func (j *Janitor) deploymentTime(obj *Object) time.Time {
	created := obj.GetCreationTimestamp().Time.UTC()
	if j.opts.DeploymentTimeAnnotation == "" {
		return created
	}
	value := obj.GetAnnotations()[j.opts.DeploymentTimeAnnotation]
	if value == "" {
		return created
	}
	deployed, err := timefmt.ParseTimestamp(value)
	if err != nil {
		j.logger.Warn("Invalid deployment time annotation",
			zap.String("annotation", j.opts.DeploymentTimeAnnotation),
			zap.String("object", obj.FullName()),
			zap.Error(err),
		)
		return created
	}
	if deployed.After(created) {
		return deployed
	}
	return created
}

func (j *Janitor) resourceContext(obj *Object, cache map[string]any) Context {
	if j.opts.ContextHook == nil || len(j.rules) == 0 {
		return nil
	}
	return j.opts.ContextHook(obj, cache)
}

func (j *Janitor) notificationsEnabled() bool {
	return j.opts.DeleteNotification > 0
}

func (j *Janitor) wasNotified(obj *Object) bool {
	_, ok := obj.GetAnnotations()[annotations.Notified]
	return ok
}

// sendDeleteNotification emits the one-time pre-delete warning event and then
// persists the notified flag. The event failing does not block the flag.
func (j *Janitor) sendDeleteNotification(ctx context.Context, obj *Object, reason string, expire time.Time) {
	message := fmt.Sprintf("%s will be deleted at %s (%s)",
		obj.FullName(), expire.Format(timefmt.Timestamp), reason)
	j.logger.Info(message)
	j.createEvent(ctx, obj, message, reasonNotification)
	j.addNotificationFlag(ctx, obj)
}

func (j *Janitor) createEvent(ctx context.Context, obj *Object, message, reason string) {
	if j.opts.DryRun {
		j.logger.Info("**DRY-RUN**: would create event",
			zap.String("reason", reason),
			zap.String("object", obj.FullName()),
		)
		return
	}

	namespace := obj.FilterNamespace()
	if j.events != nil && !j.events.Allow(namespace) {
		j.logger.Warn("Event rate limit reached, skipping event",
			zap.String("namespace", namespace),
			zap.String("object", obj.FullName()),
		)
		return
	}

	event := notifier.NewEvent(notifier.ObjectRef{
		APIVersion:      obj.GetAPIVersion(),
		Kind:            obj.GetKind(),
		Namespace:       namespace,
		Name:            obj.GetName(),
		ResourceVersion: obj.GetResourceVersion(),
		UID:             obj.GetUID(),
	}, reason, message, j.now())

	if err := j.cluster.CreateEvent(ctx, event); err != nil {
		j.logger.Error("Could not create event",
			zap.String("object", obj.FullName()),
			zap.Error(err),
		)
	}
}

// addNotificationFlag writes the notified annotation. An update conflict is
// logged and swallowed: the next run re-derives the state and at worst sends
// one duplicate warning.
func (j *Janitor) addNotificationFlag(ctx context.Context, obj *Object) {
	if j.opts.DryRun {
		j.logger.Info(fmt.Sprintf("**DRY-RUN**: %s would be annotated as %s: %s",
			obj.FullName(), annotations.Notified, annotations.NotifiedValue))
		return
	}

	ann := obj.GetAnnotations()
	if ann == nil {
		ann = map[string]string{}
	}
	ann[annotations.Notified] = annotations.NotifiedValue
	obj.SetAnnotations(ann)

	if err := j.cluster.Update(ctx, obj); err != nil {
		j.logger.Error("Could not update notification flag",
			zap.String("object", obj.FullName()),
			zap.Error(err),
		)
	}
}

// delete removes the object, or logs the intent in dry-run mode. Failures
// are non-fatal; the object is retried on the next run.
func (j *Janitor) delete(ctx context.Context, obj *Object) {
	if j.opts.DryRun {
		j.logger.Info("**DRY-RUN**: would delete " + obj.FullName())
		return
	}

	j.logger.Info("Deleting object", zap.String("object", obj.FullName()))
	if err := j.cluster.Delete(ctx, obj); err != nil {
		j.logger.Error("Could not delete object",
			zap.String("object", obj.FullName()),
			zap.Error(err),
		)
	}
	if j.opts.WaitAfterDelete > 0 {
		j.logger.Debug("Waiting after deletion", zap.Duration("wait", j.opts.WaitAfterDelete))
		j.sleep(j.opts.WaitAfterDelete)
	}
}
