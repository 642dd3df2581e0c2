package janitor

import "sort"

// All is the sentinel accepted in any include/exclude set to match every
// resource kind or namespace.
const All = "all"

// Filter decides whether an object should be processed, given the configured
// include/exclude sets for resource endpoints and namespaces.
//
// A blanket "all" exclusion is overridden only by an explicit inclusion of a
// specific endpoint or namespace, not by a blanket "all" inclusion.
type Filter struct {
	includeResources  map[string]bool
	excludeResources  map[string]bool
	includeNamespaces map[string]bool
	excludeNamespaces map[string]bool
}

// NewFilter builds a Filter from the four configured sets.
func NewFilter(includeResources, excludeResources, includeNamespaces, excludeNamespaces []string) *Filter {
	return &Filter{
		includeResources:  toSet(includeResources),
		excludeResources:  toSet(excludeResources),
		includeNamespaces: toSet(includeNamespaces),
		excludeNamespaces: toSet(excludeNamespaces),
	}
}

// Matches reports whether the object passes the filter. Non-namespaced
// objects never match.
func (f *Filter) Matches(obj *Object) bool {
	ns := obj.FilterNamespace()
	if ns == "" {
		return false
	}
	endpoint := obj.Endpoint()

	resourceIncluded := f.includeResources[All] || f.includeResources[endpoint]
	namespaceIncluded := f.includeNamespaces[All] || f.includeNamespaces[ns]
	resourceExcluded := (f.excludeResources[All] && !f.includeResources[endpoint]) ||
		f.excludeResources[endpoint]
	namespaceExcluded := (f.excludeNamespaces[All] && !f.includeNamespaces[ns]) ||
		f.excludeNamespaces[ns]

	return resourceIncluded && !resourceExcluded && namespaceIncluded && !namespaceExcluded
}

// ResourceTypeInScope is the kind-level pre-check applied before listing a
// resource type at all.
func (f *Filter) ResourceTypeInScope(endpoint string) bool {
	return (f.includeResources[All] && !f.excludeResources[endpoint]) || f.includeResources[endpoint]
}

// IncludesAllNamespaces reports whether listing should span all namespaces.
func (f *Filter) IncludesAllNamespaces() bool {
	return f.includeNamespaces[All]
}

// IncludedNamespaces returns the explicitly included namespace names, sorted
// for deterministic listing order.
func (f *Filter) IncludedNamespaces() []string {
	names := make([]string, 0, len(f.includeNamespaces))
	for ns := range f.includeNamespaces {
		if ns != All {
			names = append(names, ns)
		}
	}
	sort.Strings(names)
	return names
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		if v != "" {
			set[v] = true
		}
	}
	return set
}
