// Package rules loads and evaluates TTL rules. A rule applies its TTL to
// every object matching all of its criteria; the janitor consults rules only
// for objects without an explicit TTL annotation, in list order, first match
// wins.
package rules

import (
	"fmt"
	"os"
	"regexp"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"sigs.k8s.io/yaml"

	"github.com/vfabi/kube-janitor/internal/janitor"
	"github.com/vfabi/kube-janitor/internal/timefmt"
)

// Wildcard matches any endpoint or namespace in a rule criterion.
const Wildcard = "*"

var idPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// Definition is one rule entry of the rules file. Criteria are conjunctive:
// every specified criterion must hold. A definition with no criteria matches
// every object.
type Definition struct {
	// ID names the rule; it appears in counters and log messages.
	ID string `json:"id"`

	// TTL is the time-to-live applied to matching objects.
	TTL string `json:"ttl"`

	// Resources restricts the rule to the listed plural endpoints ("*" for any).
	Resources []string `json:"resources,omitempty"`

	// Namespaces restricts the rule to the listed namespaces ("*" for any).
	Namespaces []string `json:"namespaces,omitempty"`

	// Selector restricts the rule to objects matching the label selector.
	Selector *metav1.LabelSelector `json:"selector,omitempty"`

	// Context requires hook-supplied context fields to equal these values.
	Context map[string]string `json:"context,omitempty"`
}

type rulesFile struct {
	Rules []Definition `json:"rules"`
}

// Load reads a YAML rules file and compiles its rules in file order.
func Load(path string) ([]janitor.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	return CompileAll(file.Rules)
}

// CompileAll compiles definitions preserving their order.
func CompileAll(defs []Definition) ([]janitor.Rule, error) {
	compiled := make([]janitor.Rule, 0, len(defs))
	for _, def := range defs {
		r, err := Compile(def)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, r)
	}
	return compiled, nil
}

// Compile validates one definition and builds its matcher chain.
func Compile(def Definition) (janitor.Rule, error) {
	if !idPattern.MatchString(def.ID) {
		return nil, fmt.Errorf("rule id %q is invalid (must match %s)", def.ID, idPattern.String())
	}
	if _, err := timefmt.ParseTTL(def.TTL); err != nil {
		return nil, fmt.Errorf("rule %s: %w", def.ID, err)
	}

	var matchers []Matcher
	if len(def.Resources) > 0 {
		matchers = append(matchers, endpointMatcher(toSet(def.Resources)))
	}
	if len(def.Namespaces) > 0 {
		matchers = append(matchers, namespaceMatcher(toSet(def.Namespaces)))
	}
	if def.Selector != nil {
		selector, err := metav1.LabelSelectorAsSelector(def.Selector)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid selector: %w", def.ID, err)
		}
		matchers = append(matchers, selectorMatcher{selector: selector})
	}
	if len(def.Context) > 0 {
		matchers = append(matchers, contextMatcher(def.Context))
	}

	return &rule{id: def.ID, ttl: def.TTL, matchers: matchers}, nil
}

// Matcher is one rule criterion.
type Matcher interface {
	Matches(obj *janitor.Object, ctx janitor.Context) bool
}

type rule struct {
	id       string
	ttl      string
	matchers []Matcher
}

func (r *rule) ID() string  { return r.id }
func (r *rule) TTL() string { return r.ttl }

func (r *rule) Matches(obj *janitor.Object, ctx janitor.Context) bool {
	for _, m := range r.matchers {
		if !m.Matches(obj, ctx) {
			return false
		}
	}
	return true
}

type endpointMatcher map[string]bool

func (m endpointMatcher) Matches(obj *janitor.Object, _ janitor.Context) bool {
	return m[Wildcard] || m[obj.Endpoint()]
}

type namespaceMatcher map[string]bool

func (m namespaceMatcher) Matches(obj *janitor.Object, _ janitor.Context) bool {
	return m[Wildcard] || m[obj.FilterNamespace()]
}

type selectorMatcher struct {
	selector labels.Selector
}

func (m selectorMatcher) Matches(obj *janitor.Object, _ janitor.Context) bool {
	return m.selector.Matches(labels.Set(obj.GetLabels()))
}

type contextMatcher map[string]string

func (m contextMatcher) Matches(_ *janitor.Object, ctx janitor.Context) bool {
	for key, want := range m {
		if ctx[key] != want {
			return false
		}
	}
	return true
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
