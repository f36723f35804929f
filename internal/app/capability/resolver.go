package capability

import (
	"fmt"
	"sort"
	"strings"

	"opsbot/internal/domain/chat"
	"opsbot/internal/shared/config"
)

// Wildcard grants or denies every tool without an explicit entry.
const Wildcard = "*"

// Persona is a named tool loadout with its own instructions.
type Persona struct {
	Name         string
	Tools        []string
	SystemPrompt string
	Model        string
}

// Route substitutes tools for a suppressed one when the caller holds the
// gating permission. An empty permission always applies.
type Route struct {
	Tool        string
	Permission  string
	Substitutes []string
}

// Policy is the static capability configuration.
type Policy struct {
	DefaultPersona string
	Roles          map[string]map[string]bool
	Personas       map[string]Persona
	Routes         []Route
}

// Set is the resolved capability set of one turn. It is never persisted.
type Set struct {
	Persona    Persona
	Tools      []string
	Suppressed []string
	Routed     []string
}

// Resolver computes per-account capability sets.
type Resolver struct {
	policy Policy
	routes map[string][]Route
}

func NewResolver(policy Policy) *Resolver {
	routes := make(map[string][]Route, len(policy.Routes))
	for _, route := range policy.Routes {
		tool := strings.TrimSpace(route.Tool)
		if tool == "" {
			continue
		}
		routes[tool] = append(routes[tool], route)
	}
	return &Resolver{policy: policy, routes: routes}
}

// PolicyFromConfig converts the YAML capability section.
func PolicyFromConfig(cfg config.CapabilityConfig) Policy {
	policy := Policy{
		DefaultPersona: strings.TrimSpace(cfg.DefaultPersona),
		Roles:          make(map[string]map[string]bool, len(cfg.Roles)),
		Personas:       make(map[string]Persona, len(cfg.Personas)),
	}
	for role, perms := range cfg.Roles {
		copied := make(map[string]bool, len(perms))
		for tool, ok := range perms {
			copied[tool] = ok
		}
		policy.Roles[role] = copied
	}
	for name, p := range cfg.Personas {
		policy.Personas[name] = Persona{
			Name:         name,
			Tools:        append([]string(nil), p.Tools...),
			SystemPrompt: p.SystemPrompt,
			Model:        p.Model,
		}
	}
	for _, r := range cfg.Routes {
		policy.Routes = append(policy.Routes, Route{
			Tool:        r.Tool,
			Permission:  r.Permission,
			Substitutes: append([]string(nil), r.Substitutes...),
		})
	}
	return policy
}

// Personas lists configured persona names in lexical order.
func (r *Resolver) Personas() []string {
	names := make([]string, 0, len(r.policy.Personas))
	for name := range r.policy.Personas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Permissions returns the effective permission map of account: role
// defaults overlaid by the account's own entries.
func (r *Resolver) Permissions(account chat.Account) map[string]bool {
	out := map[string]bool{}
	for tool, ok := range r.policy.Roles[account.Role] {
		out[tool] = ok
	}
	for tool, ok := range account.Permissions {
		out[tool] = ok
	}
	return out
}

// Resolve computes the tool set of account for persona. An empty persona
// selects the default one.
func (r *Resolver) Resolve(account chat.Account, persona string) (Set, error) {
	name := strings.TrimSpace(persona)
	if name == "" {
		name = r.policy.DefaultPersona
	}
	p, ok := r.policy.Personas[name]
	if !ok {
		return Set{}, fmt.Errorf("unknown persona %q", name)
	}
	if p.Name == "" {
		p.Name = name
	}

	perms := r.Permissions(account)
	set := Set{Persona: p}
	seen := map[string]bool{}
	var routed []string

	for _, raw := range p.Tools {
		tool := strings.TrimSpace(raw)
		if tool == "" || seen[tool] {
			continue
		}
		seen[tool] = true
		if Allowed(perms, tool) {
			set.Tools = append(set.Tools, tool)
			continue
		}
		set.Suppressed = append(set.Suppressed, tool)
		for _, route := range r.routes[tool] {
			gate := strings.TrimSpace(route.Permission)
			if gate != "" && !Allowed(perms, gate) {
				continue
			}
			routed = append(routed, route.Substitutes...)
		}
	}

	for _, raw := range routed {
		tool := strings.TrimSpace(raw)
		if tool == "" || seen[tool] {
			continue
		}
		seen[tool] = true
		set.Tools = append(set.Tools, tool)
		set.Routed = append(set.Routed, tool)
	}
	return set, nil
}

// Allowed reports whether perms grants tool. An exact entry wins over a
// prefix entry ("mcp__image__*"), which wins over the wildcard. Missing
// entries deny.
func Allowed(perms map[string]bool, tool string) bool {
	if ok, found := perms[tool]; found {
		return ok
	}
	best := -1
	allowed := false
	for key, ok := range perms {
		if key == Wildcard || !strings.HasSuffix(key, Wildcard) {
			continue
		}
		prefix := strings.TrimSuffix(key, Wildcard)
		if strings.HasPrefix(tool, prefix) && len(prefix) > best {
			best = len(prefix)
			allowed = ok
		}
	}
	if best >= 0 {
		return allowed
	}
	return perms[Wildcard]
}
