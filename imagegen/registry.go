package imagegen

import (
	"sort"
	"strings"
	"sync"
)

// Registry is a thread-safe alias-aware registry of image providers.
// Resolution is forgiving: identifiers are normalized before lookup and
// unknown identifiers fall back to the default adapter instead of failing,
// so any OpenAI-compatible relay works without prior registration.
type Registry struct {
	providers   map[string]Provider
	collapsed   map[string]Provider
	defaultName string
	mu          sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		collapsed: make(map[string]Provider),
	}
}

// Normalize 规范化服务商标识：小写、去首尾空白、'-' 折叠为 '_'。
// "Nano-Banana" 与 "nano_banana" 解析到同一个适配器。
func Normalize(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	return strings.ReplaceAll(id, "-", "_")
}

// collapse 进一步去掉所有分隔符，"my_provider" 与 "myprovider" 同键。
func collapse(id string) string {
	return strings.ReplaceAll(Normalize(id), "_", "")
}

// Register adds a provider under its canonical name and every alias.
// Each identifier is also indexed under its separator-stripped form, so
// "MYPROVIDER" resolves to an adapter registered as "my_provider".
// Later registrations replace earlier ones for the same identifier.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[Normalize(p.Name())] = p
	r.collapsed[collapse(p.Name())] = p
	for _, alias := range p.Aliases() {
		r.providers[Normalize(alias)] = p
		r.collapsed[collapse(alias)] = p
	}
}

// SetDefault designates the fallback adapter for unknown identifiers.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultName = Normalize(name)
}

// Resolve returns the provider for id, or the default adapter when the
// identifier is unknown. Returns nil only when no default has been set.
func (r *Registry) Resolve(id string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.providers[Normalize(id)]; ok {
		return p
	}
	if p, ok := r.collapsed[collapse(id)]; ok {
		return p
	}
	return r.providers[r.defaultName]
}

// Lookup is the strict variant of Resolve: no fallback.
func (r *Registry) Lookup(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.providers[Normalize(id)]; ok {
		return p, true
	}
	p, ok := r.collapsed[collapse(id)]
	return p, ok
}

// List returns the sorted canonical names of all registered providers,
// without aliases.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool, len(r.providers))
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		name := Normalize(p.Name())
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered identifiers, aliases included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
