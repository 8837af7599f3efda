package registry

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrCycle             = errors.New("dependency cycle")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrDuplicateName     = errors.New("duplicate service name")
)

// ProbeKind selects how an endpoint is checked for reachability.
type ProbeKind string

const (
	KindTCP    ProbeKind = "tcp"
	KindHTTP   ProbeKind = "http"
	KindOpenAI ProbeKind = "openai"
)

// Endpoint is a host:port[/path] triple used by the network probe.
type Endpoint struct {
	Host   string    `json:"host"`
	Port   int       `json:"port"`
	Path   string    `json:"path,omitempty"`
	Kind   ProbeKind `json:"kind"`
	APIKey string    `json:"-"`
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// URL returns the http URL for Path, or "" when no path is configured.
func (e Endpoint) URL() string {
	if e.Path == "" {
		return ""
	}
	p := e.Path
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return "http://" + e.Address() + p
}

// ServiceDescriptor describes one monitored service. Descriptors are copied into the
// Registry and never mutated afterwards.
type ServiceDescriptor struct {
	Name         string        `json:"name"`
	Unit         string        `json:"unit"`
	Endpoint     *Endpoint     `json:"endpoint,omitempty"`
	DependsOn    []string      `json:"depends_on,omitempty"`
	RestartGrace time.Duration `json:"restart_grace"`
}

// Registry is the validated, dependency-ordered set of services.
// It is read-only after New returns and safe for concurrent use.
type Registry struct {
	ordered []ServiceDescriptor
	index   map[string]int
	levels  [][]string
}

// New validates descs and returns a Registry. Services are ordered topologically;
// ties keep declaration order.
func New(descs []ServiceDescriptor) (*Registry, error) {
	byName := make(map[string]ServiceDescriptor, len(descs))
	decl := make([]string, 0, len(descs))
	for i, d := range descs {
		if err := validate(d); err != nil {
			return nil, fmt.Errorf("service #%d: %w", i+1, err)
		}
		if _, dup := byName[d.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, d.Name)
		}
		byName[d.Name] = clone(d)
		decl = append(decl, d.Name)
	}
	for _, name := range decl {
		seen := make(map[string]struct{})
		for _, dep := range byName[name].DependsOn {
			if dep == name {
				return nil, fmt.Errorf("%w: %s depends on itself", ErrCycle, name)
			}
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, name, dep)
			}
			if _, ok := seen[dep]; ok {
				return nil, fmt.Errorf("service %s lists dependency %s twice", name, dep)
			}
			seen[dep] = struct{}{}
		}
	}

	// Kahn's algorithm; scanning decl on every round keeps declaration order stable.
	level := make(map[string]int, len(decl))
	placed := make(map[string]bool, len(decl))
	ordered := make([]ServiceDescriptor, 0, len(decl))
	for len(ordered) < len(decl) {
		progressed := false
		for _, name := range decl {
			if placed[name] {
				continue
			}
			d := byName[name]
			ready := true
			lv := 0
			for _, dep := range d.DependsOn {
				if !placed[dep] {
					ready = false
					break
				}
				if level[dep]+1 > lv {
					lv = level[dep] + 1
				}
			}
			if !ready {
				continue
			}
			placed[name] = true
			level[name] = lv
			ordered = append(ordered, d)
			progressed = true
		}
		if !progressed {
			var stuck []string
			for _, name := range decl {
				if !placed[name] {
					stuck = append(stuck, name)
				}
			}
			return nil, fmt.Errorf("%w among %s", ErrCycle, strings.Join(stuck, ", "))
		}
	}

	r := &Registry{ordered: ordered, index: make(map[string]int, len(ordered))}
	for i, d := range ordered {
		r.index[d.Name] = i
		lv := level[d.Name]
		for len(r.levels) <= lv {
			r.levels = append(r.levels, nil)
		}
		r.levels[lv] = append(r.levels[lv], d.Name)
	}
	return r, nil
}

func validate(d ServiceDescriptor) error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("name required")
	}
	if strings.TrimSpace(d.Unit) == "" {
		return fmt.Errorf("service %s: unit required", d.Name)
	}
	if d.RestartGrace < 0 {
		return fmt.Errorf("service %s: restart grace must not be negative", d.Name)
	}
	if e := d.Endpoint; e != nil {
		if e.Host == "" {
			return fmt.Errorf("service %s: endpoint host required", d.Name)
		}
		if e.Port <= 0 || e.Port > 65535 {
			return fmt.Errorf("service %s: invalid port %d", d.Name, e.Port)
		}
		switch e.Kind {
		case KindTCP, KindHTTP, KindOpenAI:
		default:
			return fmt.Errorf("service %s: unknown probe kind %q", d.Name, e.Kind)
		}
		if e.Kind == KindHTTP && e.Path == "" {
			return fmt.Errorf("service %s: http probe requires path", d.Name)
		}
	}
	return nil
}

func clone(d ServiceDescriptor) ServiceDescriptor {
	if d.Endpoint != nil {
		e := *d.Endpoint
		d.Endpoint = &e
	}
	d.DependsOn = append([]string(nil), d.DependsOn...)
	return d
}

// Len returns the number of registered services.
func (r *Registry) Len() int { return len(r.ordered) }

// Services returns copies of all descriptors in dependency order.
func (r *Registry) Services() []ServiceDescriptor {
	out := make([]ServiceDescriptor, len(r.ordered))
	for i, d := range r.ordered {
		out[i] = clone(d)
	}
	return out
}

// Names returns service names in dependency order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.ordered))
	for i, d := range r.ordered {
		out[i] = d.Name
	}
	return out
}

// Get returns a copy of the named descriptor.
func (r *Registry) Get(name string) (ServiceDescriptor, bool) {
	i, ok := r.index[name]
	if !ok {
		return ServiceDescriptor{}, false
	}
	return clone(r.ordered[i]), true
}

// Levels groups services by dependency depth. Every service in level n depends only on
// services in levels < n, so services within one level are independent of each other.
func (r *Registry) Levels() [][]ServiceDescriptor {
	out := make([][]ServiceDescriptor, len(r.levels))
	for i, names := range r.levels {
		out[i] = make([]ServiceDescriptor, len(names))
		for j, n := range names {
			out[i][j] = clone(r.ordered[r.index[n]])
		}
	}
	return out
}

// Dependents returns names of services that directly depend on name.
func (r *Registry) Dependents(name string) []string {
	var out []string
	for _, d := range r.ordered {
		for _, dep := range d.DependsOn {
			if dep == name {
				out = append(out, d.Name)
				break
			}
		}
	}
	return out
}
