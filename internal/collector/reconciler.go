package collector

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	orderedmap "github.com/wk8/go-ordered-map"

	"github.com/cloudwatt/tungsten-prometheus-exporter/internal/binding"
	"github.com/cloudwatt/tungsten-prometheus-exporter/internal/config"
	"github.com/cloudwatt/tungsten-prometheus-exporter/internal/registry"
	"github.com/cloudwatt/tungsten-prometheus-exporter/internal/scraper"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Starter starts tasks. *scraper.Group implements it.
type Starter interface {
	Start(r scraper.Runner) *scraper.Handle
}

// tracked is what runs for one instance.
type tracked struct {
	url      string
	bindings []*binding.Binding
	handle   *scraper.Handle
}

// Reconciler keeps one scrape task per discovered instance of a UVE type.
type Reconciler struct {
	uveType  string
	defs     []config.Metric
	allow    map[string]bool
	target   binding.Target
	interval time.Duration
	reg      *registry.Registry
	env      scraper.Env
	logger   *slog.Logger

	mu        sync.Mutex
	group     Starter
	instances *orderedmap.OrderedMap // instance name -> *tracked, in discovery order
}

// NewReconciler returns a Reconciler for the definitions of uveType.
// The allow-list is the union of the definitions' uve_instances.
func NewReconciler(uveType string, defs []config.Metric, target binding.Target, interval time.Duration, reg *registry.Registry, env scraper.Env) *Reconciler {
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	allow := make(map[string]bool)
	for _, d := range defs {
		for _, name := range d.UVEInstances {
			allow[name] = true
		}
	}
	return &Reconciler{
		uveType:   uveType,
		defs:      defs,
		allow:     allow,
		target:    target,
		interval:  interval,
		reg:       reg,
		env:       env,
		logger:    env.Logger.With("type", uveType),
		instances: orderedmap.New(),
	}
}

// Type returns the UVE type name.
func (r *Reconciler) Type() string { return r.uveType }

// URL returns the discovery URL of the type, e.g. .../analytics-nodes.
func (r *Reconciler) URL() string {
	return fmt.Sprintf("%s%s/%ss", r.target.Host, r.target.BaseURL, r.uveType)
}

// Start starts the discovery task in g. Instance tasks are started in g too.
func (r *Reconciler) Start(g Starter) *scraper.Handle {
	r.mu.Lock()
	r.group = g
	r.mu.Unlock()

	task := scraper.NewTask(scraper.TaskConfig{
		URL:       r.URL(),
		Interval:  r.interval,
		Consumers: []scraper.Consumer{r},
	}, r.env)
	r.logger.Info("collector: starting discovery", "url", r.URL())
	return g.Start(task)
}

// Update consumes a discovery response: [{"name": "..."}, ...].
// A malformed response, including null and items without a name, is logged
// and leaves the tracked instances as they are. Only [] drops them all.
func (r *Reconciler) Update(doc []byte) error {
	var uves []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(doc, &uves); err != nil {
		r.logger.Warn("collector: malformed discovery response", "err", err)
		return nil
	}
	if uves == nil {
		r.logger.Warn("collector: malformed discovery response", "err", "not an array")
		return nil
	}
	names := make([]string, 0, len(uves))
	for i, u := range uves {
		if u.Name == "" {
			r.logger.Warn("collector: malformed discovery response", "err", "item without a name", "item", i)
			return nil
		}
		names = append(names, u.Name)
	}
	return r.Reconcile(names)
}

// Reconcile makes the tracked instances match names, filtered by the
// allow-list: new instances get bindings and a jittered task, vanished ones
// have their task cancelled and their series removed, the others are left
// untouched. It returns binding construction errors.
func (r *Reconciler) Reconcile(names []string) error {
	desired := make(map[string]bool, len(names))
	var order []string
	for _, name := range names {
		if len(r.allow) > 0 && !r.allow[name] {
			continue
		}
		if !desired[name] {
			desired[name] = true
			order = append(order, name)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.group == nil {
		return errors.New("collector: reconcile before start")
	}

	var gone []string
	for p := r.instances.Oldest(); p != nil; p = p.Next() {
		if name := p.Key.(string); !desired[name] {
			gone = append(gone, name)
		}
	}
	for _, name := range gone {
		v, _ := r.instances.Delete(name)
		t := v.(*tracked)
		t.handle.Cancel()
		for _, b := range t.bindings {
			b.Close()
		}
		r.logger.Info("collector: instance gone", "instance", name)
	}

	for _, name := range order {
		if _, ok := r.instances.Get(name); ok {
			continue
		}
		t, err := r.track(name)
		if err != nil {
			return err
		}
		r.instances.Set(name, t)
		r.logger.Info("collector: instance found", "instance", name, "url", t.url)
	}
	return nil
}

// track builds the bindings of instance and starts its task. r.mu is held.
func (r *Reconciler) track(instance string) (*tracked, error) {
	bindings := make([]*binding.Binding, 0, len(r.defs))
	consumers := make([]scraper.Consumer, 0, len(r.defs))
	for _, def := range r.defs {
		b, err := binding.New(def, instance, r.target, r.reg, r.env.Logger)
		if err != nil {
			return nil, fmt.Errorf("collector: %s %s: %w", r.uveType, instance, err)
		}
		bindings = append(bindings, b)
		consumers = append(consumers, b)
	}

	url := binding.InstanceURL(r.target, r.uveType, instance, bindings)
	task := scraper.NewTask(scraper.TaskConfig{
		URL:       url,
		Interval:  r.interval,
		Jitter:    true,
		Consumers: consumers,
	}, r.env)

	return &tracked{
		url:      url,
		bindings: bindings,
		handle:   r.group.Start(task),
	}, nil
}

// Instances returns the tracked instance names in discovery order.
func (r *Reconciler) Instances() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, r.instances.Len())
	for p := r.instances.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Key.(string))
	}
	return out
}
