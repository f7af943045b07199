package plugin

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/felixgeelhaar/caretaker/internal/config"
	"github.com/felixgeelhaar/caretaker/internal/errors"
	"github.com/felixgeelhaar/caretaker/internal/log"
	"github.com/felixgeelhaar/caretaker/internal/metrics"
	"github.com/felixgeelhaar/caretaker/internal/snapshot"
	"github.com/felixgeelhaar/caretaker/internal/telemetry"
)

// DefaultTimeout bounds an exec plugin invocation without its own timeout.
const DefaultTimeout = 30 * time.Second

// Host discovers, loads and runs the configured plugins. It is safe for
// concurrent use by several repository runs.
type Host struct {
	registry    *Registry
	descriptors []Descriptor
	logger      *log.Logger
	metrics     *metrics.Metrics
	timeout     time.Duration
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithMetrics records plugin runs on m.
func WithMetrics(m *metrics.Metrics) HostOption {
	return func(h *Host) { h.metrics = m }
}

// WithDefaultTimeout sets the exec plugin timeout used when a plugin has none.
func WithDefaultTimeout(d time.Duration) HostOption {
	return func(h *Host) { h.timeout = d }
}

// NewHost creates a host for the enabled plugins of cfgs.
func NewHost(registry *Registry, cfgs []config.PluginConfig, logger *log.Logger, opts ...HostOption) *Host {
	h := &Host{
		registry: registry,
		logger:   log.OrDefault(logger).With("component", "plugin"),
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.descriptors = h.Discover(cfgs)
	return h
}

// Descriptors returns the discovered plugins in configuration order.
func (h *Host) Descriptors() []Descriptor {
	return append([]Descriptor(nil), h.descriptors...)
}

// Discover resolves the enabled entries of cfgs, keeping configuration
// order. Builtin names missing from the registry are logged and dropped.
func (h *Host) Discover(cfgs []config.PluginConfig) []Descriptor {
	var out []Descriptor
	for _, c := range cfgs {
		if !c.Enabled {
			continue
		}

		d := Descriptor{
			Name:     c.Name,
			Enabled:  true,
			Kind:     c.Kind,
			Manifest: c.Manifest,
			Timeout:  c.Timeout,
			Config:   c.Config,
		}

		switch c.Kind {
		case config.PluginKindExec:
			if c.Manifest == "" {
				h.logger.Warn("exec plugin has no manifest, skipping", "plugin", c.Name)
				continue
			}
		default:
			d.Kind = config.PluginKindBuiltin
			f, ok := h.registry.Lookup(c.Name)
			if !ok {
				h.logger.WithError(errors.New(errors.ErrCodePluginNotFound, "unknown plugin "+c.Name).
					WithSuggestion("Known plugins: "+fmt.Sprint(h.registry.Names()))).
					Warn("plugin not registered, skipping", "plugin", c.Name)
				continue
			}
			d.Factory = f
		}

		out = append(out, d)
	}
	return out
}

// Load instantiates the plugin described by d.
func (h *Host) Load(ctx context.Context, d Descriptor) (p Plugin, err error) {
	defer func() {
		if r := recover(); r != nil {
			p = nil
			err = errors.New(errors.ErrCodePluginPanic, fmt.Sprintf("plugin %s panicked while loading: %v", d.Name, r))
		}
	}()

	switch d.Kind {
	case config.PluginKindExec:
		timeout := d.Timeout
		if timeout <= 0 {
			timeout = h.timeout
		}
		p, err = loadExec(d.Manifest, d.Config, timeout)
	default:
		if d.Factory == nil {
			return nil, errors.NewPluginError(errors.ErrCodePluginNotFound, d.Name, fmt.Errorf("no factory"))
		}
		p, err = d.Factory(d.Config)
	}
	if err != nil {
		return nil, errors.NewPluginError(errors.ErrCodePluginLoad, d.Name, err)
	}
	return p, nil
}

// RunAll loads and runs every discovered plugin in order. A plugin that
// fails to load, returns an error or panics is logged and left out of the
// results; the others still run.
func (h *Host) RunAll(ctx context.Context, snap *snapshot.Snapshot, branch string) []Result {
	results := make([]Result, 0, len(h.descriptors))
	for _, d := range h.descriptors {
		if ctx.Err() != nil {
			break
		}

		res, err := h.run(ctx, d, snap, branch)
		h.metrics.RecordPlugin(d.Name, err == nil)
		if err != nil {
			h.metrics.RecordError(err)
			h.logger.WithError(err).Error("plugin failed", "plugin", d.Name, "repo", snap.RepoID)
			continue
		}
		results = append(results, res)
	}
	return results
}

func (h *Host) run(ctx context.Context, d Descriptor, snap *snapshot.Snapshot, branch string) (res Result, err error) {
	ctx, span := telemetry.StartPluginSpan(ctx, d.Name)
	defer func() {
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
	}()

	p, err := h.Load(ctx, d)
	if err != nil {
		return Result{}, err
	}

	defer func() {
		if r := recover(); r != nil {
			h.logger.Debug("plugin stack", "plugin", d.Name, "stack", string(debug.Stack()))
			err = errors.New(errors.ErrCodePluginPanic, fmt.Sprintf("plugin %s panicked: %v", d.Name, r))
		}
	}()

	res, err = p.Run(ctx, snap, branch)
	if err != nil {
		return Result{}, errors.NewPluginError(errors.ErrCodePluginRun, d.Name, err)
	}
	if res.Name == "" {
		res.Name = d.Name
	}
	return res, nil
}
