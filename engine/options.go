package engine

import (
	"github.com/amp-labs/amp-fsm/config"
	"github.com/amp-labs/amp-fsm/guard"
)

// Option configures an Engine.
type Option func(*options)

type options struct {
	name   string
	guards []guard.Guard
	cfg    config.Engine
}

// WithGuards appends guards to the pipeline. They run after the built-in
// state guard, in the order given across all WithGuards calls.
func WithGuards(guards ...guard.Guard) Option {
	return func(o *options) { o.guards = append(o.guards, guards...) }
}

// WithPartitions sets the number of per-id serialization lanes.
func WithPartitions(n int) Option {
	return func(o *options) { o.cfg.Partitions = n }
}

// WithMailboxDepth sets the inbox buffer of each partition.
func WithMailboxDepth(n int) Option {
	return func(o *options) { o.cfg.MailboxDepth = n }
}

// WithCreateConcurrency bounds the number of init commands processed at once.
func WithCreateConcurrency(n int) Option {
	return func(o *options) { o.cfg.CreateConcurrency = n }
}

// WithName labels the engine's metrics, spans and logs. It defaults to the
// automate's name.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithConfig replaces every tunable at once, typically with config.Load().Engine.
func WithConfig(cfg config.Engine) Option {
	return func(o *options) { o.cfg = cfg }
}
