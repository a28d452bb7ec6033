package azfunc

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Initializer builds the process telemetry client at most once.
//
// Function hosts keep the process warm between invocations and several
// functions share it, so every function asks the same Initializer for its
// client instead of configuring OpenTelemetry again.
type Initializer struct {
	cfg    Config
	logger *slog.Logger
	setup  func(context.Context, Config, *slog.Logger) (*Telemetry, error)

	once sync.Once
	done atomic.Bool
	tel  *Telemetry
	err  error
}

// NewInitializer returns an Initializer that will call Setup with cfg.
func NewInitializer(cfg Config, logger *slog.Logger) *Initializer {
	return &Initializer{cfg: cfg, logger: logger, setup: Setup}
}

// Telemetry returns the process client, configuring it on the first call.
// Later calls, including concurrent ones, return the same client and error.
func (i *Initializer) Telemetry(ctx context.Context) (*Telemetry, error) {
	i.once.Do(func() {
		i.tel, i.err = i.setup(ctx, i.cfg, i.logger)
		i.done.Store(true)
	})
	return i.tel, i.err
}

// Configured reports whether the client has already been configured.
func (i *Initializer) Configured() bool {
	return i.done.Load() && i.err == nil && i.tel != nil
}
