// Package prof streams continuous profiles of a run to Pyroscope.
package prof

import (
	"context"
	"maps"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/sitepublish/internal/log"
	"github.com/keithlinneman/sitepublish/internal/xerrors"
)

type Options struct {
	Enabled       bool
	AppName       string
	ServerAddress string
	TenantID      string

	// Tags are attached to every profile; bucket and command are typical
	Tags map[string]string
}

// profileTypes favours what a publish spends time on: compression and
// concurrent uploads.
var profileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
}

// Start begins profiling. The returned stop is always non-nil and flushes
// pending profiles; it is safe to call more than once.
func Start(ctx context.Context, opts Options) (stop func(), err error) {
	L := log.FromContext(ctx)
	noop := func() {}

	if !opts.Enabled {
		L.Debug(ctx, "pyroscope disabled")
		return noop, nil
	}
	if opts.ServerAddress == "" {
		err := xerrors.Newf("invalid server address (%q)", opts.ServerAddress)
		L.Error(ctx, err, "pyroscope options")
		return noop, err
	}

	cfg := pyroscope.Config{
		ApplicationName: opts.AppName,
		ServerAddress:   opts.ServerAddress,
		TenantID:        opts.TenantID,
		Tags:            maps.Clone(opts.Tags),
		ProfileTypes:    profileTypes,
	}
	profiler, err := pyroscope.Start(cfg)
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed",
			"server_address", opts.ServerAddress,
			"app_name", opts.AppName,
		)
		return noop, xerrors.Wrap(err, "start pyroscope")
	}
	L.Info(ctx, "pyroscope started",
		"server_address", opts.ServerAddress,
		"app_name", opts.AppName,
	)

	stopped := false
	return func() {
		if stopped {
			return
		}
		stopped = true
		if err := profiler.Stop(); err != nil {
			L.Warn(context.Background(), "pyroscope stop", "err", err)
			return
		}
		L.Debug(context.Background(), "pyroscope stopped", "app_name", opts.AppName)
	}, nil
}
