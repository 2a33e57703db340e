package orchestrator

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/petrijr/stepchain/pkg/api"
)

// recordErrors appends the failures to the in-memory error log, tagged with
// the originating step, and persists each one as an individual record under
// the per-step failure location. An empty failure list is a pure no-op: no
// connection is opened, no path is created, nothing is committed.
//
// Persistence errors are logged and swallowed; recording failures must
// never itself abort the process.
func (p *Instance) recordErrors(ctx context.Context, step int, failures []api.Failure) {
	if len(failures) == 0 {
		return
	}

	tagged := make([]api.Failure, len(failures))
	for i, f := range failures {
		f.Step = step
		tagged[i] = f
	}
	p.info.Errors = append(p.info.Errors, tagged...)

	p.asService(ctx, func(conn api.Conn) error {
		// Failure locations are keyed by the 1-based step index;
		// pre-run failures land under "step0".
		folder := p.path + "/failures/step" + strconv.Itoa(step+1)
		if err := conn.EnsurePath(ctx, folder); err != nil {
			return err
		}
		for i, f := range tagged {
			if err := conn.Save(ctx, folder+"/err"+strconv.Itoa(i), failureRecord(f)); err != nil {
				return err
			}
		}
		return nil
	})

	p.cfg.Logger.Warn("recorded step failures",
		slog.String("process", p.Name()),
		slog.String("instance_id", p.id),
		slog.Int("step", step),
		slog.Int("count", len(failures)),
	)
}

func failureRecord(f api.Failure) api.Record {
	rec := api.Record{
		"step": f.Step + 1,
		"path": f.Path,
		"time": f.Time,
	}
	if f.Err != nil {
		rec["error"] = f.Err.Error()
	}
	return rec
}
