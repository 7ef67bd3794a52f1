package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/aretw0/max/pkg/adapters/file"
	"github.com/aretw0/max/pkg/adapters/inprocess"
	"github.com/aretw0/max/pkg/adapters/subprocess"
	"github.com/aretw0/max/pkg/dispatch"
	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/execution"
	"github.com/aretw0/max/pkg/node"
	"github.com/aretw0/max/pkg/protocol"
)

// NodeArgs are the flags a subprocess provider passes to a child.
type NodeArgs struct {
	Socket string
	ID     string
	Spec   string
}

// RunNode hosts the installation described by args.Spec on args.Socket until
// ctx is done. Sync records are kept next to node.json so a restarted child can
// resume its runs.
func RunNode(ctx context.Context, args NodeArgs, logger *slog.Logger) error {
	if args.Socket == "" || args.Spec == "" {
		return fmt.Errorf("%w: %s and %s are required", domain.ErrInvalidArgs, subprocess.FlagSocket, subprocess.FlagSpec)
	}
	spec, err := subprocess.ReadSpec(args.Spec)
	if err != nil {
		return err
	}
	id := args.ID
	if id == "" {
		id = spec.ID
	}
	if spec.Kind != "" && spec.Kind != domain.KindInstallation {
		return fmt.Errorf("%w: node kind %q cannot be hosted by this binary", domain.ErrInvalidArgs, spec.Kind)
	}
	is, err := node.DecodeInstallationSpec(spec.Options)
	if err != nil {
		return err
	}

	scheduler := execution.NewScheduler(execution.WithSchedulerLogger(logger))
	scheduler.Start()
	defer func() { _ = scheduler.Stop(context.WithoutCancel(ctx)) }()

	deps := inprocess.Dependencies{
		Connectors: Connectors(),
		SyncStore:  file.New(filepath.Join(filepath.Dir(args.Spec), "syncs")),
		Scheduler:  scheduler,
		Logger:     logger,
	}
	inst, err := inprocess.NewInstallation(domain.InstallationID(id), is, deps)
	if err != nil {
		return err
	}
	defer func() {
		if _, err := inst.Stop(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
			logger.Error("Installation stop failed", "installation", id, "err", err)
		}
	}()

	logger.Info("Node serving", "installation", id, "socket", args.Socket)
	return subprocess.ServeSocket(ctx, args.Socket, protocol.NewInstallationDispatcher(inst, dispatch.WithLogger(logger)))
}
