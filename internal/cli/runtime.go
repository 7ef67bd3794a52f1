package cli

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/aretw0/max/internal/config"
	"github.com/aretw0/max/internal/metrics"
	"github.com/aretw0/max/pkg/adapters/file"
	adminhttp "github.com/aretw0/max/pkg/adapters/http"
	"github.com/aretw0/max/pkg/adapters/inprocess"
	"github.com/aretw0/max/pkg/adapters/loam"
	"github.com/aretw0/max/pkg/adapters/memory"
	"github.com/aretw0/max/pkg/adapters/redis"
	"github.com/aretw0/max/pkg/adapters/remote"
	"github.com/aretw0/max/pkg/adapters/sqlite"
	"github.com/aretw0/max/pkg/adapters/subprocess"
	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/execution"
	"github.com/aretw0/max/pkg/node"
	"github.com/aretw0/max/pkg/ports"
	"github.com/aretw0/max/pkg/protocol"
	"github.com/aretw0/max/pkg/provider"
	"github.com/aretw0/max/pkg/supervisor"
)

// NodeProfile is the subprocess profile that re-executes this binary as a node.
const NodeProfile = "max"

// Connectors is the catalog every installation hosted by this binary can use.
func Connectors() node.Catalog {
	return node.Catalog{
		memory.ConnectorName: memory.ConnectorFactory,
		loam.ConnectorName:   loam.ConnectorFactory,
	}
}

// Runtime is a workspace assembled from a project configuration, with the
// stores and observers it owns.
type Runtime struct {
	Config    *config.Config
	Workspace *node.Workspace
	Metrics   *metrics.Collector
	Streams   *adminhttp.StreamManager
	Hooks     domain.LifecycleHooks

	scheduler *execution.Scheduler
	logger    *slog.Logger
	closers   []func() error
}

type stores struct {
	syncs   ports.SyncStore
	data    node.DataStoreFactory
	locker  ports.DistributedLocker
	closers []func() error
}

func openStores(ctx context.Context, cfg config.StoreConfig, ttl time.Duration) (stores, error) {
	var s stores
	switch cfg.Kind {
	case config.StoreFile:
		s.syncs = file.New(cfg.Path)
	case config.StoreSQLite:
		db, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return s, err
		}
		s.syncs = db.SyncStore()
		s.data = db.DataStore
		s.closers = append(s.closers, db.Close)
	case config.StoreRedis:
		opts := []redis.Option{redis.WithTTL(ttl)}
		if cfg.Prefix != "" {
			opts = append(opts, redis.WithPrefix(cfg.Prefix))
		}
		rs, err := redis.NewFromURL(cfg.URL, opts...)
		if err != nil {
			return s, err
		}
		s.syncs = rs
		s.locker = redis.NewLocker(rs.Client(), cmp.Or(cfg.Prefix, redis.DefaultPrefix))
		s.closers = append(s.closers, rs.Close)
	default:
		s.syncs = memory.NewSyncStore()
	}
	return s, nil
}

// defaultProfiles adds the NodeProfile when the profiles file does not define it.
func defaultProfiles(profiles map[string]subprocess.Profile) (map[string]subprocess.Profile, error) {
	if _, ok := profiles[NodeProfile]; ok {
		return profiles, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return profiles, err
	}
	profiles[NodeProfile] = subprocess.Profile{
		Name:        NodeProfile,
		Command:     exe,
		Args:        []string{"node"},
		Description: "this binary in node mode",
	}
	return profiles, nil
}

// NewRuntime builds the workspace described by cfg. nodesDir holds the state
// of subprocess-hosted installations.
func NewRuntime(ctx context.Context, cfg *config.Config, nodesDir string, logger *slog.Logger) (*Runtime, error) {
	ttl, err := cfg.StoreTTL()
	if err != nil {
		return nil, err
	}
	policy, err := supervisor.ParseRestartPolicy(cfg.Restart)
	if err != nil {
		return nil, err
	}
	st, err := openStores(ctx, cfg.Store, ttl)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Kind, err)
	}
	profiles, err := subprocess.LoadProfiles(cfg.Profiles)
	if err != nil {
		return nil, errors.Join(err, closeAll(st.closers))
	}
	profiles, err = defaultProfiles(profiles)
	if err != nil {
		logger.Warn("Node profile unavailable", "err", err)
	}

	r := &Runtime{
		Config:    cfg,
		Metrics:   metrics.NewCollector(""),
		Streams:   adminhttp.NewStreamManager(),
		scheduler: execution.NewScheduler(execution.WithSchedulerLogger(logger)),
		logger:    logger,
		closers:   st.closers,
	}
	r.Hooks = r.Metrics.Hooks().Merge(r.Streams.Hooks())

	deps := inprocess.Dependencies{
		Connectors: Connectors(),
		DataStores: st.data,
		SyncStore:  st.syncs,
		Scheduler:  r.scheduler,
		Logger:     logger,
		Hooks:      r.Hooks,
	}
	installs := provider.NewSelector[protocol.Installation, domain.InstallationID]().
		Register(domain.ProviderInProcess, inprocess.NewInstallationProvider(deps)).
		Register(domain.ProviderSubprocess, subprocess.NewInstallationProvider(nodesDir,
			subprocess.WithProfiles(profiles),
			subprocess.WithLogger(logger),
		)).
		Register(domain.ProviderRemote, remote.NewInstallationProvider(remote.WithLogger(logger)))

	supOpts := []supervisor.Option{supervisor.WithRestartPolicy(policy)}
	if st.locker != nil {
		supOpts = append(supOpts, supervisor.WithLocker(st.locker, cfg.Workspace+":", 0))
	}
	r.Workspace = node.NewWorkspace(domain.WorkspaceID(cfg.Workspace), installs,
		node.WithWorkspaceLogger(logger),
		node.WithWorkspaceHooks(r.Hooks),
		node.WithSupervisorOptions(supOpts...),
	)
	return r, nil
}

// Start starts the workspace, registers the configured installations and
// starts the autostart ones. Installation failures are logged, not returned.
func (r *Runtime) Start(ctx context.Context) error {
	r.scheduler.Start()
	if _, err := r.Workspace.Start(ctx); err != nil {
		return fmt.Errorf("start workspace: %w", err)
	}
	ctl := r.Workspace.Installations()
	for _, id := range r.Config.InstallationIDs() {
		if err := ctl.Register(ctx, id, r.Config.Installations[string(id)]); err != nil {
			r.logger.Error("Installation registration failed", "installation", string(id), "err", err)
			continue
		}
		if !slices.Contains(r.Config.Autostart, string(id)) {
			continue
		}
		if _, err := ctl.Start(ctx, id); err != nil {
			r.logger.Error("Installation autostart failed", "installation", string(id), "err", err)
		}
	}
	return nil
}

// Close stops the workspace and releases the stores.
func (r *Runtime) Close(ctx context.Context) error {
	errs := []error{r.Workspace.Close(ctx), r.scheduler.Stop(ctx)}
	errs = append(errs, closeAll(r.closers))
	return errors.Join(errs...)
}

func closeAll(fns []func() error) error {
	var errs []error
	for _, fn := range fns {
		errs = append(errs, fn())
	}
	return errors.Join(errs...)
}
