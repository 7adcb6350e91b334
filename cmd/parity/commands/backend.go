package commands

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/parity/pkg/api"
	"github.com/openfroyo/parity/pkg/engine"
	"github.com/openfroyo/parity/pkg/report"
)

// backend is what the inspection commands need. A server URL selects the
// HTTP client; otherwise the local registry and progress store are opened.
type backend interface {
	CreateSession(ctx context.Context, owner string) (*engine.Session, error)
	Sessions(ctx context.Context) ([]*engine.Session, error)
	Status(ctx context.Context, sessionID string) (*engine.StatusReport, error)
	Progress(ctx context.Context, sessionID string) (*engine.ProgressReport, error)
	Cancel(ctx context.Context, sessionID string) (*engine.TaskInfo, error)
	SessionReport(ctx context.Context, sessionID string) (*report.SessionReport, error)
}

var _ backend = (*api.Client)(nil)

// localBackend serves the inspection commands from an in-process app.
type localBackend struct {
	*app
}

func (b localBackend) CreateSession(ctx context.Context, owner string) (*engine.Session, error) {
	return b.sessions.Create(ctx, owner)
}

func (b localBackend) Sessions(ctx context.Context) ([]*engine.Session, error) {
	return b.sessions.List(ctx)
}

func (b localBackend) Status(ctx context.Context, sessionID string) (*engine.StatusReport, error) {
	return b.service.Status(ctx, sessionID)
}

func (b localBackend) Progress(ctx context.Context, sessionID string) (*engine.ProgressReport, error) {
	return b.service.Progress(ctx, sessionID)
}

func (b localBackend) Cancel(ctx context.Context, sessionID string) (*engine.TaskInfo, error) {
	return b.service.Cancel(ctx, sessionID)
}

func (b localBackend) SessionReport(ctx context.Context, sessionID string) (*report.SessionReport, error) {
	sess, err := b.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	execs, err := b.service.Executions(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return b.reports.Session(ctx, sess, execs)
}

// addServerFlag registers --server on cmd.
func addServerFlag(cmd *cobra.Command, server *string) {
	cmd.Flags().StringVarP(server, "server", "s", "", "parity server URL (default: open the local data directory)")
}

// openBackend returns the backend selected by server and a release function.
func openBackend(cmd *cobra.Command, server, version string) (backend, func(), error) {
	if server != "" {
		return api.NewClient(server), func() {}, nil
	}

	settings, err := loadSettings()
	if err != nil {
		return nil, nil, err
	}
	a, err := newApp(cmd.Context(), settings, version)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if err := a.Close(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Shutdown finished with errors")
		}
	}
	return localBackend{a}, release, nil
}
