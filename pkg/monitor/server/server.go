package server

import (
	"context"
	"net"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/helvethink/dora-exporter/pkg/config"
	"github.com/helvethink/dora-exporter/pkg/monitor"
	"github.com/helvethink/dora-exporter/pkg/schemas"
	"github.com/helvethink/dora-exporter/pkg/sources"
	"github.com/helvethink/dora-exporter/pkg/store"
)

// Source is a reconciled source as seen by the monitoring server.
type Source interface {
	Name() string
	Kind() schemas.SourceKind
	LastRun() schemas.SyncRun
	Usage() sources.Usage
}

// Server is the gRPC server the monitor UI connects to.
type Server struct {
	cfg                      config.Config
	store                    store.Store
	sources                  []Source
	taskSchedulingMonitoring *monitor.TaskSchedulingMonitoring

	// Interval between two telemetry snapshots
	Interval time.Duration
}

// NewServer creates a new Server instance.
func NewServer(
	c config.Config,
	st store.Store,
	srcs []Source,
	tsm *monitor.TaskSchedulingMonitoring,
) (s *Server) {
	s = &Server{
		cfg:                      c,
		store:                    st,
		sources:                  srcs,
		taskSchedulingMonitoring: tsm,
		Interval:                 time.Second,
	}

	return
}

// Serve listens on the internal monitoring address until ctx is done.
// It returns straight away when no address is configured.
func (s *Server) Serve(ctx context.Context) {
	addr := s.cfg.Global.InternalMonitoringListenerAddress
	if addr == nil {
		log.Info("internal monitoring listener address not set")
		return
	}

	log.WithFields(log.Fields{
		"scheme": addr.Scheme,
		"host":   addr.Host,
		"path":   addr.Path,
	}).Info("internal monitoring listener set")

	grpcServer := grpc.NewServer()
	monitor.RegisterMonitorServer(grpcServer, s)

	var (
		l   net.Listener
		err error
	)

	switch addr.Scheme {
	case "unix":
		// Left over by a previous run
		if _, err = os.Stat(addr.Path); err == nil {
			if err = os.Remove(addr.Path); err != nil {
				log.WithError(err).Error("removing monitoring socket")
				return
			}
		}

		// The listener unlinks the socket when closed
		if l, err = net.Listen("unix", addr.Path); err != nil {
			log.WithError(err).Error("listening on monitoring socket")
			return
		}
	default:
		if l, err = net.Listen(addr.Scheme, addr.Host); err != nil {
			log.WithError(err).Error("listening on monitoring address")
			return
		}
	}

	go func() {
		<-ctx.Done()
		grpcServer.GracefulStop()
	}()

	if err = grpcServer.Serve(l); err != nil {
		log.WithError(err).Error("serving internal monitoring")
	}
}

// GetConfig returns the configuration, secrets masked.
func (s *Server) GetConfig(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		monitor.ConfigContentFieldName: s.cfg.ToYAML(),
	})
}

// GetTelemetry streams telemetry to the client until it goes away.
func (s *Server) GetTelemetry(_ *emptypb.Empty, ts monitor.TelemetryStream) error {
	ctx := ts.Context()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		t, err := s.Telemetry(ctx)
		if err != nil {
			return err
		}

		msg, err := t.ToStruct()
		if err != nil {
			return err
		}

		if err = ts.Send(msg); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Telemetry takes a snapshot of the exporter state.
func (s *Server) Telemetry(ctx context.Context) (t monitor.Telemetry, err error) {
	if t.Deployments, err = s.store.DeploymentsCount(ctx); err != nil {
		return
	}

	if t.Incidents, err = s.store.IncidentsCount(ctx); err != nil {
		return
	}

	queuedTasks, err := s.store.CurrentlyQueuedTasksCount(ctx)
	if err != nil {
		return
	}

	t.TasksBufferUsage = monitor.Ratio(float64(queuedTasks), float64(s.cfg.Limits.MaximumJobsQueueSize))

	if t.TasksExecutedCount, err = s.store.ExecutedTasksCount(ctx); err != nil {
		return
	}

	for _, src := range s.sources {
		usage := src.Usage()
		run := src.LastRun()

		st := monitor.SourceTelemetry{
			Name:              src.Name(),
			Kind:              string(src.Kind()),
			RequestsCount:     usage.RequestsCount,
			APIUsage:          monitor.Ratio(float64(usage.RequestsPerSecond), float64(s.cfg.Limits.MaximumRequestsPerSecond)),
			RateLimitUsage:    monitor.Ratio(float64(usage.RequestsRemaining), float64(usage.RequestsLimit)),
			RequestsRemaining: usage.RequestsRemaining,
			LastSync:          run.FinishedAt,
			LastSyncSucceeded: run.Succeeded(),
			LastSyncUpserted:  run.Upserted,
			LastSyncFailed:    run.Failed,
		}

		if run.Err != nil {
			st.LastSyncError = run.Err.Error()
		}

		if status, ok := s.taskSchedulingMonitoring.Get(src.Kind().TaskType()); ok {
			st.NextSync = status.Next
		}

		t.Sources = append(t.Sources, st)
	}

	return
}
