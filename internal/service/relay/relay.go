package relay

import (
	"context"
	"errors"
	"fmt"

	"log/slog"

	"github.com/splax/coderoom/internal/apperr"
	"github.com/splax/coderoom/internal/domain"
	"github.com/splax/coderoom/internal/repository"
	"github.com/splax/coderoom/internal/terminal"
)

const sessionEndMessage = "socket disconnected and stream ended"

// WorkerClient triggers the instance-side terminal registration on the
// worker that owns a project's sandbox.
type WorkerClient interface {
	AttachTerminal(ctx context.Context, address string, projectID int64) error
}

// Service bridges a registered browser connection and a registered sandbox
// connection for the life of a terminal session. The registry is owned by
// the API process and injected here; nothing about a session survives either
// connection or a process restart.
type Service struct {
	registry  *terminal.Registry
	projects  repository.ProjectRepository
	instances repository.InstanceRepository
	worker    WorkerClient
	logger    *slog.Logger
}

// New returns a relay service bound to the process-local registry.
func New(registry *terminal.Registry, projects repository.ProjectRepository, instances repository.InstanceRepository, worker WorkerClient, logger *slog.Logger) Service {
	return Service{
		registry:  registry,
		projects:  projects,
		instances: instances,
		worker:    worker,
		logger:    logger,
	}
}

// Registry exposes the rendezvous registry for socket handlers.
func (s Service) Registry() *terminal.Registry {
	return s.registry
}

// ConnectProject establishes a terminal session for a ready project: it asks
// the owning worker to attach its sandbox socket, then wires that socket to
// the already-registered browser socket. The browser must have registered
// before this call; there is no waiting.
func (s Service) ConnectProject(ctx context.Context, projectID int64) error {
	proj, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return err
	}
	if proj.Status != domain.StatusReady {
		return apperr.Validation("project %d is not ready (status %s)", projectID, proj.Status)
	}
	if _, ok := s.registry.Lookup(terminal.ClientKey(projectID)); !ok {
		return fmt.Errorf("%w: no browser socket for project %d", apperr.ErrPeerNotRegistered, projectID)
	}

	inst, err := s.instances.GetInstanceByID(ctx, proj.InstanceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.Validation("project %d has no assigned worker", projectID)
		}
		return err
	}
	if err := s.worker.AttachTerminal(ctx, inst.Address, projectID); err != nil {
		return fmt.Errorf("attach sandbox terminal: %w", err)
	}
	return s.Connect(projectID)
}

// Connect looks up both peers of a project's terminal session and wires the
// four forwardings. Registration must already have happened on both sides;
// no waiting or queuing is performed.
func (s Service) Connect(projectID int64) error {
	client, ok := s.registry.Lookup(terminal.ClientKey(projectID))
	if !ok {
		return fmt.Errorf("%w: no browser socket for project %d", apperr.ErrPeerNotRegistered, projectID)
	}
	instance, ok := s.registry.Lookup(terminal.InstanceKey(projectID))
	if !ok {
		return fmt.Errorf("%w: no sandbox socket for project %d", apperr.ErrPeerNotRegistered, projectID)
	}

	go s.pumpClient(projectID, client, instance)
	go s.pumpInstance(projectID, instance, client)
	s.logger.Info("terminal session wired", "project_id", projectID)
	return nil
}

// pumpClient forwards browser commands to the sandbox until the browser
// disconnects, then notifies both sides that the session is over.
func (s Service) pumpClient(projectID int64, client, instance terminal.Conn) {
	for {
		ev, err := client.ReadEvent()
		if err != nil {
			if writeErr := instance.WriteEvent(terminal.Event{Event: terminal.EventPeerDisconnected}); writeErr != nil {
				s.logger.Warn("peer disconnect notify failed", "project_id", projectID, "error", writeErr)
			}
			_ = client.WriteEvent(terminal.Event{Event: terminal.EventSessionEnd, Payload: sessionEndMessage})
			s.registry.Remove(terminal.ClientKey(projectID), client)
			s.logger.Info("terminal session ended", "project_id", projectID)
			return
		}
		if ev.Event != terminal.EventCommand {
			continue
		}
		if err := instance.WriteEvent(ev); err != nil {
			s.logger.Warn("command forward failed", "project_id", projectID, "error", err)
			return
		}
	}
}

// pumpInstance forwards sandbox output and error events to the browser.
func (s Service) pumpInstance(projectID int64, instance, client terminal.Conn) {
	for {
		ev, err := instance.ReadEvent()
		if err != nil {
			s.registry.Remove(terminal.InstanceKey(projectID), instance)
			return
		}
		switch ev.Event {
		case terminal.EventOutput, terminal.EventError:
			if err := client.WriteEvent(ev); err != nil {
				s.logger.Warn("output forward failed", "project_id", projectID, "error", err)
				return
			}
		}
	}
}
