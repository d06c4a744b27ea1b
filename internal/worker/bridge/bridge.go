package bridge

import (
	"context"
	"fmt"

	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/splax/coderoom/internal/terminal"
	"github.com/splax/coderoom/internal/worker/sandbox"
)

const outputBufferSize = 4096

// Bridge pairs sandbox exec streams with the control plane's terminal
// socket server: it dials the API as a websocket client, registers under
// the project's instance key, and pipes shell traffic in both directions.
type Bridge struct {
	runtime     sandbox.Runtime
	registry    *terminal.Registry
	apiEndpoint string
	logger      *slog.Logger
}

// New returns a bridge that dials the given API websocket endpoint.
func New(runtime sandbox.Runtime, registry *terminal.Registry, apiEndpoint string, logger *slog.Logger) *Bridge {
	return &Bridge{
		runtime:     runtime,
		registry:    registry,
		apiEndpoint: apiEndpoint,
		logger:      logger,
	}
}

// Attach opens an interactive shell in the sandbox and registers the
// instance-side socket with the control plane. A previous session for the
// same project is torn down first.
func (b *Bridge) Attach(ctx context.Context, projectID int64, containerID string) error {
	b.Detach(projectID)

	stream, err := b.runtime.Exec(ctx, containerID)
	if err != nil {
		return fmt.Errorf("open sandbox shell: %w", err)
	}

	wsConn, _, err := websocket.DefaultDialer.DialContext(ctx, b.apiEndpoint, nil)
	if err != nil {
		_ = stream.Close()
		return fmt.Errorf("dial terminal endpoint: %w", err)
	}
	conn := terminal.NewWSConn(wsConn)

	key := terminal.InstanceKey(projectID)
	if err := conn.WriteEvent(terminal.Event{Event: terminal.EventRegister, Payload: key.String()}); err != nil {
		_ = conn.Close()
		_ = stream.Close()
		return fmt.Errorf("register instance socket: %w", err)
	}
	b.registry.Register(key, conn)

	go b.pumpOutput(projectID, stream, conn)
	go b.pumpEvents(projectID, stream, conn)
	b.logger.Info("sandbox terminal attached", "project_id", projectID, "container_id", containerID)
	return nil
}

// Detach closes the project's live session, if any. The pumps observe the
// closed connection and release the exec stream.
func (b *Bridge) Detach(projectID int64) {
	key := terminal.InstanceKey(projectID)
	if conn, ok := b.registry.Lookup(key); ok {
		_ = conn.Close()
		b.registry.Remove(key, conn)
	}
}

// pumpOutput copies shell output to the relay as output events. A stream
// failure is surfaced once as an error event with the message only.
func (b *Bridge) pumpOutput(projectID int64, stream sandbox.ExecStream, conn terminal.Conn) {
	buf := make([]byte, outputBufferSize)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if writeErr := conn.WriteEvent(terminal.Event{Event: terminal.EventOutput, Payload: string(buf[:n])}); writeErr != nil {
				return
			}
		}
		if err != nil {
			_ = conn.WriteEvent(terminal.Event{Event: terminal.EventError, Payload: err.Error()})
			return
		}
	}
}

// pumpEvents feeds relayed commands into the shell and tears the session
// down on peer disconnect.
func (b *Bridge) pumpEvents(projectID int64, stream sandbox.ExecStream, conn terminal.Conn) {
	defer func() {
		_ = stream.Close()
		_ = conn.Close()
		b.registry.Remove(terminal.InstanceKey(projectID), conn)
		b.logger.Info("sandbox terminal detached", "project_id", projectID)
	}()
	for {
		ev, err := conn.ReadEvent()
		if err != nil {
			return
		}
		switch ev.Event {
		case terminal.EventCommand:
			if _, err := stream.Write([]byte(ev.Payload + "\n")); err != nil {
				_ = conn.WriteEvent(terminal.Event{Event: terminal.EventError, Payload: err.Error()})
				return
			}
		case terminal.EventPeerDisconnected, terminal.EventSessionEnd:
			return
		}
	}
}
