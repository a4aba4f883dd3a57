package execution

import (
	"fmt"
	"sync"

	"github.com/hodeiorg/hodei-pipelines/pkg/log"
	"github.com/hodeiorg/hodei-pipelines/pkg/wire"
	"github.com/rs/zerolog"
)

// session is one connected worker's live bidirectional stream. Mirrors
// the teacher's pkg/worker connection-tracking shape: a send channel
// pumped by a dedicated goroutine so Session's receive loop never
// blocks on a slow writer.
type session struct {
	workerID string
	stream   wire.ServerSideStream
	sendCh   chan *wire.ServerMessage
	done     chan struct{}
}

// Hub is the orchestrator-side wire.SessionHandler: one Session call
// per connected worker, held open for the worker's lifetime. It holds
// no domain logic of its own — every ClientMessage is handed to the
// Engine, which owns executions.
type Hub struct {
	engine *Engine

	mu       sync.RWMutex
	sessions map[string]*session

	logger zerolog.Logger
}

// NewHub creates a Hub bound to engine. The Engine must still be told
// about the Hub via Engine.SetHub before any job can be dispatched,
// since the Engine needs the Hub to send jobs but the Hub needs the
// Engine to route incoming messages — the cycle is broken by
// constructing both, then wiring each into the other.
func NewHub(engine *Engine) *Hub {
	return &Hub{
		engine:   engine,
		sessions: make(map[string]*session),
		logger:   log.WithComponent("execution.hub"),
	}
}

const sendBuffer = 64

// Session implements wire.SessionHandler. The first message on the
// stream must be a RegistrationRequest (§6); anything else aborts the
// session.
func (h *Hub) Session(stream wire.ServerSideStream) error {
	first, err := stream.Recv()
	if err != nil {
		return fmt.Errorf("reading registration: %w", err)
	}
	if first.Registration == nil {
		return fmt.Errorf("first message on session must be a registration request")
	}
	reg := first.Registration

	sess := &session{
		workerID: reg.WorkerID,
		stream:   stream,
		sendCh:   make(chan *wire.ServerMessage, sendBuffer),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	h.sessions[sess.workerID] = sess
	h.mu.Unlock()

	h.logger.Info().Str("worker_id", sess.workerID).Str("worker_name", reg.Name).Msg("worker registered")

	defer func() {
		h.mu.Lock()
		if h.sessions[sess.workerID] == sess {
			delete(h.sessions, sess.workerID)
		}
		h.mu.Unlock()
		close(sess.done)
		h.logger.Info().Str("worker_id", sess.workerID).Msg("worker session closed")
	}()

	if err := stream.Send(&wire.ServerMessage{RegistrationAck: &wire.RegistrationAck{Accepted: true}}); err != nil {
		return fmt.Errorf("sending registration ack: %w", err)
	}

	go h.pump(sess)

	h.engine.onWorkerConnected(sess.workerID)

	for {
		msg, err := stream.Recv()
		if err != nil {
			return err
		}
		h.engine.handleClientMessage(stream.Context(), sess.workerID, msg)
	}
}

func (h *Hub) pump(sess *session) {
	for {
		select {
		case msg, ok := <-sess.sendCh:
			if !ok {
				return
			}
			if err := sess.stream.Send(msg); err != nil {
				h.logger.Warn().Err(err).Str("worker_id", sess.workerID).Msg("failed to send to worker, dropping session")
				return
			}
		case <-sess.done:
			return
		}
	}
}

// Send queues msg for delivery to workerID's session. Returns an error
// if the worker is not currently connected.
func (h *Hub) Send(workerID string, msg *wire.ServerMessage) error {
	h.mu.RLock()
	sess, ok := h.sessions[workerID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("worker %s is not connected", workerID)
	}
	select {
	case sess.sendCh <- msg:
		return nil
	case <-sess.done:
		return fmt.Errorf("worker %s session closed while sending", workerID)
	}
}

// IsConnected reports whether workerID currently holds an open session.
func (h *Hub) IsConnected(workerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[workerID]
	return ok
}
