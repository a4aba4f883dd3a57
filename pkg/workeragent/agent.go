package workeragent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/hodeiorg/hodei-pipelines/pkg/artifact"
	"github.com/hodeiorg/hodei-pipelines/pkg/log"
	"github.com/hodeiorg/hodei-pipelines/pkg/security"
	"github.com/hodeiorg/hodei-pipelines/pkg/types"
	"github.com/hodeiorg/hodei-pipelines/pkg/wire"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// HeartbeatInterval is how often the agent reports liveness while
// connected (§6).
const HeartbeatInterval = 10 * time.Second

// Config configures one worker agent process.
type Config struct {
	WorkerID         string
	Name             string
	OrchestratorHost string
	OrchestratorPort int
	CacheDir         string
	Languages        []string
	Tools            []string
	Features         []string
	Security         security.Manager
	Probes           []types.Probe
}

func (c Config) addr() string {
	return fmt.Sprintf("%s:%d", c.OrchestratorHost, c.OrchestratorPort)
}

// runningJob tracks the one job this agent executes at a time. §1 scopes
// a worker to single-job execution; a pool scales by adding workers, not
// by packing jobs onto one.
type runningJob struct {
	executionID string
	cancel      context.CancelFunc
}

// Agent is the worker-side process that registers with the
// orchestrator, executes the one job it is handed at a time, and
// streams output, status and artifacts back over a single wire
// session.
//
// Grounded on the teacher's pkg/worker/worker.go connect/register/
// dispatch loop, narrowed from "run containers" to "run one job's
// command line" since container lifecycle here belongs to pkg/driver
// running on the orchestrator side before this process ever starts.
type Agent struct {
	cfg    Config
	cache  *artifact.Cache
	logger zerolog.Logger

	conn   *grpc.ClientConn
	stream wire.ClientSideStream

	mu      sync.Mutex
	current *runningJob
	status  string
}

// New constructs an Agent. cacheDir is created if absent.
func New(cfg Config) (*Agent, error) {
	if cfg.Security == nil {
		cfg.Security = security.Permissive{}
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(os.TempDir(), "hodei-artifacts-"+cfg.WorkerID)
	}

	cache, err := artifact.NewCache(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("opening artifact cache: %w", err)
	}

	return &Agent{
		cfg:    cfg,
		cache:  cache,
		logger: log.WithWorkerID(cfg.WorkerID),
		status: "idle",
	}, nil
}

// Connect dials the orchestrator, opens the session stream and sends
// the registration handshake. It blocks until a RegistrationAck
// arrives.
func (a *Agent) Connect(ctx context.Context) error {
	conn, err := grpc.NewClient(a.cfg.addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dialing orchestrator %s: %w", a.cfg.addr(), err)
	}

	stream, err := wire.OpenSession(ctx, conn)
	if err != nil {
		conn.Close()
		return err
	}

	if err := stream.Send(&wire.ClientMessage{Registration: &wire.RegistrationRequest{
		WorkerID:  a.cfg.WorkerID,
		Name:      a.cfg.Name,
		Languages: a.cfg.Languages,
		Tools:     a.cfg.Tools,
		Features:  a.cfg.Features,
	}}); err != nil {
		conn.Close()
		return fmt.Errorf("sending registration: %w", err)
	}

	reply, err := stream.Recv()
	if err != nil {
		conn.Close()
		return fmt.Errorf("awaiting registration ack: %w", err)
	}
	if reply.RegistrationAck == nil || !reply.RegistrationAck.Accepted {
		conn.Close()
		reason := "rejected"
		if reply.RegistrationAck != nil {
			reason = reply.RegistrationAck.Reason
		}
		return fmt.Errorf("registration rejected: %s", reason)
	}

	a.conn = conn
	a.stream = stream
	a.logger.Info().Msg("registered with orchestrator")
	return nil
}

// Close tears down the session and the underlying connection.
func (a *Agent) Close() error {
	if a.stream != nil {
		_ = a.stream.CloseSend()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

// Run drives the receive loop and the heartbeat loop until ctx is
// cancelled or the stream fails. Connect must have succeeded first.
func (a *Agent) Run(ctx context.Context) error {
	go a.heartbeatLoop(ctx)

	for {
		msg, err := a.stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("session recv: %w", err)
		}

		switch {
		case msg.JobRequest != nil:
			a.dispatch(ctx, msg.JobRequest)
		case msg.Control != nil:
			a.handleControl(msg.Control)
		case msg.ArtifactChunk != nil:
			a.handleArtifactChunk(msg.ArtifactChunk)
		case msg.ArtifactCacheQuery != nil:
			a.handleCacheQuery(msg.ArtifactCacheQuery)
		}
	}
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			status := a.status
			a.mu.Unlock()

			if err := a.stream.Send(&wire.ClientMessage{Heartbeat: &wire.Heartbeat{
				WorkerID: a.cfg.WorkerID,
				Status:   status,
				SentAt:   time.Now(),
			}}); err != nil {
				a.logger.Warn().Err(err).Msg("heartbeat send failed")
			}
		}
	}
}

// dispatch starts executing req's job definition in a fresh goroutine
// so the receive loop stays free to accept control signals and
// artifact chunks for the same execution while it runs.
func (a *Agent) dispatch(ctx context.Context, req *wire.JobRequest) {
	def := req.Definition

	if err := a.cfg.Security.Authorize(joinCommand(def.CommandLine), def.Libraries); err != nil {
		a.sendStatus(def.ExecutionID, wire.StatusFailed, nil, err.Error())
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.current = &runningJob{executionID: def.ExecutionID, cancel: cancel}
	a.status = "busy"
	a.mu.Unlock()

	go a.execute(runCtx, def)
}

func joinCommand(cmd []string) string {
	out := ""
	for i, c := range cmd {
		if i > 0 {
			out += " "
		}
		out += c
	}
	return out
}

func (a *Agent) execute(ctx context.Context, def wire.JobDefinition) {
	defer func() {
		a.mu.Lock()
		a.current = nil
		a.status = "idle"
		a.mu.Unlock()
	}()

	logger := log.WithExecutionID(def.ExecutionID)
	a.sendStatus(def.ExecutionID, wire.StatusRunning, nil, "")

	if len(def.CommandLine) == 0 {
		a.sendStatus(def.ExecutionID, wire.StatusFailed, nil, "job definition carries no command line")
		return
	}

	cmd := exec.CommandContext(ctx, def.CommandLine[0], def.CommandLine[1:]...)
	cmd.Env = append(os.Environ(), def.Env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		a.sendStatus(def.ExecutionID, wire.StatusFailed, nil, err.Error())
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		a.sendStatus(def.ExecutionID, wire.StatusFailed, nil, err.Error())
		return
	}

	if err := cmd.Start(); err != nil {
		a.sendStatus(def.ExecutionID, wire.StatusFailed, nil, err.Error())
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go a.pumpOutput(&wg, def.ExecutionID, stdout, false)
	go a.pumpOutput(&wg, def.ExecutionID, stderr, true)
	wg.Wait()

	err = cmd.Wait()
	switch {
	case ctx.Err() != nil:
		a.sendStatus(def.ExecutionID, wire.StatusCancelled, nil, "cancelled")
	case err == nil:
		code := int32(0)
		a.sendStatus(def.ExecutionID, wire.StatusSuccess, &code, "")
	default:
		code := exitCodeOf(err)
		a.sendStatus(def.ExecutionID, wire.StatusFailed, &code, err.Error())
	}

	logger.Info().Msg("job execution finished")
}

func exitCodeOf(err error) int32 {
	if exitErr, ok := err.(*exec.ExitError); ok {
		return int32(exitErr.ExitCode())
	}
	return -1
}

func (a *Agent) pumpOutput(wg *sync.WaitGroup, executionID string, r io.Reader, isStderr bool) {
	defer wg.Done()
	buf := make([]byte, 32*1024)
	reader := bufio.NewReader(r)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			a.sendOutput(executionID, chunk, isStderr)
		}
		if err != nil {
			return
		}
	}
}

func (a *Agent) sendOutput(executionID string, data []byte, isStderr bool) {
	err := a.stream.Send(&wire.ClientMessage{Output: &wire.JobOutputAndStatus{
		OutputChunk: &wire.OutputChunk{
			ExecutionID: executionID,
			Data:        data,
			IsStderr:    isStderr,
			Timestamp:   time.Now(),
		},
	}})
	if err != nil {
		a.logger.Warn().Err(err).Msg("output send failed")
	}
}

func (a *Agent) sendStatus(executionID string, status wire.JobStatus, exitCode *int32, reason string) {
	err := a.stream.Send(&wire.ClientMessage{Output: &wire.JobOutputAndStatus{
		StatusUpdate: &wire.StatusUpdate{
			ExecutionID:   executionID,
			Status:        status,
			ExitCode:      exitCode,
			FailureReason: reason,
		},
	}})
	if err != nil {
		a.logger.Warn().Err(err).Msg("status send failed")
	}
}

// handleControl acts on a server-issued control signal (§6). Only
// CANCEL is meaningful to a single-job agent; PAUSE/RESUME apply at the
// pool level and this agent has nothing to do with them.
func (a *Agent) handleControl(sig *wire.ControlSignal) {
	if sig.Type != wire.ControlCancel {
		return
	}
	a.mu.Lock()
	cur := a.current
	a.mu.Unlock()

	if cur != nil && cur.executionID == sig.ExecutionID {
		cur.cancel()
	}
}

// handleArtifactChunk accumulates an inbound artifact transfer and
// acks once the final chunk lands (§4.2).
func (a *Agent) handleArtifactChunk(chunk *wire.ArtifactChunk) {
	if chunk.Sequence == 0 {
		a.cache.BeginDownload(chunk.ArtifactID, types.Compression(chunk.Compression), chunk.OriginalSize)
	}
	if err := a.cache.AppendChunk(chunk.ArtifactID, chunk.Sequence, chunk.Data); err != nil {
		a.logger.Warn().Err(err).Str("artifact_id", chunk.ArtifactID).Msg("dropping artifact chunk")
		return
	}
	if !chunk.IsLast {
		return
	}

	checksum, err := a.cache.Complete(chunk.ArtifactID)
	ack := &wire.ArtifactAck{ArtifactID: chunk.ArtifactID}
	if err != nil {
		a.logger.Warn().Err(err).Str("artifact_id", chunk.ArtifactID).Msg("artifact assembly failed")
		ack.Success = false
	} else {
		ack.Success = true
		ack.CalculatedChecksum = checksum
	}

	if err := a.stream.Send(&wire.ClientMessage{ArtifactAck: ack}); err != nil {
		a.logger.Warn().Err(err).Msg("artifact ack send failed")
	}
}

// handleCacheQuery answers an orchestrator cache probe with this
// worker's current holdings (§4.2).
func (a *Agent) handleCacheQuery(q *wire.ArtifactCacheQuery) {
	infos := a.cache.Query(q.ArtifactIDs)
	wireInfos := make([]wire.ArtifactInfo, len(infos))
	for i, info := range infos {
		wireInfos[i] = wire.ArtifactInfo{
			ArtifactID:    info.ArtifactID,
			Cached:        info.Cached,
			Checksum:      info.Checksum,
			NeedsTransfer: info.NeedsTransfer,
			TotalSize:     info.TotalSize,
		}
	}
	if err := a.stream.Send(&wire.ClientMessage{ArtifactCacheResponse: &wire.ArtifactCacheResponse{ArtifactInfos: wireInfos}}); err != nil {
		a.logger.Warn().Err(err).Msg("cache response send failed")
	}
}
