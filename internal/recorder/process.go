package recorder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog/log"
)

type ProcessState string

const (
	ProcessStarting ProcessState = "starting"
	ProcessRunning  ProcessState = "running"
	ProcessClosed   ProcessState = "closed"
)

const (
	eventSpawned     = "spawned"
	eventSpawnFailed = "spawn_failed"
	eventExited      = "exited"
)

type EventType int

const (
	// EventOutput is a line of stdout or stderr
	EventOutput EventType = iota
	// EventError is a diagnostic error, the process keeps running
	EventError
	// EventClosed is sent once when the process has exited
	EventClosed
)

func (t EventType) String() string {
	switch t {
	case EventOutput:
		return "output"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	}

	return "unknown"
}

type ProcessEvent struct {
	Type   EventType
	Stream string
	Line   string
	Err    error
}

var errProcessReported = errors.New("recording process reported an error")

// Process supervises one ffmpeg process.
//
// The input is written to stdin and stdin is closed right after that, so
// ffmpeg starts reading the stream immediately. Events must be drained by
// the owner until the channel is closed, otherwise output of the process
// blocks.
type Process struct {
	binary string
	args   []string
	input  []byte

	lock     sync.Mutex
	cmd      *exec.Cmd
	state    *fsm.FSM
	stopping bool
	writer   sync.WaitGroup

	events chan ProcessEvent
	done   chan struct{}
}

func NewProcess(binary string, args []string, input []byte) *Process {
	p := &Process{
		binary: binary,
		args:   args,
		input:  input,
		events: make(chan ProcessEvent, 64),
		done:   make(chan struct{}),
	}

	p.state = fsm.NewFSM(
		string(ProcessStarting),
		fsm.Events{
			{Name: eventSpawned, Src: []string{string(ProcessStarting)}, Dst: string(ProcessRunning)},
			{Name: eventSpawnFailed, Src: []string{string(ProcessStarting)}, Dst: string(ProcessClosed)},
			{Name: eventExited, Src: []string{string(ProcessRunning)}, Dst: string(ProcessClosed)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debug().Str("service", "recorder").Str("binary", p.binary).Str("from", e.Src).Str("to", e.Dst).Msg("process state changed")
			},
		},
	)

	return p
}

// Start spawns the process. On failure no events are emitted and nothing
// has to be cleaned up.
func (p *Process) Start() error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if !p.state.Is(string(ProcessStarting)) {
		return errProcessNotStarting
	}

	cmd := exec.Command(p.binary, p.args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return p.spawnFailed(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return p.spawnFailed(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return p.spawnFailed(err)
	}

	if err := cmd.Start(); err != nil {
		return p.spawnFailed(err)
	}

	p.cmd = cmd
	if err := p.state.Event(context.Background(), eventSpawned); err != nil {
		log.Error().Err(err).Str("service", "recorder").Msg("")
	}

	log.Debug().Str("service", "recorder").Int("pid", cmd.Process.Pid).Strs("args", p.args).Msg("process started")

	p.writer.Add(1)
	go p.writeInput(stdin)
	go p.monitor(stdout, stderr)

	return nil
}

func (p *Process) spawnFailed(cause error) error {
	if err := p.state.Event(context.Background(), eventSpawnFailed); err != nil {
		log.Error().Err(err).Str("service", "recorder").Msg("")
	}

	close(p.events)
	close(p.done)

	return fmt.Errorf("%w: %w", ErrSpawnFailed, cause)
}

// Stop asks the process to finish the output file and exit.
// Calling it again or after exit does nothing.
func (p *Process) Stop() error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if !p.state.Is(string(ProcessRunning)) || p.stopping {
		return nil
	}
	p.stopping = true

	log.Debug().Str("service", "recorder").Int("pid", p.cmd.Process.Pid).Msg("interrupt process")

	if err := p.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}

	return nil
}

// Kill terminates the process without letting it finalize the file
func (p *Process) Kill() error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if !p.state.Is(string(ProcessRunning)) {
		return nil
	}

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}

	return nil
}

func (p *Process) Events() <-chan ProcessEvent {
	return p.events
}

// Done is closed when the process has exited or failed to spawn
func (p *Process) Done() <-chan struct{} {
	return p.done
}

func (p *Process) State() ProcessState {
	return ProcessState(p.state.Current())
}

func (p *Process) Pid() int {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}

	return p.cmd.Process.Pid
}

func (p *Process) writeInput(stdin io.WriteCloser) {
	defer p.writer.Done()
	defer stdin.Close()

	if _, err := stdin.Write(p.input); err != nil {
		p.events <- ProcessEvent{
			Type: EventError,
			Err:  fmt.Errorf("write session description: %w", err),
		}
	}
}

func (p *Process) monitor(stdout, stderr io.Reader) {
	var wg sync.WaitGroup

	wg.Add(2)
	go p.scan(&wg, "stdout", stdout)
	go p.scan(&wg, "stderr", stderr)

	// Pipes must be read to the end before Wait
	wg.Wait()
	p.writer.Wait()

	err := p.cmd.Wait()

	if evErr := p.state.Event(context.Background(), eventExited); evErr != nil {
		log.Error().Err(evErr).Str("service", "recorder").Msg("")
	}

	p.events <- ProcessEvent{Type: EventClosed, Err: err}
	close(p.events)
	close(p.done)
}

func (p *Process) scan(wg *sync.WaitGroup, stream string, r io.Reader) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		p.events <- ProcessEvent{Type: EventOutput, Stream: stream, Line: line}

		if isErrorLine(line) {
			p.events <- ProcessEvent{Type: EventError, Stream: stream, Line: line, Err: errProcessReported}
		}
	}

	if err := scanner.Err(); err != nil {
		p.events <- ProcessEvent{Type: EventError, Stream: stream, Err: err}
		// Drain the rest, the process must not block on a full pipe
		_, _ = io.Copy(io.Discard, r)
	}
}

func isErrorLine(line string) bool {
	l := strings.ToLower(line)

	return strings.Contains(l, "error") || strings.Contains(l, "invalid data")
}
