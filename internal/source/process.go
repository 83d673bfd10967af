package source

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/bryanchriswhite/feedview/internal/logger"
)

// DefaultStopTimeout is how long Stop waits after SIGTERM before killing
const DefaultStopTimeout = 3 * time.Second

// Process runs the external decoder and exposes its stdout as a frame source.
// The command is run through sh -c so pipelines such as gst-launch-1.0 "!"
// chains parse the way they would in a terminal.
type Process struct {
	command string
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  io.ReadCloser
	reader  *Reader
	mu      sync.RWMutex
	running bool
	waitErr error
	exited  chan struct{}

	stderrDone  chan struct{}
	stopTimeout time.Duration
}

// NewProcess creates a decoder process for the given shell command
func NewProcess(command string) (*Process, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("decoder command is empty")
	}
	return &Process{
		command:     command,
		stopTimeout: DefaultStopTimeout,
	}, nil
}

// Start launches the decoder and begins reading its output
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("decoder already running")
	}

	log := logger.WithComponent("source")
	log.Debug().Str("command", p.command).Msg("Starting decoder process")

	p.cmd = exec.Command("sh", "-c", p.command)
	// Own process group so Stop reaches every process in a shell pipeline
	p.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	p.stdout = stdout

	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	p.stderr = stderr

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start decoder: %w", err)
	}

	p.running = true
	p.exited = make(chan struct{})
	p.stderrDone = make(chan struct{})
	p.reader = NewReader(stdout, DefaultChunkSize, DefaultQueueDepth)
	p.reader.Start()

	go p.logStderr()
	go p.wait()

	log.Info().Int("pid", p.cmd.Process.Pid).Msg("Decoder process started")
	return nil
}

// wait reaps the process once stdout and stderr are exhausted. Wait closes
// the pipes, so it must not run while they are still being read.
func (p *Process) wait() {
	<-p.reader.Done()
	<-p.stderrDone
	err := p.cmd.Wait()

	p.mu.Lock()
	p.waitErr = err
	p.running = false
	p.mu.Unlock()
	close(p.exited)

	log := logger.WithComponent("source")
	if err != nil {
		log.Warn().Err(err).Msg("Decoder process exited")
	} else {
		log.Info().Msg("Decoder process exited")
	}
}

// logStderr forwards decoder diagnostics to the log
func (p *Process) logStderr() {
	defer close(p.stderrDone)
	log := logger.WithComponent("source")
	scanner := bufio.NewScanner(p.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "ERROR") || strings.Contains(line, "WARN") || strings.Contains(strings.ToLower(line), "error") {
			log.Warn().Str("decoder", line).Msg("Decoder message")
		} else {
			log.Debug().Str("decoder", line).Msg("Decoder output")
		}
	}
}

// Drain returns decoder output received since the last call
func (p *Process) Drain() []byte {
	p.mu.RLock()
	r := p.reader
	p.mu.RUnlock()
	if r == nil {
		return nil
	}
	return r.Drain()
}

// Done is closed when the decoder's output has ended and the process has been
// reaped
func (p *Process) Done() <-chan struct{} {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exited
}

// Err returns how the decoder ended: a read error or a non-zero exit
func (p *Process) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.reader != nil {
		if err := p.reader.Err(); err != nil {
			return err
		}
	}
	return p.waitErr
}

// Stop sends SIGTERM to the decoder and SIGKILL if it is still running after
// the stop timeout. It returns once the process has been reaped.
func (p *Process) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	pid := p.cmd.Process.Pid
	p.reader.Stop()
	exited := p.exited
	timeout := p.stopTimeout
	p.mu.Unlock()

	log := logger.WithComponent("source")
	log.Debug().Int("pid", pid).Msg("Terminating decoder process")
	p.signal(pid, syscall.SIGTERM)

	select {
	case <-exited:
	case <-time.After(timeout):
		log.Warn().Int("pid", pid).Dur("timeout", timeout).Msg("Decoder did not exit, killing")
		p.signal(pid, syscall.SIGKILL)
		<-exited
	}

	log.Info().Msg("Decoder process stopped")
	return nil
}

// signal delivers sig to the decoder's process group, falling back to the
// process itself
func (p *Process) signal(pid int, sig syscall.Signal) {
	if err := syscall.Kill(-pid, sig); err != nil {
		p.cmd.Process.Signal(sig)
	}
}

// Pid returns the decoder's process id, or 0 if it has not started
func (p *Process) Pid() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// IsRunning returns whether the decoder is running
func (p *Process) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}
