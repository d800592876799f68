package collector

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"nettally/internal/buffer"
	"nettally/internal/config"
	"nettally/internal/trace"
)

// State of the supervision loop.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateRestarting
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateRestarting:
		return "restarting"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

const (
	initialBackoff = time.Second
	maxBackoff     = time.Minute

	// healthyRun is how long a subprocess must stay up before the restart
	// backoff resets.
	healthyRun = 5 * time.Minute

	// maxTraceLine bounds a single trace line. Longer lines are drained
	// and skipped without restarting the subprocess.
	maxTraceLine = 64 * 1024
)

// Collector owns the traffic-accounting subprocess: it launches it in
// streaming trace mode, pumps every output line through the parser and
// converter into the aggregation buffer, and restarts it with backoff when
// it exits unexpectedly.
type Collector struct {
	command string
	args    []string
	conv    *trace.Converter
	buf     *buffer.Buffer

	state   atomic.Int32
	backoff time.Duration

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// New builds a collector for the configured tool. The converter carries the
// same refresh interval the subprocess is launched with.
func New(cfg *config.Config, conv *trace.Converter, buf *buffer.Buffer) *Collector {
	args := []string{"-t", "-d", strconv.Itoa(cfg.RefreshSec)}
	args = append(args, cfg.Interfaces...)
	return &Collector{
		command: cfg.ToolCommand,
		args:    args,
		conv:    conv,
		buf:     buf,
		backoff: initialBackoff,
		now:     time.Now,
		after:   time.After,
	}
}

// State reports the current supervision state.
func (c *Collector) State() State {
	return State(c.state.Load())
}

func (c *Collector) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		log.Printf("Collector state: %s -> %s", old, s)
	}
}

// Run drives the supervision loop until ctx is cancelled. It returns only
// once the subprocess is gone and no more increments will be merged; the
// caller performs the final buffer flush after that.
func (c *Collector) Run(ctx context.Context) {
	for {
		c.setState(StateStarting)
		started := c.now()
		err := c.runOnce(ctx)

		if ctx.Err() != nil {
			c.setState(StateStopping)
			log.Println("Collector stopped.")
			return
		}

		if c.now().Sub(started) >= healthyRun {
			c.backoff = initialBackoff
		}
		c.setState(StateRestarting)
		log.Printf("Warning: accounting subprocess exited (%v), restarting in %s", err, c.backoff)

		select {
		case <-c.after(c.backoff):
		case <-ctx.Done():
			c.setState(StateStopping)
			log.Println("Collector stopped.")
			return
		}
		c.backoff = min(c.backoff*2, maxBackoff)
	}
}

// runOnce starts one subprocess and consumes its stdout until the process
// exits or ctx is cancelled.
func (c *Collector) runOnce(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.command, c.args...)
	cmd.Env = append(os.Environ(), "LANG=C", "LC_ALL=C")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", c.command, err)
	}

	c.setState(StateRunning)
	log.Printf("Accounting subprocess started: %s %s", c.command, strings.Join(c.args, " "))

	c.consume(stdout)
	return cmd.Wait()
}

// consume pumps trace lines into the buffer until the reader is exhausted.
// Parse failures and oversized lines are logged and skipped; they never
// abort the loop.
func (c *Collector) consume(r io.Reader) {
	reader := bufio.NewReaderSize(r, maxTraceLine)
	for {
		line, isPrefix, err := reader.ReadLine()
		if err != nil {
			if err != io.EOF {
				log.Printf("Warning: reading subprocess output: %v", err)
			}
			return
		}
		if isPrefix {
			skipped := len(line)
			for isPrefix {
				line, isPrefix, err = reader.ReadLine()
				if err != nil {
					if err != io.EOF {
						log.Printf("Warning: reading subprocess output: %v", err)
					}
					return
				}
				skipped += len(line)
			}
			log.Printf("Warning: skipping oversized trace line (%d bytes)", skipped)
			continue
		}

		sample, err := trace.ParseLine(string(line))
		if err != nil {
			log.Printf("Warning: skipping trace line: %v", err)
			continue
		}
		if sample == nil {
			continue
		}
		for _, inc := range c.conv.Convert(sample) {
			c.buf.Merge(inc)
		}
	}
}
