//  SPDX-FileCopyrightText: 2024-2025 OOMOL, Inc. <https://www.oomol.com>
//  SPDX-License-Identifier: MPL-2.0

// Package supervisor drives one virtual machine through its whole life:
// resolve the configuration for the selected target, reclaim leftovers of a
// previous run, launch the hypervisor, wait for it, classify the exit, and
// either follow the reboot chain to the next target or terminate.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"bhyverun/pkg/bhyve"
	"bhyverun/pkg/port"
	"bhyverun/pkg/reconcile"
	"bhyverun/pkg/vmspec"

	"github.com/containers/storage/pkg/ioutils"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// State names one node of the supervision state machine.
type State string

const (
	StateIdle        State = "idle"
	StateResolving   State = "resolving"
	StateReconciling State = "reconciling"
	StateLaunching   State = "launching"
	StateRunning     State = "running"
	StateExited      State = "exited"
	StateRelaunching State = "relaunching"
	StateTerminated  State = "terminated"
	StateFailed      State = "failed"
)

// Options configure one supervised run.
type Options struct {
	// Target is the boot target resolved for the first launch. Empty means
	// the base configuration as-is.
	Target string

	// DryRun resolves and lowers the configuration but never spawns the
	// hypervisor; the generated command line is left readable through
	// CommandLine.
	DryRun bool

	// NoReboot terminates on a reboot classification instead of following
	// the configured target chain.
	NoReboot bool

	// MaxReboots caps the number of followed reboots, 0 meaning unlimited.
	MaxReboots int

	// RebootOn lists the exit codes classified as guest-initiated reboots.
	// Empty means the platform default.
	RebootOn []int

	// Binary is the hypervisor executable. Empty falls back to BHYVE_EXEC
	// or the well-known name.
	Binary string

	// RuntimeDir holds per-VM runtime state such as the pid file.
	RuntimeDir string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Supervisor owns exactly one VM description and at most one hypervisor
// child at a time. It is not safe for concurrent use; the state machine is
// a single thread of control.
type Supervisor struct {
	base *vmspec.VMSpec
	opts Options

	state    State
	resolved *vmspec.VMSpec
	argv     []string
	reboots  int
}

// New builds a supervisor around the base configuration.
func New(base *vmspec.VMSpec, opts Options) *Supervisor {
	if len(opts.RebootOn) == 0 {
		opts.RebootOn = []int{DefaultRebootStatus}
	}
	opts.Binary = bhyve.Binary(opts.Binary)
	if opts.RuntimeDir == "" {
		opts.RuntimeDir = filepath.Join(os.TempDir(), "bhyverun")
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	return &Supervisor{base: base, opts: opts, state: StateIdle}
}

// State reports the machine's current node.
func (s *Supervisor) State() State { return s.state }

// ResolvedConfig exposes the fully resolved spec of the current (or last)
// iteration for inspection.
func (s *Supervisor) ResolvedConfig() *vmspec.VMSpec { return s.resolved }

// CommandLine is the exact invocation of the last resolved iteration:
// the hypervisor executable followed by its arguments.
func (s *Supervisor) CommandLine() []string {
	return append([]string{s.opts.Binary}, s.argv...)
}

// Reboots counts the reboot transitions followed so far.
func (s *Supervisor) Reboots() int { return s.reboots }

func (s *Supervisor) pidFile() string {
	return filepath.Join(s.opts.RuntimeDir, s.base.Name+".pid")
}

// resolve runs the whole resolution stage for one iteration: target merge,
// slot allocation, argument generation. Nothing is spawned before all three
// succeed.
func (s *Supervisor) resolve(target string) error {
	s.state = StateResolving
	resolved, err := s.base.Resolve(target)
	if err != nil {
		return err
	}
	if err := resolved.AllocateSlots(); err != nil {
		return err
	}
	argv, err := bhyve.Args(resolved)
	if err != nil {
		return err
	}
	s.resolved = resolved
	s.argv = argv
	return nil
}

// Run drives the state machine until the VM terminates. Every iteration of
// the reboot loop resolves a fresh spec from the original base and the
// target named by the previous exit; no state carries over between
// iterations except the target name.
func (s *Supervisor) Run(ctx context.Context) (RunOutcome, error) {
	next := s.opts.Target
	for {
		if err := s.resolve(next); err != nil {
			s.state = StateFailed
			return RunOutcome{}, err
		}

		if s.opts.DryRun {
			s.state = StateTerminated
			return RunOutcome{}, nil
		}

		s.state = StateReconciling
		if err := reconcile.Clean(s.resolved, s.pidFile(), filepath.Base(s.opts.Binary)); err != nil {
			s.state = StateFailed
			return RunOutcome{}, err
		}
		if err := s.checkListeners(); err != nil {
			s.state = StateFailed
			return RunOutcome{}, err
		}

		outcome, interrupted, err := s.launchAndWait(ctx)
		if err != nil {
			s.state = StateFailed
			return RunOutcome{}, err
		}

		if interrupted {
			logrus.Info("run interrupted by operator, not following reboot chain")
			s.state = StateTerminated
			return outcome, nil
		}

		switch outcome.Classification {
		case vmspec.PowerOff:
			logrus.Infof("guest powered off (status %d)", outcome.RawExitCode)
			s.state = StateTerminated
			return outcome, nil

		case vmspec.Crash:
			logrus.Errorf("hypervisor exited with status %d", outcome.RawExitCode)
			s.state = StateTerminated
			return outcome, nil

		case vmspec.Unknown:
			s.state = StateTerminated
			return outcome, ErrNoExitStatus

		case vmspec.Reboot:
			target, ok := s.resolved.OnExit[vmspec.Reboot]
			if !ok {
				// A reboot with nowhere to go is a terminal halt; "stop
				// here" is modeled as an absent mapping entry.
				logrus.Info("guest rebooted with no next target, halting")
				s.state = StateTerminated
				return outcome, nil
			}
			if s.opts.NoReboot {
				logrus.Info("guest rebooted, not followed (--no-reboot)")
				s.state = StateTerminated
				return outcome, nil
			}
			if s.opts.MaxReboots > 0 && s.reboots >= s.opts.MaxReboots {
				logrus.Infof("guest rebooted, reboot limit %d reached", s.opts.MaxReboots)
				s.state = StateTerminated
				return outcome, nil
			}
			s.reboots++
			next = target
			s.state = StateRelaunching
			logrus.Infof("guest rebooted, relaunching with target %q", target)
		}
	}
}

// checkListeners fails fast when a framebuffer address is already bound;
// the hypervisor would otherwise die mid-boot with a bind error.
func (s *Supervisor) checkListeners() error {
	for _, e := range s.resolved.Emulations {
		fb, ok := e.Device.(vmspec.Framebuffer)
		if !ok {
			continue
		}
		if port.IsListening(fb.Host, fb.ListenPort()) {
			return fmt.Errorf("framebuffer address %s:%d is already in use", fb.Host, fb.ListenPort())
		}
	}
	return nil
}

func (s *Supervisor) launchAndWait(ctx context.Context) (RunOutcome, bool, error) {
	s.state = StateLaunching

	if err := os.MkdirAll(s.opts.RuntimeDir, 0o755); err != nil {
		return RunOutcome{}, false, &SpawnError{Cause: err}
	}

	cmd := exec.Command(s.opts.Binary, s.argv...)
	cmd.Stdin = s.opts.Stdin
	cmd.Stdout = s.opts.Stdout
	cmd.Stderr = s.opts.Stderr

	logrus.Infof("launching %q", cmd.Args)
	if err := cmd.Start(); err != nil {
		return RunOutcome{}, false, &SpawnError{Cause: err}
	}

	pid := []byte(strconv.Itoa(cmd.Process.Pid))
	if err := ioutils.AtomicWriteFile(s.pidFile(), pid, 0o644); err != nil {
		logrus.Warnf("unable to write pid file %s: %v", s.pidFile(), err)
	}

	s.state = StateRunning

	var interrupted atomic.Bool
	done := make(chan struct{})

	g := new(errgroup.Group)
	g.Go(func() error {
		_ = cmd.Wait()
		close(done)
		return nil
	})
	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, unix.SIGTERM)
		defer signal.Stop(sigCh)
		for {
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				interrupted.Store(true)
				logrus.Info("context canceled, terminating hypervisor")
				_ = cmd.Process.Signal(unix.SIGTERM)
				<-done
				return nil
			case sig := <-sigCh:
				interrupted.Store(true)
				logrus.Infof("forwarding %s to hypervisor", sig)
				_ = cmd.Process.Signal(unix.SIGTERM)
			}
		}
	})
	_ = g.Wait()

	s.state = StateExited
	if err := os.Remove(s.pidFile()); err != nil && !os.IsNotExist(err) {
		logrus.Warnf("unable to remove pid file %s: %v", s.pidFile(), err)
	}

	return Classify(cmd.ProcessState, s.opts.RebootOn), interrupted.Load(), nil
}
