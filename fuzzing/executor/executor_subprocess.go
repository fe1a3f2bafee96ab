package executor

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mantidfuzz/mantid/fuzzing/corpus"
	"github.com/mantidfuzz/mantid/fuzzing/coverage"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// CoverageFileEnvVar is the environment variable the subprocess target reads to determine where to record its
// coverage edges. The target writes each reached edge identifier as a little-endian 64-bit value.
const CoverageFileEnvVar = "MANTID_COVERAGE_FILE"

// SubprocessExecutor executes test cases by launching a target binary per execution, feeding the input over stdin
// and collecting coverage edges through a per-execution coverage file.
type SubprocessExecutor struct {
	// targetPath describes the path of the target binary to execute.
	targetPath string

	// targetArgs describes the arguments to launch the target binary with.
	targetArgs []string

	// timeout describes the wall-clock time limit per execution. Executions exceeding it are killed and observed as
	// hangs.
	timeout time.Duration

	// scratchDirectory describes the directory per-execution coverage files are created within.
	scratchDirectory string
}

// NewSubprocessExecutor creates a SubprocessExecutor for the provided target binary.
// Returns a HarnessUnavailableError if the target binary does not exist or is not a regular file.
func NewSubprocessExecutor(targetPath string, targetArgs []string, timeout time.Duration) (*SubprocessExecutor, error) {
	if timeout <= 0 {
		return nil, errors.Errorf("subprocess executor timeout must be positive, got %v", timeout)
	}

	// Verify the target binary exists up front, so a bad path fails the campaign immediately rather than on the
	// first execution.
	info, err := os.Stat(targetPath)
	if err != nil {
		return nil, &HarnessUnavailableError{Target: targetPath, Err: err}
	}
	if info.IsDir() {
		return nil, &HarnessUnavailableError{Target: targetPath, Err: errors.New("target path is a directory")}
	}

	return &SubprocessExecutor{
		targetPath:       targetPath,
		targetArgs:       targetArgs,
		timeout:          timeout,
		scratchDirectory: os.TempDir(),
	}, nil
}

// Execute launches the target binary with the provided test case input on stdin and reports the observed outcome.
// A non-zero exit status or termination by signal is observed as a fault; exceeding the timeout kills the target's
// process group and is observed as a hang.
// Returns a HarnessUnavailableError if the target could not be launched, or the context error if cancelled.
func (e *SubprocessExecutor) Execute(ctx context.Context, testCase *corpus.TestCase) (*Observation, error) {
	// Create a per-execution coverage file for the target to record reached edges into.
	coverageFilePath := filepath.Join(e.scratchDirectory, fmt.Sprintf("mantid-cov-%s", uuid.New().String()))
	defer os.Remove(coverageFilePath)

	cmd := exec.Command(e.targetPath, e.targetArgs...)
	cmd.Stdin = bytes.NewReader(testCase.Data())
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%s", CoverageFileEnvVar, coverageFilePath))

	// Place the target in its own process group so a hang kill reaps any children it spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	startTime := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &HarnessUnavailableError{Target: e.targetPath, Err: err}
	}

	// Wait for the target to exit, the timeout to elapse, or the campaign to be cancelled.
	waitDone := make(chan error, 1)
	go func() {
		waitDone <- cmd.Wait()
	}()
	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	observation := &Observation{}
	select {
	case waitErr := <-waitDone:
		observation.Duration = time.Since(startTime)
		if waitErr != nil {
			exitErr := &exec.ExitError{}
			if !errors.As(waitErr, &exitErr) {
				return nil, &HarnessUnavailableError{Target: e.targetPath, Err: waitErr}
			}
			observation.Crashed = true
			observation.CrashKind = CrashKindFault
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				waitStatus := unix.WaitStatus(status)
				if waitStatus.Signaled() {
					observation.ExitSignal = int(waitStatus.Signal())
				}
			}
		}
	case <-timer.C:
		e.killProcessGroup(cmd)
		<-waitDone
		observation.Duration = time.Since(startTime)
		observation.Crashed = true
		observation.CrashKind = CrashKindHang
	case <-ctx.Done():
		e.killProcessGroup(cmd)
		<-waitDone
		return nil, ctx.Err()
	}

	// Parse whatever coverage the target managed to record, even for crashing executions.
	coverageMaps, err := parseCoverageFile(coverageFilePath)
	if err != nil {
		return nil, err
	}
	observation.Coverage = coverageMaps
	return observation, nil
}

// killProcessGroup kills the target's process group, reaping any children the target spawned.
func (e *SubprocessExecutor) killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
}

// parseCoverageFile reads a coverage file written by the target, decoding each 8-byte little-endian edge identifier
// into coverage maps. A missing file yields empty coverage, since a target may crash before recording anything.
func parseCoverageFile(path string) (*coverage.CoverageMaps, error) {
	coverageMaps := coverage.NewCoverageMaps()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return coverageMaps, nil
		}
		return nil, errors.WithStack(err)
	}

	// A trailing partial record is dropped, as the target may have been killed mid-write.
	for i := 0; i+8 <= len(data); i += 8 {
		coverageMaps.SetCoveredAt(binary.LittleEndian.Uint64(data[i : i+8]))
	}
	return coverageMaps, nil
}
