package host

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/POZAlabs/lmms/rpc"
	"github.com/POZAlabs/lmms/rpcerr"
	"github.com/POZAlabs/lmms/transport"
)

// resolveExecutable searches pluginDirs in order, then the directory
// containing the host's own executable, for name — appending ".exe" on
// Windows when the name carries no extension, the one platform-suffix
// rule spec.md §6 names.
func resolveExecutable(name string, pluginDirs []string) (string, error) {
	candidate := name
	if runtime.GOOS == "windows" && filepath.Ext(candidate) == "" {
		candidate += ".exe"
	}

	if filepath.IsAbs(candidate) {
		if fileExists(candidate) {
			return candidate, nil
		}
		return "", rpcerr.New(rpcerr.KindRecoverableSetup, fmt.Sprintf("remote plugin %q not found", candidate))
	}

	for _, dir := range pluginDirs {
		p := filepath.Join(dir, candidate)
		if fileExists(p) {
			return p, nil
		}
	}

	if self, err := os.Executable(); err == nil {
		p := filepath.Join(filepath.Dir(self), candidate)
		if fileExists(p) {
			return p, nil
		}
	}

	return "", rpcerr.New(rpcerr.KindRecoverableSetup, fmt.Sprintf("remote plugin %q not found in any search path", candidate))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// buildArgv assembles the child's argv: the transport's own identity
// arguments (FIFO keys or socket path), the VST-sync key, then any
// caller-supplied extra arguments, per spec.md §6's child invocation
// contract.
func buildArgv(childArgs transport.ChildArgs, vstSyncKey int, extra []string) []string {
	argv := make([]string, 0, len(childArgs)+1+len(extra))
	argv = append(argv, childArgs...)
	argv = append(argv, strconv.Itoa(vstSyncKey))
	argv = append(argv, extra...)
	return argv
}

// process owns the child's exec.Cmd handle and the watcher goroutine
// that monitors it, spec.md §4.7 point 8's liveness watchdog. watching
// is set only once watch has actually been launched; Init may fail and
// tear a process down (via kill) before ever calling watch, and done
// then never closes, so shutdown must not wait on it in that case.
type process struct {
	cmd      *exec.Cmd
	started  chan error
	exited   atomic.Bool
	closing  atomic.Bool
	watching atomic.Bool

	once sync.Once
	done chan struct{}
}

// spawn resolves executable, builds argv, and starts the child on a
// dedicated goroutine — spec.md §4.7 point 2's "spawn occurs on a
// dedicated watcher thread so that the child's signal masking is
// isolated from the main thread." This preserves the effect of the
// original QTBUG-8819 workaround (starting the process off the calling
// thread) as a deliberate isolation decision rather than a
// toolkit-specific patch.
func spawn(executable string, pluginDirs []string, childArgs transport.ChildArgs, vstSyncKey int, extra []string) (*process, error) {
	resolved, err := resolveExecutable(executable, pluginDirs)
	if err != nil {
		return nil, err
	}
	argv := buildArgv(childArgs, vstSyncKey, extra)

	cmd := exec.Command(resolved, argv...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if wd, err := os.Executable(); err == nil {
		cmd.Dir = filepath.Dir(wd)
	}

	p := &process{cmd: cmd, started: make(chan error, 1), done: make(chan struct{})}

	go func() {
		p.started <- cmd.Start()
	}()
	if err := <-p.started; err != nil {
		return nil, rpcerr.Wrap(rpcerr.KindRecoverableSetup, "start remote plugin process", err)
	}
	return p, nil
}

// watch launches the goroutine that calls cmd.Wait and invalidates ep
// if the child exits before shutdown was requested — spec.md §7's
// PeerCrash handling.
func (p *process) watch(ep *rpc.Endpoint) {
	p.watching.Store(true)
	go func() {
		p.cmd.Wait()
		p.exited.Store(true)
		close(p.done)
		if !p.closing.Load() {
			ep.Invalidate()
		}
	}()
}

func (p *process) isRunning() bool {
	return !p.exited.Load()
}

// shutdown waits up to grace for the child to exit on its own, then
// escalates to Terminate and, if that also fails to reap it in time,
// Kill — spec.md §4.7 point 9. If watch was never called (Init failed
// and called kill before reaching the watch step), done never closes,
// so waits fall back to Wait itself instead of blocking forever.
func (p *process) shutdown(grace time.Duration) {
	p.closing.Store(true)

	if !p.watching.Load() {
		p.cmd.Process.Signal(syscall.SIGTERM)
		p.cmd.Wait()
		return
	}

	select {
	case <-p.done:
		return
	case <-time.After(grace):
	}

	p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.done:
		return
	case <-time.After(200 * time.Millisecond):
	}

	p.cmd.Process.Kill()
	<-p.done
}

func (p *process) kill() {
	p.closing.Store(true)
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
}
