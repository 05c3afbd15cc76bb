package epi

import (
	"io"
	"os"
	"os/exec"
	"sync"

	kurobako "github.com/HideakiImamura/kurobako"
)

// process supervises one external peer: it owns the child's pipes and the
// two locks that serialize protocol traffic. A single subprocess serves many
// trials, so every call-reply pair runs under the combined lock (writer
// acquired, message flushed, then reader acquired for the matching reply).
// Casts take only the writer lock. This yields a linear global order per
// subprocess while separate subprocesses proceed in parallel.
type process struct {
	cmd   *exec.Cmd
	stdin io.Closer

	wmu sync.Mutex
	tx  *MessageSender

	rmu sync.Mutex
	rx  *MessageReceiver

	killOnce sync.Once
}

// spawnProcess starts path with args, piping stdin/stdout and inheriting
// stderr. Untagged stdout lines from the child are relayed to logw.
func spawnProcess(path string, args []string, dir string, logw io.Writer) (*process, error) {
	cmd := exec.Command(path, args...)
	cmd.Dir = dir
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, kurobako.WrapError(kurobako.IOError, err, "open stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, kurobako.WrapError(kurobako.IOError, err, "open stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, kurobako.WrapError(kurobako.IOError, err, "spawn failed: "+path)
	}

	return &process{
		cmd:   cmd,
		stdin: stdin,
		tx:    NewMessageSender(stdin),
		rx:    NewMessageReceiver(stdout, logw),
	}, nil
}

// newPipeProcess wraps an already-connected stream pair. Used by tests to
// run a peer over in-memory pipes.
func newPipeProcess(out io.Writer, in io.Reader, logw io.Writer) *process {
	p := &process{
		tx: NewMessageSender(out),
		rx: NewMessageReceiver(in, logw),
	}
	if c, ok := out.(io.Closer); ok {
		p.stdin = c
	}
	return p
}

// cast sends a message that expects no reply.
func (p *process) cast(message any) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return p.tx.Send(message)
}

// call sends a message and reads the matching reply. Both locks are held
// until the reply arrives so concurrent callers cannot interleave.
func (p *process) call(message any) (string, []byte, error) {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	if err := p.tx.Send(message); err != nil {
		return "", nil, err
	}

	p.rmu.Lock()
	defer p.rmu.Unlock()
	return p.rx.Recv()
}

// recv reads the next message without sending. Used for the unsolicited
// spec cast right after spawn.
func (p *process) recv() (string, []byte, error) {
	p.rmu.Lock()
	defer p.rmu.Unlock()
	return p.rx.Recv()
}

// kill tears the child down and waits for it so it cannot become a zombie.
func (p *process) kill() {
	p.killOnce.Do(func() {
		if p.stdin != nil {
			p.stdin.Close()
		}
		if p.cmd == nil {
			return
		}
		if p.cmd.Process != nil {
			p.cmd.Process.Kill()
		}
		p.cmd.Wait()
	})
}
