package toolchain

import (
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/qiniu/x/log"
)

// Runner executes external processes. Exec is the real implementation;
// tests substitute a fake.
type Runner interface {
	// Output runs bin and returns its standard output.
	Output(bin string, args ...string) ([]byte, error)
	// Run runs bin with extra environment variables, streaming its
	// output, and waits for it to exit.
	Run(bin string, args []string, env map[string]string) error
}

// Exec runs processes with os/exec. Stdout and Stderr default to the
// process streams when nil.
type Exec struct {
	Stdout io.Writer
	Stderr io.Writer
}

func (r *Exec) Output(bin string, args ...string) ([]byte, error) {
	log.Debug("exec:", bin, strings.Join(args, " "))
	cmd := exec.Command(bin, args...)
	cmd.Stderr = r.stderr()
	return cmd.Output()
}

func (r *Exec) Run(bin string, args []string, env map[string]string) error {
	log.Debug("exec:", bin, strings.Join(args, " "))
	cmd := exec.Command(bin, args...)
	cmd.Stdout = r.stdout()
	cmd.Stderr = r.stderr()
	if len(env) > 0 {
		cmd.Env = MergeEnv(os.Environ(), env)
	}
	return cmd.Run()
}

func (r *Exec) stdout() io.Writer {
	if r.Stdout != nil {
		return r.Stdout
	}
	return os.Stdout
}

func (r *Exec) stderr() io.Writer {
	if r.Stderr != nil {
		return r.Stderr
	}
	return os.Stderr
}

// MergeEnv overlays override on base and returns a sorted KEY=VALUE list.
func MergeEnv(base []string, override map[string]string) []string {
	envMap := make(map[string]string, len(base))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			envMap[k] = v
		}
	}
	for k, v := range override {
		envMap[k] = v
	}
	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+envMap[k])
	}
	return out
}
