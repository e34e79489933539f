package toolchain

import (
	"errors"
	"strings"
)

type call struct {
	bin  string
	args []string
	env  map[string]string
}

// fakeRunner records calls and answers Output from a table keyed by bin.
type fakeRunner struct {
	outputs map[string]string
	errs    map[string]error
	calls   []call
}

func (f *fakeRunner) Output(bin string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, call{bin: bin, args: args})
	if err := f.errs[bin]; err != nil {
		return nil, err
	}
	out, ok := f.outputs[bin]
	if !ok {
		return nil, errors.New("exec: " + bin + ": not found")
	}
	return []byte(out), nil
}

func (f *fakeRunner) Run(bin string, args []string, env map[string]string) error {
	f.calls = append(f.calls, call{bin: bin, args: args, env: env})
	return f.errs[bin]
}

func (c call) String() string {
	return c.bin + " " + strings.Join(c.args, " ")
}
