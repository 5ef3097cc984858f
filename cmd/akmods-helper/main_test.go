package main

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/aegis-sign/akmods/internal/app/akmods"
	"github.com/aegis-sign/akmods/internal/infra/subprocess"
)

type fakeRunner struct {
	mu    sync.Mutex
	outs  []subprocess.Outcome
	stdin []string
}

func (f *fakeRunner) Run(_ context.Context, c subprocess.Command) (subprocess.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stdin = append(f.stdin, string(c.Stdin))
	if len(f.outs) == 0 {
		return subprocess.Outcome{ExitCode: -1}, errors.New("unexpected invocation")
	}
	out := f.outs[0]
	f.outs = f.outs[1:]
	return out, nil
}

func runHelper(t *testing.T, runner *fakeRunner, stdin string, args ...string) (int, string) {
	t.Helper()
	return runApp(t, t.TempDir(), runner, stdin, args...)
}

func runApp(t *testing.T, dir string, runner akmods.Runner, stdin string, args ...string) (int, string) {
	t.Helper()
	helper, err := akmods.NewHelper(akmods.HelperConfig{
		Paths:  akmods.Paths{KeyDir: dir, KeyFile: filepath.Join(dir, "public_key.der")},
		Runner: runner,
	})
	require.NoError(t, err)

	app := newApp(helper, strings.NewReader(stdin))
	app.ExitErrHandler = func(*cli.Context, error) {}
	err = app.Run(append([]string{"akmods-helper"}, args...))
	if err == nil {
		return 0, ""
	}
	var exitErr cli.ExitCoder
	require.ErrorAs(t, err, &exitErr)
	return exitErr.ExitCode(), err.Error()
}

func TestHelperTestExitCodes(t *testing.T) {
	cases := []struct {
		name string
		out  func(key string) subprocess.Outcome
		want akmods.State
	}{
		{"enrolled", func(k string) subprocess.Outcome {
			return subprocess.Outcome{Stdout: k + " is already enrolled\n"}
		}, akmods.StateEnrolled},
		{"key not found", func(k string) subprocess.Outcome {
			return subprocess.Outcome{ExitCode: 255, Stderr: "Failed to open " + k + "\n"}
		}, akmods.StateKeyNotFound},
		{"not enrolled", func(k string) subprocess.Outcome {
			return subprocess.Outcome{ExitCode: 1, Stdout: k + " is not enrolled\n"}
		}, akmods.StateNotEnrolled},
		{"pending", func(k string) subprocess.Outcome {
			return subprocess.Outcome{Stdout: k + " is already in the enrollment request\n"}
		}, akmods.StatePendingReboot},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := &lazyRunner{build: tc.out}
			code, msg := runLazy(t, runner, "", "--test")
			require.Equal(t, tc.want.ExitCode(), code)
			require.Empty(t, msg)

			// 调用方必须把退出码还原为同一状态。
			state, err := akmods.InterpretHelperOutcome(subprocess.Outcome{ExitCode: code, Stderr: msg})
			require.NoError(t, err)
			require.Equal(t, tc.want, state)
		})
	}
}

func TestHelperEnrollFromKeyNotFound(t *testing.T) {
	runner := &lazyRunner{
		build: func(k string) subprocess.Outcome {
			return subprocess.Outcome{ExitCode: 1, Stdout: k + " not found\n"}
		},
		rest: []subprocess.Outcome{
			{ExitCode: 0, Stderr: "Generating a RSA private key\n"},
			{ExitCode: 0},
		},
	}
	code, msg := runLazy(t, runner, "s3cret\n", "--enroll")
	require.Equal(t, akmods.StatePendingReboot.ExitCode(), code)
	require.Empty(t, msg)
	require.Equal(t, []string{"", "", "s3cret\ns3cret\n"}, runner.stdin)
}

func TestHelperEnrollEmptyPassword(t *testing.T) {
	runner := &lazyRunner{build: func(k string) subprocess.Outcome {
		return subprocess.Outcome{ExitCode: 1, Stdout: k + " is not enrolled\n"}
	}}
	code, msg := runLazy(t, runner, "\n", "--enroll")
	require.Equal(t, akmods.StateError.ExitCode(), code)
	require.Equal(t, "Password cannot be empty.", msg)

	state, err := akmods.InterpretHelperOutcome(subprocess.Outcome{ExitCode: code, Stderr: msg + "\n"})
	require.Equal(t, akmods.StateError, state)
	require.Equal(t, "Password cannot be empty.\n", err.Error())
}

func TestHelperToolFailureWritesDiagnostic(t *testing.T) {
	runner := &fakeRunner{outs: []subprocess.Outcome{
		{ExitCode: 255, Detail: "exit status 255", Stderr: "mokutil: EFI variables are not supported on this system\n"},
	}}
	code, msg := runHelper(t, runner, "", "--test")
	require.Equal(t, akmods.StateError.ExitCode(), code)
	require.Equal(t, "Failed to call 'mokutil --test-key': mokutil: EFI variables are not supported on this system", msg)
}

func TestHelperRequiresExactlyOneMode(t *testing.T) {
	for _, args := range [][]string{nil, {"--test", "--enroll"}} {
		code, msg := runHelper(t, &fakeRunner{}, "", args...)
		require.Equal(t, akmods.StateError.ExitCode(), code)
		require.Contains(t, msg, "--test or --enroll")
	}
}

// lazyRunner 的首个结果依赖临时目录中的密钥路径。
type lazyRunner struct {
	key   string
	build func(key string) subprocess.Outcome
	rest  []subprocess.Outcome
	calls int
	stdin []string
}

func (l *lazyRunner) Run(_ context.Context, c subprocess.Command) (subprocess.Outcome, error) {
	l.calls++
	l.stdin = append(l.stdin, string(c.Stdin))
	if l.calls == 1 {
		return l.build(l.key), nil
	}
	if len(l.rest) == 0 {
		return subprocess.Outcome{ExitCode: -1}, errors.New("unexpected invocation")
	}
	out := l.rest[0]
	l.rest = l.rest[1:]
	return out, nil
}

func runLazy(t *testing.T, runner *lazyRunner, stdin string, args ...string) (int, string) {
	t.Helper()
	dir := t.TempDir()
	runner.key = filepath.Join(dir, "public_key.der")
	return runApp(t, dir, runner, stdin, args...)
}
