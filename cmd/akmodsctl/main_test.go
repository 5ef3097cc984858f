package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// fakeTools 在临时目录中生成 mokutil、pkexec 与 helper 脚本，并返回配置文件路径。
func fakeTools(t *testing.T, sbState string) string {
	t.Helper()
	dir := t.TempDir()
	keyDir := filepath.Join(dir, "certs")
	require.NoError(t, os.Mkdir(keyDir, 0o755))

	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
		return path
	}
	mokutil := write("mokutil", fmt.Sprintf("echo %q\n", sbState))
	pkexec := write("pkexec", "exec \"$@\"\n")
	helper := write("helper", `case "$1" in
--test) exit 2 ;;
--enroll)
  read pw
  if [ "$pw" = "s3cret" ]; then exit 3; fi
  echo "Failed to call 'mokutil --import': wrong password" >&2
  exit 4 ;;
esac
exit 4
`)
	cfg := filepath.Join(dir, "akmodsctl.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(fmt.Sprintf(
		"keyDir: %s\nhelperPath: %s\npkexecPath: %s\nmokutilPath: %s\n",
		keyDir, helper, pkexec, mokutil)), 0o600))
	return cfg
}

func runCtl(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout bytes.Buffer
	app := newApp(strings.NewReader(stdin), &stdout)
	app.ErrWriter = io.Discard
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(append([]string{"akmodsctl"}, args...))
	if err == nil {
		return 0, stdout.String(), ""
	}
	var exitErr cli.ExitCoder
	require.ErrorAs(t, err, &exitErr)
	return exitErr.ExitCode(), stdout.String(), err.Error()
}

func TestSecureBootCommand(t *testing.T) {
	cfg := fakeTools(t, "SecureBoot disabled")
	code, out, _ := runCtl(t, "", "--config", cfg, "secureboot")
	require.Equal(t, 0, code)
	require.Equal(t, "DISABLED\n", out)
}

func TestStatusCommand(t *testing.T) {
	cfg := fakeTools(t, "SecureBoot enabled")
	code, out, _ := runCtl(t, "", "--config", cfg, "status")
	require.Equal(t, 2, code)
	require.Equal(t, "NOT_ENROLLED\n", out)
}

func TestStatusRefusedWithoutSecureBoot(t *testing.T) {
	cfg := fakeTools(t, "SecureBoot disabled")
	code, out, msg := runCtl(t, "", "--config", cfg, "status")
	require.Equal(t, 4, code)
	require.Empty(t, out)
	require.Contains(t, msg, "Secure Boot is not enabled")
}

func TestEnrollCommand(t *testing.T) {
	cfg := fakeTools(t, "SecureBoot enabled")

	code, out, _ := runCtl(t, "s3cret\n", "--config", cfg, "enroll")
	require.Equal(t, 3, code)
	require.Equal(t, "PENDING_REBOOT\n", out)

	code, _, msg := runCtl(t, "nope\n", "--config", cfg, "enroll")
	require.Equal(t, 4, code)
	require.Equal(t, "Failed to call 'mokutil --import': wrong password\n", msg)

	code, _, msg = runCtl(t, "\n", "--config", cfg, "enroll")
	require.Equal(t, 4, code)
	require.Equal(t, "Password cannot be empty.", msg)
}

func TestMissingConfigFile(t *testing.T) {
	code, _, msg := runCtl(t, "", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "status")
	require.Equal(t, 4, code)
	require.Contains(t, msg, "read config")
}
