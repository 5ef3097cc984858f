package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/aegis-sign/akmods/internal/app/akmods"
	"github.com/aegis-sign/akmods/internal/infra/subprocess"
	"github.com/aegis-sign/akmods/pkg/secret"
)

var flagTest = &cli.BoolFlag{
	Name:  "test",
	Usage: "report the akmods key state through the exit code",
}

var flagEnroll = &cli.BoolFlag{
	Name:  "enroll",
	Usage: "read a one-time password from stdin, generate the key if needed and request enrollment",
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// stderr 属于退出码约定的一部分，日志不得写入。
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	helper, err := akmods.NewHelper(akmods.HelperConfig{
		Runner: subprocess.NewRunner(subprocess.Config{Logger: logger}),
		Logger: logger,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(akmods.StateError.ExitCode())
	}

	if err := newApp(helper, os.Stdin).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(akmods.StateError.ExitCode())
	}
}

func newApp(helper *akmods.Helper, stdin io.Reader) *cli.App {
	return &cli.App{
		Name:            "akmods-helper",
		Usage:           "privileged helper for akmods key enrollment",
		HideHelpCommand: true,
		Flags:           []cli.Flag{flagTest, flagEnroll},
		Action: func(cCtx *cli.Context) error {
			test, enroll := cCtx.Bool(flagTest.Name), cCtx.Bool(flagEnroll.Name)
			if test == enroll {
				return cli.Exit("Requires exactly one of --test or --enroll", akmods.StateError.ExitCode())
			}

			var (
				state akmods.State
				err   error
			)
			if test {
				state, err = helper.Test(cCtx.Context)
			} else {
				var pw *secret.Password
				if pw, err = secret.ReadLine(stdin); err != nil {
					return cli.Exit(fmt.Sprintf("Failed to read password: %v", err), akmods.StateError.ExitCode())
				}
				state, err = helper.EnsureEnrolled(cCtx.Context, pw)
			}
			return exitFor(state, err)
		},
	}
}

func exitFor(state akmods.State, err error) error {
	if err != nil {
		return cli.Exit(strings.TrimRight(err.Error(), "\n"), akmods.StateError.ExitCode())
	}
	if code := state.ExitCode(); code != 0 {
		return cli.Exit("", code)
	}
	return nil
}
