package flags

import (
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

// SetupLogger 按公共日志参数构造 logger，输出到 w。
func SetupLogger(cCtx *cli.Context, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cCtx.Bool(LogDebugFlag.Name) {
		opts.Level = slog.LevelDebug
	}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if cCtx.Bool(LogJsonFlag.Name) {
		handler = slog.NewJSONHandler(w, opts)
	}
	logger := slog.New(handler).With("service", cCtx.App.Name)

	if cCtx.Bool(LogUidFlag.Name) {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var ConfigFlag = &cli.StringFlag{
	Name:    "config",
	Value:   "",
	EnvVars: []string{"AKMODS_CONFIG"},
	Usage:   "path to the YAML config file (default /etc/akmods/akmodsctl.yaml when present)",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
}
