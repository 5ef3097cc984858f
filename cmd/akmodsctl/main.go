package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/aegis-sign/akmods/cmd/flags"
	akmodsapi "github.com/aegis-sign/akmods/internal/api"
	"github.com/aegis-sign/akmods/internal/app/akmods"
	"github.com/aegis-sign/akmods/internal/app/secureboot"
	"github.com/aegis-sign/akmods/internal/app/session"
	"github.com/aegis-sign/akmods/internal/config"
	"github.com/aegis-sign/akmods/internal/gateway/worker"
	"github.com/aegis-sign/akmods/pkg/apierrors"
	"github.com/aegis-sign/akmods/pkg/secret"
)

var flagReloadInterval = &cli.DurationFlag{
	Name:  "reload-interval",
	Value: time.Minute,
	Usage: "how often serve re-probes Secure Boot while its state is unknown",
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdin, os.Stdout).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(akmods.StateError.ExitCode())
	}
}

func newApp(stdin io.Reader, stdout io.Writer) *cli.App {
	return &cli.App{
		Name:      "akmodsctl",
		Usage:     "inspect and enroll the akmods module signing key",
		Flags:     append([]cli.Flag{flags.ConfigFlag}, flags.CommonFlags...),
		Writer:    stdout,
		ErrWriter: os.Stderr,
		Commands: []*cli.Command{
			{
				Name:  "secureboot",
				Usage: "print the Secure Boot state",
				Action: func(cCtx *cli.Context) error {
					e, err := setup(cCtx, nil, nil)
					if err != nil {
						return err
					}
					defer e.session.Shutdown()
					fmt.Fprintln(cCtx.App.Writer, e.session.SecureBoot())
					return nil
				},
			},
			{
				Name:  "status",
				Usage: "print the key enrollment state; the exit code follows the helper contract",
				Action: func(cCtx *cli.Context) error {
					e, err := setup(cCtx, nil, nil)
					if err != nil {
						return err
					}
					defer e.session.Shutdown()
					state, err := e.session.KeyState(cCtx.Context)
					return report(cCtx, e.logger, state, err)
				},
			},
			{
				Name:  "enroll",
				Usage: "read a one-time password from stdin and request enrollment of the key",
				Action: func(cCtx *cli.Context) error {
					pw, err := secret.ReadLine(stdin)
					if err != nil {
						return cli.Exit(fmt.Sprintf("failed to read password: %v", err), akmods.StateError.ExitCode())
					}
					defer pw.Wipe()
					e, err := setup(cCtx, nil, nil)
					if err != nil {
						return err
					}
					defer e.session.Shutdown()
					state, err := e.session.Enroll(cCtx.Context, pw)
					return report(cCtx, e.logger, state, err)
				},
			},
			{
				Name:   "serve",
				Usage:  "serve the read-only status API, gRPC health and metrics",
				Flags:  []cli.Flag{flagReloadInterval},
				Action: serve,
			},
		},
	}
}

func loadConfig(cCtx *cli.Context) (config.Config, error) {
	path := cCtx.String(flags.ConfigFlag.Name)
	if path == "" {
		return config.Load(config.DefaultPath, true)
	}
	return config.Load(path, false)
}

func newSession(cfg config.Config, logger *slog.Logger, reg prometheus.Registerer, onChange func(session.Snapshot)) (*session.Session, error) {
	return session.New(session.Config{
		Paths:     akmods.Paths{KeyDir: cfg.KeyDir},
		Elevation: akmods.Elevation{Pkexec: cfg.PkexecPath, Helper: cfg.HelperPath},
		Mokutil:   cfg.MokutilPath,
		ProbeTTL:  cfg.ProbeTTL,
		WaitDelay: cfg.WaitDelay,
		Worker: worker.Config{
			MaxQueue:  cfg.Worker.MaxQueue,
			RateLimit: cfg.Worker.ReloadRateLimit,
			RateBurst: cfg.Worker.ReloadBurst,
			Logger:    logger,
		},
		Registerer: reg,
		Logger:     logger,
		OnChange:   onChange,
	})
}

type env struct {
	session *session.Session
	logger  *slog.Logger
	cfg     config.Config
}

// setup 加载配置、构造会话并探测 Secure Boot。
func setup(cCtx *cli.Context, reg prometheus.Registerer, onChange func(session.Snapshot)) (*env, error) {
	logger := flags.SetupLogger(cCtx, cCtx.App.ErrWriter)
	cfg, err := loadConfig(cCtx)
	if err != nil {
		return nil, cli.Exit(err.Error(), akmods.StateError.ExitCode())
	}
	s, err := newSession(cfg, logger, reg, onChange)
	if err != nil {
		return nil, cli.Exit(err.Error(), akmods.StateError.ExitCode())
	}
	if _, err := s.Setup(cCtx.Context); err != nil {
		s.Shutdown()
		return nil, cli.Exit(err.Error(), akmods.StateError.ExitCode())
	}
	return &env{session: s, logger: logger, cfg: cfg}, nil
}

func report(cCtx *cli.Context, logger *slog.Logger, state akmods.State, err error) error {
	if err != nil {
		if apierrors.Suppressed(err) {
			logger.Info("operation aborted", slog.String("code", string(apierrors.CodeOf(err))))
			return cli.Exit("", akmods.StateError.ExitCode())
		}
		return cli.Exit(err.Error(), akmods.StateError.ExitCode())
	}
	fmt.Fprintln(cCtx.App.Writer, state)
	if code := state.ExitCode(); code != 0 {
		return cli.Exit("", code)
	}
	return nil
}

func serve(cCtx *cli.Context) error {
	ctx, stop := context.WithCancel(cCtx.Context)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reporter := akmodsapi.NewHealthReporter(nil)

	e, err := setup(cCtx, reg, reporter.Observe)
	if err != nil {
		return err
	}
	s, logger, cfg := e.session, e.logger, e.cfg
	defer s.Shutdown()

	mux := http.NewServeMux()
	akmodsapi.NewHTTPHandler(s).Register(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/debug/worker", s.Worker().DebugHandler())
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server closed unexpectedly", "error", err)
			stop()
		}
	}()

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to listen for gRPC: %v", err), akmods.StateError.ExitCode())
	}
	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, reporter.Server())
	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("grpc server closed unexpectedly", "error", err)
			stop()
		}
	}()

	if s.Enabled() && s.SecureBoot() == secureboot.StateEnabled {
		// 初始探测用于填充健康状态，失败只记录。
		if _, err := s.KeyState(ctx); err != nil && !apierrors.Suppressed(err) {
			logger.Warn("initial key probe failed", "error", err)
		}
	}
	go reloadLoop(ctx, s, logger, cCtx.Duration(flagReloadInterval.Name))

	<-ctx.Done()
	logger.Info("shutting down servers")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	reporter.Shutdown()
	grpcSrv.GracefulStop()
	return nil
}

func reloadLoop(ctx context.Context, s *session.Session, logger *slog.Logger, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.SecureBoot() != secureboot.StateUnknown {
				continue
			}
			if _, err := s.Reload(ctx); err != nil && !apierrors.Suppressed(err) {
				logger.Warn("secure boot reload failed", "error", err)
			}
		}
	}
}
