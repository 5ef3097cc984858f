package akmods

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/aegis-sign/akmods/internal/infra/subprocess"
	"github.com/aegis-sign/akmods/pkg/apierrors"
	"github.com/aegis-sign/akmods/pkg/secret"
)

func newTestOrchestrator(t *testing.T, runner Runner, metrics *Metrics) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(OrchestratorConfig{
		Elevation: Elevation{Pkexec: "/usr/bin/pkexec", Helper: "/usr/libexec/akmods-enroll-helper"},
		Runner:    runner,
		Metrics:   metrics,
	})
	require.NoError(t, err)
	return o
}

func TestEnrollEmptyPasswordDoesNotSpawn(t *testing.T) {
	runner := &recordingRunner{}
	o := newTestOrchestrator(t, runner, nil)

	for _, pw := range []*secret.Password{nil, secret.FromString("")} {
		state, err := o.Enroll(context.Background(), pw)
		require.Equal(t, StateError, state)
		require.True(t, apierrors.Is(err, apierrors.CodeInvalidArgument))
	}
	require.Zero(t, runner.count())
}

func TestEnrollFeedsPasswordToHelper(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	runner := (&recordingRunner{}).push(subprocess.Outcome{ExitCode: 3})
	o := newTestOrchestrator(t, runner, metrics)

	pw := secret.FromString("s3cret")
	state, err := o.Enroll(context.Background(), pw)
	require.NoError(t, err)
	require.Equal(t, StatePendingReboot, state)

	require.Len(t, runner.calls, 1)
	require.Equal(t, []string{"/usr/libexec/akmods-enroll-helper", "--enroll"}, runner.calls[0].Args)
	require.Equal(t, "s3cret\n", runner.stdin[0])
	// 调用返回后输入副本已清零。
	require.Equal(t, make([]byte, len("s3cret\n")), runner.calls[0].Stdin)
	require.True(t, pw.Wiped())
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.enrollTotal.WithLabelValues(string(StatePendingReboot), "")))
}

func TestEnrollWipesPasswordOnFailure(t *testing.T) {
	runner := (&recordingRunner{}).push(subprocess.Outcome{ExitCode: 4, Detail: "exit status 4", Stderr: "Failed to call 'mokutil --import': denied\n"})
	o := newTestOrchestrator(t, runner, nil)

	pw := secret.FromString("s3cret")
	state, err := o.Enroll(context.Background(), pw)
	require.Equal(t, StateError, state)
	require.True(t, apierrors.Is(err, apierrors.CodeToolFailure))
	require.Contains(t, err.Error(), "denied")
	require.True(t, pw.Wiped())
}

func TestEnrollAuthenticationDismissed(t *testing.T) {
	runner := (&recordingRunner{}).push(subprocess.Outcome{ExitCode: 126, Detail: "exit status 126"})
	o := newTestOrchestrator(t, runner, nil)

	state, err := o.Enroll(context.Background(), secret.FromString("pw"))
	require.Equal(t, StateError, state)
	require.True(t, apierrors.Is(err, apierrors.CodeAuthenticationDismissed))
	require.False(t, apierrors.Is(err, apierrors.CodeToolFailure))
}

func TestEnrollCancelled(t *testing.T) {
	o, err := NewOrchestrator(OrchestratorConfig{
		Elevation: Elevation{Pkexec: "/nonexistent/pkexec"},
		Runner:    subprocess.NewRunner(subprocess.Config{}),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pw := secret.FromString("pw")
	state, err := o.Enroll(ctx, pw)
	require.Equal(t, StateError, state)
	require.True(t, apierrors.Is(err, apierrors.CodeCancelled))
	require.True(t, pw.Wiped())
}
