package akmodsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aegis-sign/akmods/internal/app/akmods"
	"github.com/aegis-sign/akmods/internal/app/secureboot"
	"github.com/aegis-sign/akmods/internal/app/session"
	"github.com/aegis-sign/akmods/pkg/apierrors"
)

type stubBackend struct {
	sb       secureboot.State
	reloadFn func(ctx context.Context) (secureboot.State, error)
	keyFn    func(ctx context.Context) (akmods.State, error)
	snap     session.Snapshot
}

func (s *stubBackend) SecureBoot() secureboot.State { return s.sb }

func (s *stubBackend) Reload(ctx context.Context) (secureboot.State, error) {
	if s.reloadFn != nil {
		return s.reloadFn(ctx)
	}
	return s.sb, nil
}

func (s *stubBackend) KeyState(ctx context.Context) (akmods.State, error) {
	if s.keyFn != nil {
		return s.keyFn(ctx)
	}
	return akmods.StateEnrolled, nil
}

func (s *stubBackend) Snapshot() session.Snapshot { return s.snap }

func serve(t *testing.T, backend Backend, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	NewHTTPHandler(backend).Register(mux)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func TestHandleKeySuccess(t *testing.T) {
	rr := serve(t, &stubBackend{keyFn: func(context.Context) (akmods.State, error) {
		return akmods.StatePendingReboot, nil
	}}, http.MethodGet, "/v1/key")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var body keyResponseBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.State != "PENDING_REBOOT" || body.ExitCode != 3 || body.ContractVersion != akmods.ContractVersion {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestHandleKeyErrors(t *testing.T) {
	cases := []struct {
		err        error
		status     int
		suppressed bool
	}{
		{apierrors.New(apierrors.CodeSecureBootInactive, "Secure Boot is not enabled (DISABLED)."), http.StatusConflict, false},
		{apierrors.New(apierrors.CodeDirectoryNotFound, "Akmods key directory not found."), http.StatusNotFound, false},
		{apierrors.New(apierrors.CodeAuthenticationDismissed, "Request dismissed"), http.StatusUnauthorized, true},
		{apierrors.New(apierrors.CodeToolFailure, "Failed to call 'mokutil --test-key': boom"), http.StatusBadGateway, false},
		{context.Canceled, 499, true},
	}
	for _, tc := range cases {
		err := tc.err
		rr := serve(t, &stubBackend{keyFn: func(context.Context) (akmods.State, error) {
			return akmods.StateError, err
		}}, http.MethodGet, "/v1/key")
		if rr.Code != tc.status {
			t.Fatalf("%v: status=%d", err, rr.Code)
		}
		var body errorResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if body.Code != string(apierrors.CodeOf(err)) || body.Suppressed != tc.suppressed {
			t.Fatalf("unexpected body %+v", body)
		}
	}
}

func TestHandleKeyRequiresGet(t *testing.T) {
	rr := serve(t, &stubBackend{}, http.MethodPost, "/v1/key")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestHandleSecureBoot(t *testing.T) {
	reloaded := false
	backend := &stubBackend{
		sb:   secureboot.StateUnknown,
		snap: session.Snapshot{Enabled: true},
		reloadFn: func(context.Context) (secureboot.State, error) {
			reloaded = true
			return secureboot.StateEnabled, nil
		},
	}

	rr := serve(t, backend, http.MethodGet, "/v1/secureboot")
	var body secureBootResponseBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.State != "UNKNOWN" || !body.Enabled || reloaded {
		t.Fatalf("unexpected body %+v reloaded=%v", body, reloaded)
	}

	rr = serve(t, backend, http.MethodGet, "/v1/secureboot?refresh=1")
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.State != "ENABLED" || !reloaded {
		t.Fatalf("unexpected body %+v reloaded=%v", body, reloaded)
	}
}

func TestHandleStatus(t *testing.T) {
	rr := serve(t, &stubBackend{snap: session.Snapshot{
		SecureBoot: secureboot.StateEnabled,
		Enabled:    true,
		KeyState:   akmods.StateNotEnrolled,
		Contract:   akmods.ContractVersion,
	}}, http.MethodGet, "/v1/status")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var snap session.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.KeyState != akmods.StateNotEnrolled || snap.SecureBoot != secureboot.StateEnabled {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}
