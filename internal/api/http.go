package akmodsapi

import (
	"encoding/json"
	"net/http"

	"github.com/aegis-sign/akmods/internal/app/akmods"
	"github.com/aegis-sign/akmods/pkg/apierrors"
)

// HTTPHandler 实现只读的 `/v1/secureboot` `/v1/key` `/v1/status` 接口。
// 登记需要一次性密码，不通过 HTTP 暴露。
type HTTPHandler struct {
	backend Backend
}

// NewHTTPHandler 构造 HTTP handler。
func NewHTTPHandler(backend Backend) *HTTPHandler {
	if backend == nil {
		panic("akmods backend is required")
	}
	return &HTTPHandler{backend: backend}
}

// Register 将 handler 注册到 mux。
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/secureboot", h.handleSecureBoot)
	mux.HandleFunc("/v1/key", h.handleKey)
	mux.HandleFunc("/v1/status", h.handleStatus)
}

type secureBootResponseBody struct {
	State   string `json:"state"`
	Enabled bool   `json:"enabled"`
}

type keyResponseBody struct {
	State           string `json:"state"`
	ExitCode        int    `json:"exitCode"`
	ContractVersion int    `json:"contractVersion"`
}

type errorResponse struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suppressed bool   `json:"suppressed,omitempty"`
}

func (h *HTTPHandler) handleSecureBoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeAPIError(w, apierrors.New(apierrors.CodeInvalidArgument, "GET required"))
		return
	}
	state := h.backend.SecureBoot()
	if r.URL.Query().Get("refresh") != "" {
		var err error
		if state, err = h.backend.Reload(r.Context()); err != nil {
			h.writeUnknownError(w, err)
			return
		}
	}
	h.writeJSON(w, http.StatusOK, secureBootResponseBody{
		State:   string(state),
		Enabled: h.backend.Snapshot().Enabled,
	})
}

func (h *HTTPHandler) handleKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeAPIError(w, apierrors.New(apierrors.CodeInvalidArgument, "GET required"))
		return
	}
	state, err := h.backend.KeyState(r.Context())
	if err != nil {
		h.writeUnknownError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, keyResponseBody{
		State:           state.String(),
		ExitCode:        state.ExitCode(),
		ContractVersion: akmods.ContractVersion,
	})
}

func (h *HTTPHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeAPIError(w, apierrors.New(apierrors.CodeInvalidArgument, "GET required"))
		return
	}
	h.writeJSON(w, http.StatusOK, h.backend.Snapshot())
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *HTTPHandler) writeUnknownError(w http.ResponseWriter, err error) {
	if apiErr, ok := apierrors.FromError(err); ok {
		h.writeAPIError(w, apiErr)
		return
	}
	h.writeAPIError(w, apierrors.Wrap(apierrors.CodeOf(err), err.Error(), err))
}

func (h *HTTPHandler) writeAPIError(w http.ResponseWriter, apiErr *apierrors.Error) {
	h.writeJSON(w, apierrors.HTTPStatus(apiErr.Code), errorResponse{
		Code:       string(apiErr.Code),
		Message:    apiErr.Error(),
		Suppressed: apierrors.Suppressed(apiErr),
	})
}
