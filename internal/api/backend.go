package akmodsapi

import (
	"context"

	"github.com/aegis-sign/akmods/internal/app/akmods"
	"github.com/aegis-sign/akmods/internal/app/secureboot"
	"github.com/aegis-sign/akmods/internal/app/session"
)

// Backend 定义 handler 依赖的会话接口，*session.Session 满足该接口。
type Backend interface {
	SecureBoot() secureboot.State
	Reload(ctx context.Context) (secureboot.State, error)
	KeyState(ctx context.Context) (akmods.State, error)
	Snapshot() session.Snapshot
}
