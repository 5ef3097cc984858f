package secret

import (
	"crypto/subtle"
	"errors"
	"io"
	"runtime"
	"sync"
)

// Password 保存一次性 MOK 导入密码。所有权随调用转移，Wipe 之后内容不可再读。
type Password struct {
	mu    sync.Mutex
	buf   []byte
	wiped bool
}

// NewPassword 拷贝 raw 并返回 Password，调用方应自行清零 raw。
func NewPassword(raw []byte) *Password {
	return &Password{buf: append([]byte(nil), raw...)}
}

// FromString 由字符串构造 Password。Go 字符串不可清零，仅用于测试和 CLI 参数之外的场景。
func FromString(raw string) *Password {
	return &Password{buf: []byte(raw)}
}

// MaxLineLen 为 ReadLine 接受的最长一行，不含结尾的换行。
const MaxLineLen = 4096

// ErrLineTooLong 表示输入超过 MaxLineLen。
var ErrLineTooLong = errors.New("password line too long")

// ReadLine 从 r 逐字节读取一行（去掉结尾的 \n 或 \r\n），不会越过换行多读。
// 读取过程中用到的缓冲区在返回前都会被清零。
func ReadLine(r io.Reader) (*Password, error) {
	var one [1]byte
	buf := make([]byte, 0, MaxLineLen)
	defer func() {
		Zero(one[:])
		Zero(buf[:cap(buf)])
	}()

	for {
		n, err := r.Read(one[:])
		if n == 1 {
			if one[0] == '\n' {
				break
			}
			if len(buf) == cap(buf) {
				return nil, ErrLineTooLong
			}
			buf = append(buf, one[0])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if n := len(buf); n > 0 && buf[n-1] == '\r' {
		buf = buf[:n-1]
	}
	return NewPassword(buf), nil
}

// Len 返回密码长度，Wipe 之后为 0。
func (p *Password) Len() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// Empty 判断密码是否为空。
func (p *Password) Empty() bool {
	return p.Len() == 0
}

// Repeat 生成 count 份以换行结尾的密码拷贝，调用方负责对结果调用 Zero。
func (p *Password) Repeat(count int) []byte {
	if p == nil || count <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]byte, 0, (len(p.buf)+1)*count)
	for i := 0; i < count; i++ {
		out = append(out, p.buf...)
		out = append(out, '\n')
	}
	return out
}

// Wipe 清零并释放底层缓冲区，可重复调用。
func (p *Password) Wipe() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.wiped {
		return
	}
	Zero(p.buf)
	p.buf = nil
	p.wiped = true
}

// Wiped 报告 Wipe 是否已执行。
func (p *Password) Wiped() bool {
	if p == nil {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.wiped
}

// Zero 将 buf 清零。
func Zero(buf []byte) {
	if len(buf) == 0 {
		return
	}
	for i := range buf {
		buf[i] = 0
	}
	// 防止编译器优化掉填零。
	subtle.ConstantTimeByteEq(buf[0], buf[0])
	runtime.KeepAlive(buf)
}
