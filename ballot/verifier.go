// Package ballot 定义加密选票的校验接口
//
// 选票内容（密文句柄与证明）对投票服务是不透明的，真正的同态加密证明校验由外部协处理器完成，
// 这里只负责把校验委托出去，或做最基本的格式检查。
package ballot

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// HandleLength 密文句柄的字节长度
const HandleLength = 32

var (
	// ErrMalformedHandle 密文句柄格式错误
	ErrMalformedHandle = errors.New("malformed ciphertext handle")
	// ErrMalformedProof 证明格式错误
	ErrMalformedProof = errors.New("malformed input proof")
)

// Ballot 一次投票提交的加密负载
type Ballot struct {
	PollID      uint64
	Voter       string
	OptionIndex int
	Handle      string // 0x开头的十六进制密文句柄
	Proof       string // 0x开头的十六进制证明
}

// Verifier 校验选票负载，返回nil表示该负载可视为对 OptionIndex 的一张有效选票
type Verifier interface {
	Verify(ctx context.Context, b Ballot) error
}

// VerifierFunc 函数适配器
type VerifierFunc func(ctx context.Context, b Ballot) error

// Verify 实现 Verifier
func (f VerifierFunc) Verify(ctx context.Context, b Ballot) error {
	return f(ctx, b)
}

// AcceptAll 不做任何校验，仅用于可信环境
var AcceptAll Verifier = VerifierFunc(func(context.Context, Ballot) error { return nil })

// FormatVerifier 只检查句柄和证明的十六进制格式
type FormatVerifier struct{}

// Verify 句柄必须是32字节十六进制，证明必须是非空十六进制
func (FormatVerifier) Verify(_ context.Context, b Ballot) error {
	handle, err := hexutil.Decode(b.Handle)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedHandle, err)
	}
	if len(handle) != HandleLength {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedHandle, HandleLength, len(handle))
	}

	proof, err := hexutil.Decode(b.Proof)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	if len(proof) == 0 {
		return fmt.Errorf("%w: empty proof", ErrMalformedProof)
	}
	return nil
}

// New 根据名称创建校验器
func New(name string) (Verifier, error) {
	switch name {
	case "", "format":
		return FormatVerifier{}, nil
	case "none":
		return AcceptAll, nil
	default:
		return nil, fmt.Errorf("unknown ballot verifier %q", name)
	}
}
