package grpc

import (
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// Pool 依目標地址快取 gRPC 連線，同一個地址只保留一條可用連線
type Pool struct {
	mu           sync.Mutex
	conns        map[string]*grpc.ClientConn
	interceptors []grpc.UnaryClientInterceptor
	keepalive    keepalive.ClientParameters
	extra        []grpc.DialOption
}

// PoolOption 設定 Pool
type PoolOption func(*Pool)

// WithInterceptor 加入 UnaryClientInterceptor，依加入順序串接
func WithInterceptor(interceptor grpc.UnaryClientInterceptor) PoolOption {
	return func(p *Pool) {
		p.interceptors = append(p.interceptors, interceptor)
	}
}

// WithKeepalive 覆寫預設的 keepalive 參數
func WithKeepalive(params keepalive.ClientParameters) PoolOption {
	return func(p *Pool) {
		p.keepalive = params
	}
}

// WithDialOptions 每條新連線都會帶上的額外選項
func WithDialOptions(opts ...grpc.DialOption) PoolOption {
	return func(p *Pool) {
		p.extra = append(p.extra, opts...)
	}
}

func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		conns: make(map[string]*grpc.ClientConn),
		keepalive: keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             time.Second,
			PermitWithoutStream: true,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetConnection 取得 target 的連線，沒有或已關閉時建立新的
//
// 參數:
//
//	target: string - 目標地址，例如 "localhost:50051"
//	opts: ...grpc.DialOption - 只套用在這次新建連線的額外選項
//
// 回傳值:
//
//	*grpc.ClientConn: 連線 (lazy，第一次呼叫才真正連線)
//	error: 建立失敗
func (p *Pool) GetConnection(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.conns[target]; ok {
		if conn.GetState() != connectivity.Shutdown {
			return conn, nil
		}
		delete(p.conns, target)
	}

	// 內部服務走私有網路，預設不加密
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(p.keepalive),
	}
	if len(p.interceptors) > 0 {
		dialOpts = append(dialOpts, grpc.WithChainUnaryInterceptor(p.interceptors...))
	}
	dialOpts = append(dialOpts, p.extra...)
	dialOpts = append(dialOpts, opts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for target %s: %w", target, err)
	}
	p.conns[target] = conn
	return conn, nil
}

// Close 關閉所有連線，回傳第一個遇到的錯誤
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for target, conn := range p.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.conns, target)
	}
	return firstErr
}
