package script

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// VMPool manages reusable sandboxed JavaScript runtimes. A runtime is not
// safe for concurrent use, so each evaluation holds one exclusively between
// Acquire and Release.
type VMPool struct {
	pool          chan *PooledVM
	config        *Config
	logger        *zap.Logger
	maxSize       int
	maxReuseCount int
	currentSize   int32
	totalCreated  int64
	totalAcquired int64
	totalReleased int64
	mu            sync.Mutex
	closed        bool
}

// PooledVM is a runtime checked out of the pool.
type PooledVM struct {
	vm         *goja.Runtime
	createdAt  time.Time
	lastUsedAt time.Time
	reuseCount int
	baseline   map[string]struct{}
}

// PoolConfig sizes the VM pool.
type PoolConfig struct {
	MinSize       int `yaml:"min_size" json:"min_size"`
	MaxSize       int `yaml:"max_size" json:"max_size"`
	MaxReuseCount int `yaml:"max_reuse_count" json:"max_reuse_count"`
}

// DefaultPoolConfig returns the default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinSize:       2,
		MaxSize:       16,
		MaxReuseCount: 1000,
	}
}

// NewVMPool creates a pool and pre-creates MinSize runtimes.
func NewVMPool(config *Config, logger *zap.Logger) (*VMPool, error) {
	poolConfig := config.Pool
	if poolConfig.MinSize < 0 {
		poolConfig.MinSize = 0
	}
	if poolConfig.MaxSize <= 0 {
		poolConfig.MaxSize = DefaultPoolConfig().MaxSize
	}
	if poolConfig.MinSize > poolConfig.MaxSize {
		poolConfig.MinSize = poolConfig.MaxSize
	}
	if poolConfig.MaxReuseCount <= 0 {
		poolConfig.MaxReuseCount = DefaultPoolConfig().MaxReuseCount
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &VMPool{
		pool:          make(chan *PooledVM, poolConfig.MaxSize),
		config:        config,
		logger:        logger,
		maxSize:       poolConfig.MaxSize,
		maxReuseCount: poolConfig.MaxReuseCount,
	}

	for i := 0; i < poolConfig.MinSize; i++ {
		vm, err := p.createVM()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to create initial VM: %w", err)
		}
		p.pool <- vm
	}

	return p, nil
}

// Acquire takes an idle runtime, creates one while below MaxSize, or waits
// for a release.
func (p *VMPool) Acquire(ctx context.Context) (*PooledVM, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool is closed")
	}
	p.mu.Unlock()

	atomic.AddInt64(&p.totalAcquired, 1)

	select {
	case vm, ok := <-p.pool:
		if !ok {
			return nil, fmt.Errorf("pool is closed")
		}
		return p.reuse(vm)
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if int(atomic.LoadInt32(&p.currentSize)) < p.maxSize {
		return p.createVM()
	}

	select {
	case vm, ok := <-p.pool:
		if !ok {
			return nil, fmt.Errorf("pool is closed")
		}
		return p.reuse(vm)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *VMPool) reuse(vm *PooledVM) (*PooledVM, error) {
	vm.lastUsedAt = time.Now()
	vm.reuseCount++
	if vm.vm == nil || vm.reuseCount >= p.maxReuseCount {
		p.destroyVM(vm)
		return p.createVM()
	}
	return vm, nil
}

// Release resets a runtime and returns it to the pool. A runtime that cannot
// be reset is destroyed.
func (p *VMPool) Release(vm *PooledVM) error {
	atomic.AddInt64(&p.totalReleased, 1)

	if err := p.resetVM(vm); err != nil {
		p.destroyVM(vm)
		return fmt.Errorf("failed to reset VM: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.destroyVM(vm)
		return nil
	}
	select {
	case p.pool <- vm:
	default:
		p.destroyVM(vm)
	}
	return nil
}

func (p *VMPool) createVM() (*PooledVM, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	if err := secureContext(vm, p.config, p.logger); err != nil {
		return nil, fmt.Errorf("failed to create secure context: %w", err)
	}

	names := vm.GlobalObject().GetOwnPropertyNames()
	baseline := make(map[string]struct{}, len(names))
	for _, name := range names {
		baseline[name] = struct{}{}
	}

	now := time.Now()
	atomic.AddInt32(&p.currentSize, 1)
	atomic.AddInt64(&p.totalCreated, 1)
	return &PooledVM{vm: vm, createdAt: now, lastUsedAt: now, baseline: baseline}, nil
}

// resetVM removes globals an evaluation added on top of the baseline taken
// when the runtime was created. Globals declared with var cannot be deleted
// and are set to undefined instead.
func (p *VMPool) resetVM(vm *PooledVM) error {
	if vm.vm == nil {
		return fmt.Errorf("vm destroyed")
	}
	vm.vm.ClearInterrupt()

	global := vm.vm.GlobalObject()
	for _, name := range global.GetOwnPropertyNames() {
		if _, ok := vm.baseline[name]; ok {
			continue
		}
		if err := global.Delete(name); err != nil {
			return fmt.Errorf("failed to delete global %s: %w", name, err)
		}
		if v := global.Get(name); v != nil && !goja.IsUndefined(v) {
			if err := global.Set(name, goja.Undefined()); err != nil {
				return fmt.Errorf("failed to clear global %s: %w", name, err)
			}
		}
	}
	return nil
}

func (p *VMPool) destroyVM(vm *PooledVM) {
	if vm == nil || vm.vm == nil {
		return
	}
	vm.vm = nil
	atomic.AddInt32(&p.currentSize, -1)
}

// Close destroys idle runtimes. Runtimes still checked out are destroyed on release.
func (p *VMPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.pool)
	for vm := range p.pool {
		p.destroyVM(vm)
	}
	return nil
}

// Stats returns pool statistics.
func (p *VMPool) Stats() PoolStats {
	return PoolStats{
		CurrentSize:   int(atomic.LoadInt32(&p.currentSize)),
		MaxSize:       p.maxSize,
		TotalCreated:  atomic.LoadInt64(&p.totalCreated),
		TotalAcquired: atomic.LoadInt64(&p.totalAcquired),
		TotalReleased: atomic.LoadInt64(&p.totalReleased),
		Available:     len(p.pool),
	}
}

// PoolStats contains pool statistics.
type PoolStats struct {
	CurrentSize   int   `json:"current_size"`
	MaxSize       int   `json:"max_size"`
	TotalCreated  int64 `json:"total_created"`
	TotalAcquired int64 `json:"total_acquired"`
	TotalReleased int64 `json:"total_released"`
	Available     int   `json:"available"`
}
