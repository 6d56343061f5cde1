package kad

import (
	"errors"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-kad/config"
	"github.com/dep2p/go-kad/pkg/interfaces"
	"github.com/dep2p/go-kad/pkg/types"
)

// Option 节点配置选项
type Option func(*options) error

// options 内部选项结构
type options struct {
	config *config.Config

	transport  interfaces.Transport
	keystore   interfaces.KeyStore
	persist    interfaces.PersistenceStore
	clock      clock.Clock
	registerer prometheus.Registerer

	nodeID *types.NodeID
}

func defaultOptions() *options {
	return &options{
		config:   config.NewConfig(),
		keystore: NopKeyStore{},
		clock:    clock.New(),
	}
}

// WithConfig 使用完整配置，替换默认值
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return errors.New("config is nil")
		}
		o.config = cfg
		return nil
	}
}

// WithListenAddr 设置 UDP 监听地址
func WithListenAddr(addr string) Option {
	return func(o *options) error {
		o.config.ListenAddr = addr
		return nil
	}
}

// WithTransport 使用自定义传输，如测试中的内存网络
func WithTransport(t interfaces.Transport) Option {
	return func(o *options) error {
		if t == nil {
			return errors.New("transport is nil")
		}
		o.transport = t
		return nil
	}
}

// WithKeyStore 设置记录签名器
func WithKeyStore(ks interfaces.KeyStore) Option {
	return func(o *options) error {
		if ks == nil {
			return errors.New("keystore is nil")
		}
		o.keystore = ks
		return nil
	}
}

// WithPersistence 使用自定义快照存储，优先于配置中的 data_dir
func WithPersistence(p interfaces.PersistenceStore) Option {
	return func(o *options) error {
		o.persist = p
		return nil
	}
}

// WithClock 设置时钟，测试中可注入 mock
func WithClock(clk clock.Clock) Option {
	return func(o *options) error {
		if clk == nil {
			return errors.New("clock is nil")
		}
		o.clock = clk
		return nil
	}
}

// WithNodeID 固定节点 ID，优先于配置中的 node_id
func WithNodeID(id types.NodeID) Option {
	return func(o *options) error {
		o.nodeID = &id
		return nil
	}
}

// WithRegisterer 设置指标注册器，默认每个节点一个独立 Registry
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) error {
		o.registerer = reg
		return nil
	}
}
