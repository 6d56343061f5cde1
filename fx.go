package kad

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-kad/config"
	"github.com/dep2p/go-kad/internal/kad/database"
	"github.com/dep2p/go-kad/internal/kad/dispatcher"
	"github.com/dep2p/go-kad/internal/kad/handler"
	"github.com/dep2p/go-kad/internal/kad/lookup"
	"github.com/dep2p/go-kad/internal/kad/manager"
	"github.com/dep2p/go-kad/internal/kad/message"
	"github.com/dep2p/go-kad/internal/kad/netsize"
	"github.com/dep2p/go-kad/internal/kad/persist"
	"github.com/dep2p/go-kad/internal/kad/routing"
	"github.com/dep2p/go-kad/internal/kad/scheduler"
	"github.com/dep2p/go-kad/internal/kad/security"
	"github.com/dep2p/go-kad/internal/kad/transport/udp"
	"github.com/dep2p/go-kad/pkg/interfaces"
	"github.com/dep2p/go-kad/pkg/types"
)

// components 节点的全部内部组件，由 Fx 注入
type components struct {
	fx.In

	Local     routing.ContactInfo
	Transport interfaces.Transport
	Snapshots *snapshots
	Table     *routing.Table
	DB        *database.Database
	Tokens    *security.Tokens
	Estimator *netsize.Estimator
	Metrics   *dispatcher.Metrics
	Dispatch  *dispatcher.Dispatcher
	Handler   *handler.Handler
	Queue     *manager.EventQueue
	Pings     *manager.PingManager
	Lookups   *manager.LookupManager
	Store     *manager.StoreManager
	Refresh   *manager.RefreshManager
	Bootstrap *manager.BootstrapManager
	Scheduler *scheduler.Scheduler
}

// snapshots 可选的快照存储，store 为 nil 表示不持久化
type snapshots struct {
	store interfaces.PersistenceStore
}

// buildFxApp 构建 Fx 应用
//
// 加载顺序（按依赖）：
//  1. 基础：时钟、传输、快照存储、本地联系人
//  2. 状态：路由表、数据库、令牌、规模估计
//  3. 协议：调度器、请求处理、查找引擎
//  4. 管理器与周期任务
func buildFxApp(o *options, n *Node) (*fx.App, error) {
	if err := o.config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	app := fx.New(
		fx.Supply(o.config),
		fx.Provide(
			func() clock.Clock { return o.clock },
			func() (interfaces.Transport, error) { return provideTransport(o) },
			func() (*snapshots, error) { return provideSnapshots(o) },
			func(tr interfaces.Transport, s *snapshots) (routing.ContactInfo, error) {
				return provideLocal(o, tr, s)
			},
			func() *dispatcher.Metrics { return dispatcher.NewMetrics(o.registerer) },
			func() interfaces.KeyStore { return o.keystore },

			provideTable,
			provideDatabase,
			security.NewTokens,
			provideEstimator,
			provideDispatcher,
			provideHandler,
			provideEngine,

			manager.NewEventQueue,
			providePings,
			manager.NewLookupManager,
			provideStore,
			manager.NewRefreshManager,
			manager.NewBootstrapManager,
			scheduler.New,
		),
		fx.Invoke(func(c components) { n.c = c }),
		fx.Invoke(n.registerLifecycle),

		// 禁用 Fx 日志输出（避免干扰用户日志）
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	)
	if err := app.Err(); err != nil {
		return nil, err
	}
	return app, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              Providers
// ════════════════════════════════════════════════════════════════════════════

func provideTransport(o *options) (interfaces.Transport, error) {
	if o.transport != nil {
		return o.transport, nil
	}
	return udp.New(o.config.TransportConfig())
}

func provideSnapshots(o *options) (*snapshots, error) {
	if o.persist != nil {
		return &snapshots{store: o.persist}, nil
	}
	if o.config.DataDir == "" {
		return &snapshots{}, nil
	}
	store, err := persist.Open(o.config.DBPath())
	if err != nil {
		return nil, fmt.Errorf("打开快照存储失败: %w", err)
	}
	return &snapshots{store: store}, nil
}

// provideLocal 确定本节点 ID 与实例号
func provideLocal(o *options, tr interfaces.Transport, s *snapshots) (routing.ContactInfo, error) {
	info := routing.ContactInfo{Addr: tr.LocalAddr()}

	switch id, ok, err := o.config.LocalNodeID(); {
	case o.nodeID != nil:
		info.ID = *o.nodeID
	case err != nil:
		return info, err
	case ok:
		info.ID = id
	default:
		info.ID = types.RandomNodeID()
	}

	if s.store != nil {
		instance, err := s.store.NextInstanceID()
		if err != nil {
			return info, fmt.Errorf("读取实例号失败: %w", err)
		}
		info.InstanceID = instance
	}
	return info, nil
}

func provideTable(cfg *config.Config, local routing.ContactInfo, clk clock.Clock) (*routing.Table, error) {
	return routing.NewTable(local, cfg.RoutingConfig(), clk)
}

func provideDatabase(cfg *config.Config, clk clock.Clock) (*database.Database, error) {
	return database.New(cfg.DatabaseConfig(), clk)
}

func provideEstimator(cfg *config.Config, table *routing.Table, clk clock.Clock) (*netsize.Estimator, error) {
	return netsize.New(cfg.NetsizeConfig(), table, clk)
}

func provideDispatcher(cfg *config.Config, tr interfaces.Transport, table *routing.Table,
	clk clock.Clock, m *dispatcher.Metrics, est *netsize.Estimator) (*dispatcher.Dispatcher, error) {
	d, err := dispatcher.New(cfg.DispatcherConfig(), tr, message.NewMsgpackCodec(cfg.Routing.BucketSize), table, clk, m)
	if err != nil {
		return nil, err
	}
	d.SetSizeObserver(est)
	return d, nil
}

func provideHandler(cfg *config.Config, table *routing.Table, db *database.Database, tokens *security.Tokens,
	ks interfaces.KeyStore, est *netsize.Estimator, clk clock.Clock, d *dispatcher.Dispatcher) (*handler.Handler, error) {
	h, err := handler.New(cfg.HandlerConfig(), table, db, tokens, ks, est, clk)
	if err != nil {
		return nil, err
	}
	d.SetRequestHandler(h)
	return h, nil
}

func provideEngine(cfg *config.Config, table *routing.Table, d *dispatcher.Dispatcher, clk clock.Clock) (*lookup.Engine, error) {
	return lookup.NewEngine(cfg.LookupConfig(), table, d, clk)
}

func providePings(d *dispatcher.Dispatcher, table *routing.Table, q *manager.EventQueue) *manager.PingManager {
	return manager.NewPingManager(d, table, q)
}

func provideStore(cfg *config.Config, table *routing.Table, db *database.Database, lookups *manager.LookupManager,
	d *dispatcher.Dispatcher, q *manager.EventQueue, clk clock.Clock) *manager.StoreManager {
	return manager.NewStoreManager(cfg.Routing.BucketSize, table, db, lookups, d, q, clk)
}
