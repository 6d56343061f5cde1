package kad

import (
	"context"
	"net/netip"

	"go.uber.org/fx"
	"go.uber.org/multierr"

	"github.com/dep2p/go-kad/internal/kad/database"
	"github.com/dep2p/go-kad/internal/kad/manager"
	"github.com/dep2p/go-kad/internal/kad/routing"
	"github.com/dep2p/go-kad/pkg/interfaces"
)

// 周期任务名称
const (
	taskRefresh   = "refresh"
	taskRepublish = "republish"
	taskExpire    = "expire"
	taskTokens    = "tokens"
	taskPersist   = "persist"
)

// registerLifecycle 注册 Fx 生命周期钩子
//
// 启动顺序：事件队列 → 恢复快照 → 传输 → 周期任务；停止顺序相反。
func (n *Node) registerLifecycle(lc fx.Lifecycle) error {
	c := &n.c

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			c.Queue.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			return c.Queue.Close()
		},
	})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return n.restoreSnapshot()
		},
		OnStop: func(context.Context) error {
			if c.Snapshots.store == nil {
				return nil
			}
			return multierr.Combine(n.saveSnapshot(), c.Snapshots.store.Close())
		},
	})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return c.Transport.Start()
		},
		OnStop: func(context.Context) error {
			// 先停止请求分发，挂起的请求以 ErrClosed 结束
			return multierr.Combine(c.Dispatch.Close(), c.Transport.Close())
		},
	})

	if err := n.registerTasks(); err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return c.Scheduler.Start()
		},
		OnStop: func(context.Context) error {
			return c.Scheduler.Stop()
		},
	})
	return nil
}

// registerTasks 注册节点的周期任务
func (n *Node) registerTasks() error {
	cfg := n.opts.config
	c := &n.c

	var errs error
	errs = multierr.Append(errs, c.Scheduler.Add(taskRefresh, cfg.Routing.RefreshInterval.Duration(),
		func(context.Context) { n.refreshBuckets() }))

	// 每半个重新发布间隔检查一次到期记录
	errs = multierr.Append(errs, c.Scheduler.Add(taskRepublish, cfg.Database.RepublishInterval.Duration()/2,
		func(context.Context) { n.republish() }))

	errs = multierr.Append(errs, c.Scheduler.Add(taskExpire, cfg.Database.ExpireInterval.Duration(),
		func(context.Context) { c.DB.Expire() }))

	errs = multierr.Append(errs, c.Scheduler.Add(taskTokens, cfg.Security.TokenRotation.Duration(),
		func(context.Context) { c.Tokens.Rotate() }))

	if c.Snapshots.store != nil {
		errs = multierr.Append(errs, c.Scheduler.Add(taskPersist, cfg.PersistInterval.Duration(),
			func(context.Context) {
				if err := n.saveSnapshot(); err != nil {
					logger.Warn("保存快照失败", "error", err)
				}
			}))
	}
	return errs
}

// refreshBuckets 刷新过期的桶，未引导时跳过
func (n *Node) refreshBuckets() {
	if !n.c.Bootstrap.Bootstrapped() {
		return
	}
	n.c.Refresh.RefreshBuckets(false, manager.RefreshListener{
		Done: func(lookups int) {
			if lookups > 0 {
				logger.Debug("桶刷新完成", "lookups", lookups, "contacts", n.c.Table.Size())
			}
		},
	})
}

// republish 重新发布到期的本地记录
func (n *Node) republish() {
	due := n.c.DB.DueForRepublish()
	for _, rec := range due {
		n.c.Store.Store(rec, nil)
	}
	if len(due) > 0 {
		logger.Debug("重新发布本地记录", "count", len(due))
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              快照
// ════════════════════════════════════════════════════════════════════════════

// saveSnapshot 保存路由表（含替换缓存）与数据库
func (n *Node) saveSnapshot() error {
	store := n.c.Snapshots.store
	if store == nil {
		return nil
	}

	contacts := append(n.c.Table.Contacts(), n.c.Table.CachedContacts()...)
	cs := make([]interfaces.ContactSnapshot, 0, len(contacts))
	for _, ct := range contacts {
		info, failures, lastSeen, rtt := ct.Snapshot()
		cs = append(cs, interfaces.ContactSnapshot{
			NodeID:     info.ID,
			Addr:       info.Addr.String(),
			Flags:      uint8(info.Flags),
			InstanceID: info.InstanceID,
			Failures:   failures,
			LastSeen:   lastSeen,
			RTT:        rtt,
		})
	}

	records := n.c.DB.Records()
	rs := make([]interfaces.RecordSnapshot, 0, len(records))
	for _, r := range records {
		rs = append(rs, interfaces.RecordSnapshot{
			Key:       r.Key,
			Value:     r.Value,
			Creator:   r.Creator,
			Signature: r.Signature,
			NumLocs:   r.NumLocs,
			Created:   r.Created,
			Published: r.Published,
			ExpiresAt: r.ExpiresAt,
			Local:     r.Local,
		})
	}

	return multierr.Combine(store.SaveContacts(cs), store.SaveRecords(rs))
}

// restoreSnapshot 从快照恢复路由表与数据库
//
// 恢复的联系人按"转述"插入，不覆盖存活状态；已过期的副本记录被丢弃。
func (n *Node) restoreSnapshot() error {
	store := n.c.Snapshots.store
	if store == nil {
		return nil
	}

	contacts, err := store.LoadContacts()
	if err != nil {
		return err
	}
	restored := 0
	for _, s := range contacts {
		addr, err := netip.ParseAddrPort(s.Addr)
		if err != nil || s.NodeID == n.ID() {
			continue
		}
		info := routing.ContactInfo{ID: s.NodeID, Addr: addr, Flags: routing.Flags(s.Flags), InstanceID: s.InstanceID}
		ct := routing.Restore(info, s.Failures, s.LastSeen, s.RTT, n.c.Table.Policy())
		if _, res := n.c.Table.Add(ct); res != routing.Rejected {
			restored++
		}
	}

	records, err := store.LoadRecords()
	if err != nil {
		return err
	}
	now := n.opts.clock.Now()
	kept := 0
	for _, r := range records {
		if !r.Local && !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt) {
			continue
		}
		ok, err := n.c.DB.Put(database.Record{
			Key:       r.Key,
			Value:     r.Value,
			Creator:   r.Creator,
			Signature: r.Signature,
			NumLocs:   r.NumLocs,
			Created:   r.Created,
			Published: r.Published,
			ExpiresAt: r.ExpiresAt,
			Local:     r.Local,
		})
		if err == nil && ok {
			kept++
		}
	}

	logger.Info("已恢复快照", "contacts", restored, "records", kept)
	return nil
}

// releaseUnstarted 释放未启动节点已绑定的资源
func (n *Node) releaseUnstarted() error {
	var err error
	if n.c.Transport != nil {
		err = multierr.Append(err, n.c.Transport.Close())
	}
	if n.c.Snapshots != nil && n.c.Snapshots.store != nil {
		err = multierr.Append(err, n.c.Snapshots.store.Close())
	}
	return err
}
