package kad

import (
	"context"
	"net/netip"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dep2p/go-kad/internal/kad/database"
	"github.com/dep2p/go-kad/internal/kad/lookup"
	"github.com/dep2p/go-kad/internal/kad/manager"
	"github.com/dep2p/go-kad/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              异步操作
// ════════════════════════════════════════════════════════════════════════════
//
// 所有异步操作立即返回，结果回调在节点的事件队列上串行执行。
// 回调中可以直接发起新的操作。

// PingAsync 向 addr 发送 PING，同一地址的并发 ping 合并为一次请求
func (n *Node) PingAsync(addr netip.AddrPort, l func(PingResult)) {
	n.mustRunning("ping")
	n.c.Pings.Ping(addr, nil, func(pr PingResult) {
		n.observe(pr)
		if l != nil {
			l(pr)
		}
	})
}

// LookupAsync 查找距 target 最近的节点
func (n *Node) LookupAsync(target NodeID, l func(*LookupResult)) {
	n.mustRunning("lookup")
	n.c.Lookups.FindNode(target, func(res *lookup.Result) {
		if l != nil {
			l(res)
		}
	})
}

// GetAsync 读取 key 对应的值
//
// 本地数据库命中时不发起网络查找；否则执行一次非穷尽的值查找，
// 采用第一条签名有效的记录。
func (n *Node) GetAsync(key []byte, l func(GetResult)) {
	n.mustRunning("get")
	n.getAsync(types.ValueIDForKey(key), l)
}

func (n *Node) getAsync(vid ValueID, l func(GetResult)) {
	started := n.opts.clock.Now()
	deliver := func(res GetResult) {
		res.Elapsed = n.opts.clock.Since(started)
		if l != nil {
			l(res)
		}
	}

	if rec, ok := n.c.DB.Get(vid); ok {
		res := GetResult{Key: vid, Value: rec.Value, Creator: rec.Creator, Found: true, Local: true}
		if err := n.c.Queue.Post(func() { deliver(res) }); err != nil {
			logger.Debug("事件队列已关闭，丢弃取值结果", "key", vid.ShortString())
		}
		return
	}

	n.c.Lookups.FindValue(vid, false, func(lr *lookup.Result) {
		res := GetResult{Key: vid, Lookup: lr, Err: lr.Err}
		invalid := 0
		for _, rec := range lr.Records {
			if len(rec.Value) == 0 || rec.Key != vid {
				continue
			}
			if !n.opts.keystore.Verify(rec.Creator, rec.Key, rec.Value, rec.Signature) {
				invalid++
				continue
			}
			res.Value, res.Creator, res.Found = rec.Value, rec.Creator, true
			break
		}
		if !res.Found && invalid > 0 && res.Err == nil {
			res.Err = ErrInvalidSignature
		}
		deliver(res)
	})
}

// PutAsync 发布键值对，空值等同于 RemoveAsync
//
// 记录由本节点签名并保留在本地数据库中以便重新发布。
func (n *Node) PutAsync(key, value []byte, l func(StoreResult)) {
	n.mustRunning("put")
	if len(value) == 0 {
		n.RemoveAsync(key, l)
		return
	}

	vid := types.ValueIDForKey(key)
	sig, err := n.opts.keystore.Sign(vid, value)
	if err != nil {
		n.failStore(vid, err, l)
		return
	}
	rec := database.Record{
		Key:       vid,
		Value:     value,
		Creator:   n.ID(),
		Signature: sig,
		Local:     true,
	}
	if _, err := n.c.DB.Put(rec); err != nil {
		n.failStore(vid, err, l)
		return
	}
	n.c.Store.Store(rec, n.storeListener(l))
}

// RemoveAsync 删除本地记录并向最近的节点存入空值
func (n *Node) RemoveAsync(key []byte, l func(StoreResult)) {
	n.mustRunning("remove")
	vid := types.ValueIDForKey(key)
	n.c.DB.Remove(vid)

	sig, err := n.opts.keystore.Sign(vid, nil)
	if err != nil {
		n.failStore(vid, err, l)
		return
	}
	n.c.Store.Store(database.Record{Key: vid, Creator: n.ID(), Signature: sig}, n.storeListener(l))
}

// BootstrapAsync 从种子地址引导
func (n *Node) BootstrapAsync(seed netip.AddrPort, l BootstrapListener) {
	n.mustRunning("bootstrap")
	if l == nil {
		l = BootstrapFuncs{}
	}
	n.c.Bootstrap.Bootstrap(seed, l)
}

func (n *Node) storeListener(l func(StoreResult)) manager.StoreListener {
	if l == nil {
		return nil
	}
	return func(res manager.StoreResult) { l(res) }
}

func (n *Node) failStore(vid ValueID, err error, l func(StoreResult)) {
	if l == nil {
		return
	}
	res := StoreResult{Key: vid, Err: err}
	if qerr := n.c.Queue.Post(func() { l(res) }); qerr != nil {
		logger.Debug("事件队列已关闭，丢弃存储结果", "key", vid.ShortString())
	}
}

// observe 本地地址未指定时采用对端观察到的 IP
func (n *Node) observe(pr PingResult) {
	if pr.Err != nil || !pr.ObservedAddr.IsValid() {
		return
	}
	local := n.Addr()
	if !local.Addr().IsUnspecified() {
		return
	}
	addr := netip.AddrPortFrom(pr.ObservedAddr.Addr(), local.Port())
	n.c.Table.SetLocalAddr(addr)
	logger.Info("采用对端观察到的地址", "addr", addr, "peer", pr.Addr)
}

// ════════════════════════════════════════════════════════════════════════════
//                              同步操作
// ════════════════════════════════════════════════════════════════════════════
//
// 同步操作在异步操作之上等待结果，ctx 结束时立即返回 ctx 的错误。
// 底层操作可能与其他调用方合并，因此不会被取消，而是继续运行到结束。

// await 等待一次回调
func await[T any](ctx context.Context, op string, start func(func(T))) (T, error) {
	ch := make(chan T, 1)
	start(func(v T) { ch <- v })
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, opError(op, ctx.Err())
	}
}

// Ping 同步 ping
func (n *Node) Ping(ctx context.Context, addr netip.AddrPort) (PingResult, error) {
	res, err := await(ctx, "ping", func(done func(PingResult)) { n.PingAsync(addr, done) })
	if err != nil {
		return res, err
	}
	return res, opError("ping", res.Err)
}

// Lookup 同步节点查找
func (n *Node) Lookup(ctx context.Context, target NodeID) (*LookupResult, error) {
	res, err := await(ctx, "lookup", func(done func(*LookupResult)) { n.LookupAsync(target, done) })
	if err != nil {
		return nil, err
	}
	return res, opError("lookup", res.Err)
}

// Get 同步取值，没有找到时返回 ErrNotFound
func (n *Node) Get(ctx context.Context, key []byte) ([]byte, error) {
	res, err := await(ctx, "get", func(done func(GetResult)) { n.GetAsync(key, done) })
	if err != nil {
		return nil, err
	}
	if res.Err != nil {
		return nil, opError("get", res.Err)
	}
	if !res.Found {
		return nil, opError("get", ErrNotFound)
	}
	return res.Value, nil
}

// Put 同步发布，部分复制不算错误，由 NumLocs 反映
func (n *Node) Put(ctx context.Context, key, value []byte) (StoreResult, error) {
	res, err := await(ctx, "put", func(done func(StoreResult)) { n.PutAsync(key, value, done) })
	if err != nil {
		return res, err
	}
	return res, opError("put", res.Err)
}

// Remove 同步删除
func (n *Node) Remove(ctx context.Context, key []byte) error {
	res, err := await(ctx, "remove", func(done func(StoreResult)) { n.RemoveAsync(key, done) })
	if err != nil {
		return err
	}
	return opError("remove", res.Err)
}

type bootstrapOutcome struct {
	found bool
	err   error
}

// Bootstrap 同步引导，返回阶段二是否发现了新节点
func (n *Node) Bootstrap(ctx context.Context, seed netip.AddrPort) (bool, error) {
	out, err := n.bootstrap(ctx, seed)
	if err != nil {
		return false, opError("bootstrap", err)
	}
	return out.found, opError("bootstrap", out.err)
}

func (n *Node) bootstrap(ctx context.Context, seed netip.AddrPort) (bootstrapOutcome, error) {
	ch := make(chan bootstrapOutcome, 1)
	n.BootstrapAsync(seed, BootstrapFuncs{
		PhaseOne: func(_ time.Duration, err error) {
			if err != nil {
				ch <- bootstrapOutcome{err: err}
			}
		},
		PhaseTwo: func(found bool, _ time.Duration) {
			ch <- bootstrapOutcome{found: found}
		},
	})
	select {
	case out := <-ch:
		return out, nil
	case <-ctx.Done():
		return bootstrapOutcome{}, ctx.Err()
	}
}

// BootstrapWithRetry 依次尝试配置中的种子，失败后指数退避重试
//
// 总时长受 bootstrap.max_elapsed 限制。
func (n *Node) BootstrapWithRetry(ctx context.Context) error {
	n.mustRunning("bootstrap")
	seeds, err := n.opts.config.Bootstrap.SeedAddrs()
	if err != nil {
		return opError("bootstrap", err)
	}
	if len(seeds) == 0 {
		return opError("bootstrap", ErrNoSeeds)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = n.opts.config.Bootstrap.MaxElapsed.Duration()

	attempt := 0
	op := func() error {
		seed := seeds[attempt%len(seeds)]
		attempt++

		out, err := n.bootstrap(ctx, seed)
		if err != nil {
			return backoff.Permanent(err)
		}
		if out.err != nil {
			logger.Warn("引导失败，稍后重试", "seed", seed, "attempt", attempt, "error", out.err)
		}
		return out.err
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return opError("bootstrap", err)
	}
	return nil
}
