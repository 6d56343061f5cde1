// Package kad 提供 Kademlia 分布式哈希表节点
//
// # 核心概念
//
//   - Node: DHT 节点，用户交互的主入口
//   - NodeID / ValueID: 160 位标识，节点与值使用不同的类型，不能混用
//   - 路由表: k 桶前缀树，带替换缓存与自适应超时
//
// # 快速开始
//
//	node, err := kad.New(kad.WithListenAddr("0.0.0.0:4000"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := node.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	if _, err := node.Bootstrap(ctx, seed); err != nil {
//	    log.Fatal(err)
//	}
//	res, err := node.Put(ctx, []byte("key"), []byte("value"))
//	value, err := node.Get(ctx, []byte("key"))
//
// # 异步与同步接口
//
// 每个网络操作都有异步形式（PingAsync、LookupAsync、GetAsync、PutAsync、
// BootstrapAsync），立即返回，结果回调在节点的事件队列上串行执行；
// 同步形式（Ping、Lookup、Get、Put、Remove、Bootstrap）在其上等待，
// 受 ctx 约束，错误以 *Error 返回。
//
// # 文件组织
//
//	node.go            Node 结构与生命周期
//	node_ops.go        异步与同步操作
//	node_lifecycle.go  Fx 钩子、周期任务与快照
//	fx.go              组件装配
//	options.go         配置选项
package kad
