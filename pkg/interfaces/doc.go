// Package interfaces 定义 go-kad 核心依赖的外部协作者接口
//
// DHT 核心只通过这些接口与外界交互：
//   - transport.go   - 数据报传输（尽力而为，可能乱序、重复或丢失）
//   - keystore.go    - 记录签名与校验
//   - persistence.go - 路由表与数据库的快照保存/恢复
//   - storage.go     - 底层键值存储引擎
//
// 编解码接口位于 internal/kad/message，与消息类型放在一起。
package interfaces
