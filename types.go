package kad

import (
	"time"

	"github.com/dep2p/go-kad/internal/kad/lookup"
	"github.com/dep2p/go-kad/internal/kad/manager"
	"github.com/dep2p/go-kad/internal/kad/routing"
	"github.com/dep2p/go-kad/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              公共类型别名
// ════════════════════════════════════════════════════════════════════════════

type (
	// NodeID 节点 ID
	NodeID = types.NodeID

	// ValueID 值 ID
	ValueID = types.ValueID

	// ContactInfo 联系人的可传输信息
	ContactInfo = routing.ContactInfo

	// LookupResult 查找结果
	LookupResult = lookup.Result

	// PingResult ping 结果
	PingResult = manager.PingResult

	// StoreResult 存储结果
	StoreResult = manager.StoreResult

	// BootstrapListener 引导阶段回调
	BootstrapListener = manager.BootstrapListener

	// BootstrapFuncs 用函数实现 BootstrapListener
	BootstrapFuncs = manager.BootstrapFuncs
)

// GetResult 取值结果
type GetResult struct {
	Key ValueID

	// Value 找到的值，Found 为 false 时为空
	Value   []byte
	Creator NodeID
	Found   bool

	// Local 由本地数据库直接命中，没有发起网络查找
	Local bool

	// Lookup 网络查找的详情，本地命中时为 nil
	Lookup *LookupResult

	Elapsed time.Duration
	Err     error
}
