// Package handler 应答入站 DHT 请求
//
// 处理 PING / FIND_NODE / FIND_VALUE / STORE 四类请求。
// 请求方已由调度器记入路由表，这里只负责生成响应。
package handler

import (
	"net/netip"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"github.com/dep2p/go-kad/internal/kad/database"
	"github.com/dep2p/go-kad/internal/kad/message"
	"github.com/dep2p/go-kad/internal/kad/routing"
	"github.com/dep2p/go-kad/internal/kad/security"
	"github.com/dep2p/go-kad/pkg/interfaces"
	"github.com/dep2p/go-kad/pkg/lib/log"
)

var logger = log.Logger("kad/handler")

// SizeSource 提供本节点的网络规模估计
type SizeSource interface {
	Size() uint64
}

// Handler 入站请求处理器
type Handler struct {
	cfg      Config
	table    *routing.Table
	db       *database.Database
	tokens   *security.Tokens
	keystore interfaces.KeyStore
	size     SizeSource
	clock    clock.Clock

	limiter *rate.Limiter
	replies *lru.Cache[replyKey, *message.Message]
}

// replyKey 应答缓存键，不同请求方使用相同随机数时互不影响
type replyKey struct {
	from  netip.AddrPort
	nonce uuid.UUID
}

// New 创建处理器，keystore 与 size 可为 nil
func New(cfg Config, table *routing.Table, db *database.Database, tokens *security.Tokens,
	keystore interfaces.KeyStore, size SizeSource, clk clock.Clock) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}

	h := &Handler{
		cfg:      cfg,
		table:    table,
		db:       db,
		tokens:   tokens,
		keystore: keystore,
		size:     size,
		clock:    clk,
	}
	if cfg.RequestsPerSecond > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	if cfg.ReplyCacheSize > 0 {
		cache, err := lru.New[replyKey, *message.Message](cfg.ReplyCacheSize)
		if err != nil {
			return nil, err
		}
		h.replies = cache
	}
	return h, nil
}

// HandleRequest 实现 dispatcher.RequestHandler
//
// 超过速率上限的请求被丢弃，请求方按超时处理。
// 同一地址重传的请求（相同随机数）直接返回缓存的应答，STORE 不会被重复执行。
func (h *Handler) HandleRequest(from netip.AddrPort, req *message.Message) *message.Message {
	key := replyKey{from: from, nonce: req.ID}
	if h.replies != nil {
		if cached, ok := h.replies.Get(key); ok {
			logger.Debug("重复请求，返回缓存应答", "kind", req.Kind, "from", from)
			return cached
		}
	}
	if h.limiter != nil && !h.limiter.AllowN(h.clock.Now(), 1) {
		logger.Debug("入站请求超过速率上限，已丢弃", "kind", req.Kind, "from", from)
		return nil
	}

	var resp *message.Message
	switch req.Kind {
	case message.KindPing:
		resp = h.handlePing(from, req)
	case message.KindFindNode:
		resp = h.handleFindNode(from, req)
	case message.KindFindValue:
		resp = h.handleFindValue(from, req)
	case message.KindStore:
		resp = h.handleStore(from, req)
	default:
		logger.Warn("未知请求类型", "kind", req.Kind, "from", from)
		return nil
	}

	if h.size != nil {
		resp.EstimatedSize = h.size.Size()
	}
	if h.replies != nil {
		h.replies.Add(key, resp)
	}
	return resp
}

func (h *Handler) reply(req *message.Message) *message.Message {
	return req.Reply(h.table.Local().Info())
}

// handlePing 回复 PONG，并告知请求方其外部地址
func (h *Handler) handlePing(from netip.AddrPort, req *message.Message) *message.Message {
	resp := h.reply(req)
	resp.ObservedAddr = from
	return resp
}

func (h *Handler) handleFindNode(from netip.AddrPort, req *message.Message) *message.Message {
	resp := h.reply(req)
	resp.Contacts = h.closest(req)
	resp.Token = h.tokens.Generate(req.Sender.ID, from)
	return resp
}

func (h *Handler) handleFindValue(from netip.AddrPort, req *message.Message) *message.Message {
	resp := h.reply(req)
	resp.Token = h.tokens.Generate(req.Sender.ID, from)

	if rec, ok := h.db.Get(req.TargetValue()); ok {
		resp.Records = []message.Record{{
			Key:       rec.Key,
			Value:     rec.Value,
			Creator:   rec.Creator,
			Signature: rec.Signature,
		}}
		return resp
	}
	resp.Contacts = h.closest(req)
	return resp
}

// handleStore 校验令牌与签名后存入副本
//
// 空值记录是删除请求，只接受原记录创建者发出的。
// Stored 仅在所有记录都被接受时为 true。
func (h *Handler) handleStore(from netip.AddrPort, req *message.Message) *message.Message {
	resp := h.reply(req)

	if !h.tokens.Verify(req.Sender.ID, from, req.Token) {
		logger.Debug("STORE 令牌无效", "from", from, "sender", req.Sender.ID.ShortString())
		return resp
	}
	if len(req.Records) == 0 {
		return resp
	}

	stored := true
	for _, r := range req.Records {
		if h.keystore != nil && !h.keystore.Verify(r.Creator, r.Key, r.Value, r.Signature) {
			logger.Warn("记录签名校验失败", "key", r.Key.ShortString(), "creator", r.Creator.ShortString())
			stored = false
			continue
		}
		if len(r.Value) == 0 {
			if existing, ok := h.db.Get(r.Key); ok && existing.Creator != r.Creator {
				logger.Warn("拒绝非创建者的删除", "key", r.Key.ShortString(), "creator", r.Creator.ShortString())
				stored = false
				continue
			}
		}
		ok, err := h.db.Put(database.Record{
			Key:       r.Key,
			Value:     r.Value,
			Creator:   r.Creator,
			Signature: r.Signature,
		})
		if err != nil {
			logger.Debug("拒绝存储", "key", r.Key.ShortString(), "error", err)
		}
		stored = stored && ok
	}
	resp.Stored = stored
	return resp
}

// closest 返回距目标最近的 k 个存活联系人（含本节点，不含请求方）
func (h *Handler) closest(req *message.Message) []routing.ContactInfo {
	contacts := h.table.Select(req.TargetNode(), h.cfg.BucketSize+1, true, false)
	infos := lo.FilterMap(contacts, func(c *routing.Contact, _ int) (routing.ContactInfo, bool) {
		return c.Info(), c.ID() != req.Sender.ID
	})
	if len(infos) > h.cfg.BucketSize {
		infos = infos[:h.cfg.BucketSize]
	}
	return infos
}
