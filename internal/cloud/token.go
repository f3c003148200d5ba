package cloud

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/spider10584329/hkanban-sub001/internal/store"

	"go.uber.org/zap"
)

// TokenCache KV 中缓存的认证 token（进程组内共享）。
// StoreID 一并缓存：登录解析出的默认门店必须在进程重启后仍可用，
// 否则热缓存命中时不登录，门店号就丢了。
type TokenCache struct {
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
	RefreshedAt time.Time `json:"refreshed_at"`
	StoreID     string    `json:"store_id,omitempty"`
}

// Loginner 登录操作（由 Client 实现，测试可替换）
type Loginner interface {
	Login(ctx context.Context, username, passwordHash string) (*LoginResult, error)
}

// TokenManager 管理厂家云 token 的获取/缓存/刷新。
// 刷新为单飞语义：并发过期时只有一个调用方真正登录，其余等待复用结果。
type TokenManager struct {
	kv           store.KV
	login        Loginner
	username     string
	passwordHash string
	storeID      string // 配置的默认门店，空则取登录结果
	safety       time.Duration
	throttle     time.Duration
	logger       *zap.Logger

	mu          sync.Mutex
	lastAttempt time.Time
	now         func() time.Time
}

// NewTokenManager 创建 TokenManager
// safety: token 到期前视为已过期的安全边际
// throttle: 两次登录尝试的最小间隔（登录失败后防止打爆厂家接口）
func NewTokenManager(kv store.KV, login Loginner, username, passwordHash, storeID string, safety, throttle time.Duration, logger *zap.Logger) *TokenManager {
	return &TokenManager{
		kv:           kv,
		login:        login,
		username:     username,
		passwordHash: passwordHash,
		storeID:      storeID,
		safety:       safety,
		throttle:     throttle,
		logger:       logger,
		now:          time.Now,
	}
}

func (m *TokenManager) cacheKey() string {
	return "esl:token:" + m.username
}

// cached 读取缓存 token，过期（含安全边际）视为未命中
func (m *TokenManager) cached(ctx context.Context) (*TokenCache, bool) {
	raw, err := m.kv.Get(ctx, m.cacheKey())
	if err != nil {
		if err != store.ErrMiss {
			m.logger.Warn("Token cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var tc TokenCache
	if err := json.Unmarshal([]byte(raw), &tc); err != nil {
		return nil, false
	}
	if tc.Token == "" || !tc.ExpiresAt.After(m.now().Add(m.safety)) {
		return nil, false
	}
	return &tc, true
}

// adoptStoreIDLocked 采纳缓存/登录结果里的默认门店；调用方须持有 m.mu
func (m *TokenManager) adoptStoreIDLocked(sid string) {
	if m.storeID == "" && sid != "" {
		m.storeID = sid
	}
}

// GetToken 返回当前有效 token，必要时透明刷新
func (m *TokenManager) GetToken(ctx context.Context) (string, error) {
	if tc, ok := m.cached(ctx); ok {
		m.mu.Lock()
		m.adoptStoreIDLocked(tc.StoreID)
		m.mu.Unlock()
		return tc.Token, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// 拿到锁后复查：并发调用方里第一个已经完成了刷新
	if tc, ok := m.cached(ctx); ok {
		m.adoptStoreIDLocked(tc.StoreID)
		return tc.Token, nil
	}

	if since := m.now().Sub(m.lastAttempt); since < m.throttle {
		return "", &AuthError{Msg: "login throttled, retry later"}
	}
	m.lastAttempt = m.now()

	res, err := m.login.Login(ctx, m.username, m.passwordHash)
	if err != nil {
		m.logger.Error("ESL cloud login failed", zap.Error(err))
		return "", err
	}

	m.adoptStoreIDLocked(res.StoreID)
	tc := TokenCache{
		Token:       res.Token,
		ExpiresAt:   res.ExpiresAt,
		RefreshedAt: m.now(),
		StoreID:     m.storeID,
	}

	payload, _ := json.Marshal(tc)
	ttl := tc.ExpiresAt.Sub(m.now())
	if ttl < 0 {
		ttl = 0
	}
	if err := m.kv.Set(ctx, m.cacheKey(), string(payload), ttl); err != nil {
		// 缓存写失败只影响下次命中率，token 本身可用
		m.logger.Warn("Token cache write failed", zap.Error(err))
	}

	m.logger.Info("ESL cloud token refreshed",
		zap.Time("expires_at", tc.ExpiresAt),
	)
	return res.Token, nil
}

// Invalidate 丢弃缓存 token（厂家返回 token 过期业务码时调用）
func (m *TokenManager) Invalidate(ctx context.Context) {
	if err := m.kv.Del(ctx, m.cacheKey()); err != nil && err != store.ErrMiss {
		m.logger.Warn("Token cache invalidate failed", zap.Error(err))
	}
}

// GetDefaultStoreID 解析租户配置的默认厂家门店
// 配置优先；未配置则用缓存/登录结果，必要时触发一次登录
func (m *TokenManager) GetDefaultStoreID(ctx context.Context) (string, error) {
	m.mu.Lock()
	sid := m.storeID
	m.mu.Unlock()
	if sid != "" {
		return sid, nil
	}
	if _, err := m.GetToken(ctx); err != nil {
		return "", err
	}
	m.mu.Lock()
	sid = m.storeID
	m.mu.Unlock()
	if sid != "" {
		return sid, nil
	}

	// 缓存命中但缓存项里没有门店号（旧格式）：强制重新登录解析
	m.Invalidate(ctx)
	if _, err := m.GetToken(ctx); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storeID == "" {
		return "", &ValidationError{Field: "storeId", Msg: "no default store resolved from login"}
	}
	return m.storeID, nil
}
