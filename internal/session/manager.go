package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charging-platform/ocpp-attack-lab/internal/domain/events"
	"github.com/charging-platform/ocpp-attack-lab/internal/domain/ocpp"
	"github.com/charging-platform/ocpp-attack-lab/internal/logger"
)

// Store 会话记录的持久化接口, 由 storage 包实现
type Store interface {
	SaveSession(ctx context.Context, record *Record) error
	DeleteSession(ctx context.Context, chargePointID string) error
}

// Publisher 会话生命周期事件的发布接口, 由 message 包实现
type Publisher interface {
	PublishEvent(event events.Event) error
}

// ManagerConfig 管理器配置
type ManagerConfig struct {
	MaxSessions     int           `json:"max_sessions" mapstructure:"max_sessions" validate:"min=1"`
	RefreshInterval time.Duration `json:"refresh_interval" mapstructure:"refresh_interval"`
	EnableEvents    bool          `json:"enable_events" mapstructure:"enable_events"`
}

// DefaultManagerConfig 默认管理器配置
func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		MaxSessions:     1000,
		RefreshInterval: 60 * time.Second,
		EnableEvents:    true,
	}
}

// Manager 中继会话管理器
type Manager struct {
	sessions map[string]*Session
	mutex    sync.RWMutex

	config    *ManagerConfig
	store     Store
	publisher Publisher
	factory   *events.EventFactory

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *logger.Logger
}

// NewManager 创建会话管理器
// store 和 publisher 可以为 nil, 此时跳过持久化与事件发布
func NewManager(config *ManagerConfig, store Store, publisher Publisher, log *logger.Logger) *Manager {
	if config == nil {
		config = DefaultManagerConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		sessions:  make(map[string]*Session),
		config:    config,
		store:     store,
		publisher: publisher,
		factory:   events.NewEventFactory(),
		ctx:       ctx,
		cancel:    cancel,
		logger:    log,
	}
}

// Start 启动后台刷新循环
func (m *Manager) Start() {
	if m.config.RefreshInterval <= 0 {
		return
	}
	m.wg.Add(1)
	go m.refreshRoutine()
}

// Stop 停止后台循环并关闭所有会话
func (m *Manager) Stop() {
	m.cancel()
	m.CloseAll("shutting down")
	m.wg.Wait()
}

// Open 注册一个新的中继会话
// 同一充电桩重复连接时, 旧会话被取消并替换
func (m *Manager) Open(chargePointID string, version ocpp.Version, remoteAddr, upstreamAddr string) (*Session, error) {
	m.mutex.Lock()

	if existing, ok := m.sessions[chargePointID]; ok {
		delete(m.sessions, chargePointID)
		existing.Cancel()
		m.logger.Warnf("Duplicate connection for charge point %s, replacing existing session", chargePointID)
	} else if len(m.sessions) >= m.config.MaxSessions {
		m.mutex.Unlock()
		return nil, fmt.Errorf("maximum sessions limit reached: %d", m.config.MaxSessions)
	}

	s := New(chargePointID, version, remoteAddr, upstreamAddr)
	s.SetState(StateRelaying)
	m.sessions[chargePointID] = s
	m.mutex.Unlock()

	m.persist(s)

	m.logger.Infof("Session opened: %s (%s) %s -> %s", chargePointID, version.String(), remoteAddr, upstreamAddr)

	if m.config.EnableEvents && m.publisher != nil {
		event := m.factory.CreateSessionOpenedEvent(chargePointID, events.SessionInfo{
			ChargePointID: chargePointID,
			Version:       version.String(),
			RemoteAddr:    remoteAddr,
			UpstreamAddr:  upstreamAddr,
			OpenedAt:      s.ConnectedAt(),
		}, m.eventMetadata(version))
		if err := m.publisher.PublishEvent(event); err != nil {
			m.logger.Warnf("Failed to publish session opened event for %s: %v", chargePointID, err)
		}
	}

	return s, nil
}

// Get 获取指定充电桩的会话
func (m *Manager) Get(chargePointID string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	s, exists := m.sessions[chargePointID]
	return s, exists
}

// Len 获取当前会话数量
func (m *Manager) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// Snapshots 获取所有会话的快照
func (m *Manager) Snapshots() []*Record {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	records := make([]*Record, 0, len(m.sessions))
	for _, s := range m.sessions {
		records = append(records, s.Snapshot())
	}
	return records
}

// Remove 注销一个会话
// 只有当前注册的会话本身才会被移除, 被替换的旧会话在此处不再生效
func (m *Manager) Remove(s *Session, reason string) {
	m.mutex.Lock()
	current, ok := m.sessions[s.ChargePointID]
	if !ok || current != s {
		m.mutex.Unlock()
		return
	}
	delete(m.sessions, s.ChargePointID)
	m.mutex.Unlock()

	s.SetState(StateClosed)

	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.store.DeleteSession(ctx, s.ChargePointID); err != nil {
			m.logger.Warnf("Failed to delete session record for %s: %v", s.ChargePointID, err)
		}
		cancel()
	}

	record := s.Snapshot()
	m.logger.Infof("Session closed: %s (%s), frames relayed %d/%d, manipulated %d",
		s.ChargePointID, reason, record.FramesClientToServer, record.FramesServerToClient, record.ManipulatedFrames)

	if m.config.EnableEvents && m.publisher != nil {
		event := m.factory.CreateSessionClosedEvent(s.ChargePointID, events.SessionInfo{
			ChargePointID: s.ChargePointID,
			Version:       s.Version.String(),
			RemoteAddr:    s.RemoteAddr,
			UpstreamAddr:  s.UpstreamAddr,
			OpenedAt:      record.ConnectedAt,
		}, events.SessionStats{
			FramesClientToServer: record.FramesClientToServer,
			FramesServerToClient: record.FramesServerToClient,
			BytesClientToServer:  record.BytesClientToServer,
			BytesServerToClient:  record.BytesServerToClient,
			ManipulatedFrames:    record.ManipulatedFrames,
		}, reason, m.eventMetadata(s.Version))
		if err := m.publisher.PublishEvent(event); err != nil {
			m.logger.Warnf("Failed to publish session closed event for %s: %v", s.ChargePointID, err)
		}
	}
}

// CloseAll 取消所有会话的转发循环
func (m *Manager) CloseAll(reason string) {
	m.mutex.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mutex.RUnlock()

	for _, s := range all {
		s.Cancel()
	}
	if len(all) > 0 {
		m.logger.Infof("Cancelled %d sessions: %s", len(all), reason)
	}
}

// refreshRoutine 周期性刷新存储中的会话记录, 防止TTL过期
func (m *Manager) refreshRoutine() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.refreshRecords()
		}
	}
}

func (m *Manager) refreshRecords() {
	if m.store == nil {
		return
	}
	m.mutex.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mutex.RUnlock()

	for _, s := range all {
		m.persist(s)
	}
}

func (m *Manager) persist(s *Session) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.SaveSession(ctx, s.Snapshot()); err != nil {
		m.logger.Warnf("Failed to persist session record for %s: %v", s.ChargePointID, err)
	}
}

func (m *Manager) eventMetadata(version ocpp.Version) events.Metadata {
	return events.Metadata{
		Source:          "mitm-proxy",
		ProtocolVersion: version.String(),
	}
}
