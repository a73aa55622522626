package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/charging-platform/ocpp-attack-lab/internal/domain/ocpp"
)

// Direction 帧的转发方向
type Direction string

const (
	// DirectionClientToServer 充电桩到CSMS方向
	DirectionClientToServer Direction = "client_to_server"
	// DirectionServerToClient CSMS到充电桩方向
	DirectionServerToClient Direction = "server_to_client"
)

// State 会话状态
type State string

const (
	StateConnecting State = "connecting"
	StateRelaying   State = "relaying"
	StateClosed     State = "closed"
)

// Session 一个充电桩与上游CSMS之间的中继会话
type Session struct {
	ID            string
	ChargePointID string
	Version       ocpp.Version
	RemoteAddr    string
	UpstreamAddr  string

	state        State
	connectedAt  time.Time
	lastActivity time.Time

	framesClientToServer int64
	framesServerToClient int64
	bytesClientToServer  int64
	bytesServerToClient  int64
	manipulatedFrames    int64

	cancel context.CancelFunc

	mutex sync.RWMutex
}

// Record 会话的可持久化快照
type Record struct {
	ID            string    `json:"id"`
	ChargePointID string    `json:"charge_point_id"`
	Version       string    `json:"version"`
	State         string    `json:"state"`
	RemoteAddr    string    `json:"remote_addr"`
	UpstreamAddr  string    `json:"upstream_addr"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastActivity  time.Time `json:"last_activity"`

	FramesClientToServer int64 `json:"frames_client_to_server"`
	FramesServerToClient int64 `json:"frames_server_to_client"`
	BytesClientToServer  int64 `json:"bytes_client_to_server"`
	BytesServerToClient  int64 `json:"bytes_server_to_client"`
	ManipulatedFrames    int64 `json:"manipulated_frames"`
}

// New 创建一个新的中继会话
func New(chargePointID string, version ocpp.Version, remoteAddr, upstreamAddr string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:            uuid.New().String(),
		ChargePointID: chargePointID,
		Version:       version,
		RemoteAddr:    remoteAddr,
		UpstreamAddr:  upstreamAddr,
		state:         StateConnecting,
		connectedAt:   now,
		lastActivity:  now,
	}
}

// State 获取会话状态 (线程安全)
func (s *Session) State() State {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state
}

// SetState 设置会话状态 (线程安全)
func (s *Session) SetState(state State) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.state = state
	s.lastActivity = time.Now().UTC()
}

// Touch 更新最后活动时间
func (s *Session) Touch() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lastActivity = time.Now().UTC()
}

// CountFrame 记录一帧的转发
func (s *Session) CountFrame(direction Direction, bytes int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	switch direction {
	case DirectionClientToServer:
		s.framesClientToServer++
		s.bytesClientToServer += int64(bytes)
	case DirectionServerToClient:
		s.framesServerToClient++
		s.bytesServerToClient += int64(bytes)
	}
	s.lastActivity = time.Now().UTC()
}

// CountManipulated 记录一帧被篡改
func (s *Session) CountManipulated() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.manipulatedFrames++
}

// ManipulatedFrames 获取被篡改的帧数
func (s *Session) ManipulatedFrames() int64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.manipulatedFrames
}

// BindCancel 绑定取消函数, 由中继在启动转发前设置
func (s *Session) BindCancel(cancel context.CancelFunc) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.cancel = cancel
}

// Cancel 触发会话的取消函数, 终止其转发循环
func (s *Session) Cancel() {
	s.mutex.RLock()
	cancel := s.cancel
	s.mutex.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// ConnectedAt 获取会话建立时间
func (s *Session) ConnectedAt() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.connectedAt
}

// LastActivity 获取最后活动时间
func (s *Session) LastActivity() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastActivity
}

// IdleDuration 获取空闲时间
func (s *Session) IdleDuration() time.Duration {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return time.Since(s.lastActivity)
}

// Snapshot 生成会话的持久化快照 (线程安全)
func (s *Session) Snapshot() *Record {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return &Record{
		ID:                   s.ID,
		ChargePointID:        s.ChargePointID,
		Version:              s.Version.String(),
		State:                string(s.state),
		RemoteAddr:           s.RemoteAddr,
		UpstreamAddr:         s.UpstreamAddr,
		ConnectedAt:          s.connectedAt,
		LastActivity:         s.lastActivity,
		FramesClientToServer: s.framesClientToServer,
		FramesServerToClient: s.framesServerToClient,
		BytesClientToServer:  s.bytesClientToServer,
		BytesServerToClient:  s.bytesServerToClient,
		ManipulatedFrames:    s.manipulatedFrames,
	}
}
