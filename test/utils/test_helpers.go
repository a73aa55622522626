package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/charging-platform/ocpp-attack-lab/internal/attack"
	"github.com/charging-platform/ocpp-attack-lab/internal/cache"
	"github.com/charging-platform/ocpp-attack-lab/internal/config"
	"github.com/charging-platform/ocpp-attack-lab/internal/domain/events"
	"github.com/charging-platform/ocpp-attack-lab/internal/domain/ocpp"
	"github.com/charging-platform/ocpp-attack-lab/internal/logger"
	"github.com/charging-platform/ocpp-attack-lab/internal/relay"
	"github.com/charging-platform/ocpp-attack-lab/internal/session"
	"github.com/charging-platform/ocpp-attack-lab/internal/storage"
)

// LabEnvironment 完整的实验环境: 假CSMS + 中间人代理 + 事件记录器
// 按 cmd/mitm-proxy 的装配方式组装, 不依赖任何外部服务
type LabEnvironment struct {
	Config       *config.Config
	Proxy        *relay.Proxy
	Sessions     *session.Manager
	Pending      *cache.PendingCache
	CSMS         *FakeCSMS
	Events       *EventRecorder
	ProxyURL     string
	CleanupFuncs []func()
}

// SetupLabEnvironment 搭建测试环境
// 代理与假CSMS都绑定随机空闲端口, 可并行运行多个环境
func SetupLabEnvironment(t *testing.T, attackConfig attack.Config) *LabEnvironment {
	t.Helper()

	env := &LabEnvironment{
		CleanupFuncs: make([]func(), 0),
	}

	log, err := logger.New(logger.DefaultConfig())
	require.NoError(t, err)

	// 启动假CSMS充当上游
	env.CSMS = NewFakeCSMS()
	env.CSMS.Start()
	env.CleanupFuncs = append(env.CleanupFuncs, env.CSMS.Close)

	upstreamHost, upstreamPort, err := splitHostPort(env.CSMS.Addr())
	require.NoError(t, err)

	env.Config = &config.Config{
		Proxy: config.ProxyConfig{
			Host:          "127.0.0.1",
			Port:          0,
			PathPrefix:    "/ocpp/",
			WriteTimeout:  5 * time.Second,
			MaxFrameBytes: 1024 * 1024,
		},
		Upstream: config.UpstreamConfig{
			Host:        upstreamHost,
			Port:        upstreamPort,
			DialTimeout: 5 * time.Second,
		},
		Session: *session.DefaultManagerConfig(),
		Cache:   *cache.DefaultConfig(),
	}

	env.Events = NewEventRecorder()

	env.Sessions = session.NewManager(&env.Config.Session, storage.NopStore{}, env.Events, log)
	env.Sessions.Start()
	env.CleanupFuncs = append(env.CleanupFuncs, env.Sessions.Stop)

	env.Pending = cache.NewPendingCache(&env.Config.Cache)
	env.Pending.Start()
	env.CleanupFuncs = append(env.CleanupFuncs, env.Pending.Stop)

	engine := attack.NewEngine(attackConfig, nil)

	env.Proxy = relay.NewProxy(env.Config, engine, env.Sessions, env.Pending, env.Events, log)
	require.NoError(t, env.Proxy.Start())
	env.CleanupFuncs = append(env.CleanupFuncs, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		env.Proxy.Shutdown(ctx)
	})

	env.ProxyURL = "ws://" + env.Proxy.Addr() + "/ocpp"

	return env
}

// Cleanup 按装配的逆序清理测试环境
func (env *LabEnvironment) Cleanup() {
	for i := len(env.CleanupFuncs) - 1; i >= 0; i-- {
		env.CleanupFuncs[i]()
	}
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

// FakeCSMS 模拟上游CSMS
// 记录收到的每一帧, 并把新建立的连接交给测试用例主动下发指令
type FakeCSMS struct {
	upgrader websocket.Upgrader
	server   *httptest.Server
	conns    chan *websocket.Conn

	mu       sync.Mutex
	received [][]byte
}

// NewFakeCSMS 创建假CSMS
func NewFakeCSMS() *FakeCSMS {
	return &FakeCSMS{
		upgrader: websocket.Upgrader{Subprotocols: ocpp.SupportedSubprotocols()},
		conns:    make(chan *websocket.Conn, 16),
	}
}

// Start 启动HTTP服务
func (f *FakeCSMS) Start() {
	f.server = httptest.NewServer(f)
}

// Addr 返回监听地址
func (f *FakeCSMS) Addr() string {
	return f.server.Listener.Addr().String()
}

// Close 关闭服务
func (f *FakeCSMS) Close() {
	f.server.Close()
}

// ServeHTTP 接受代理伪装的充电桩连接
func (f *FakeCSMS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	f.conns <- conn

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.received = append(f.received, raw)
		f.mu.Unlock()
	}
}

// WaitForConnection 等待代理向上游建立一条新连接
func (f *FakeCSMS) WaitForConnection(timeout time.Duration) (*websocket.Conn, error) {
	select {
	case conn := <-f.conns:
		return conn, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("timeout waiting for upstream connection")
	}
}

// Frames 返回至今收到的全部帧
func (f *FakeCSMS) Frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.received))
	copy(out, f.received)
	return out
}

// HasReceived 判断是否收到过与给定内容逐字节一致的帧
func (f *FakeCSMS) HasReceived(frame []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, got := range f.received {
		if string(got) == string(frame) {
			return true
		}
	}
	return false
}

// EventRecorder 记录代理发布的全部事件, 实现 message.EventProducer
type EventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

// NewEventRecorder 创建事件记录器
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

// PublishEvent 实现 message.EventProducer
func (r *EventRecorder) PublishEvent(event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Close 实现 message.EventProducer
func (r *EventRecorder) Close() error {
	return nil
}

// ByType 返回指定类型的全部事件
func (r *EventRecorder) ByType(eventType events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.GetType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

// CountByType 返回指定类型的事件数量
func (r *EventRecorder) CountByType(eventType events.EventType) int {
	return len(r.ByType(eventType))
}

// WebSocketClient 充电桩侧的WebSocket客户端封装
type WebSocketClient struct {
	conn          *websocket.Conn
	chargePointID string
	messageQueue  chan []byte
	errorQueue    chan error
	done          chan struct{}
	closeOnce     sync.Once
}

// NewWebSocketClient 以充电桩身份连接代理
func NewWebSocketClient(proxyURL, chargePointID, subprotocol string) (*WebSocketClient, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
		Subprotocols:     []string{subprotocol},
	}

	conn, _, err := dialer.Dial(fmt.Sprintf("%s/%s", proxyURL, chargePointID), nil)
	if err != nil {
		return nil, err
	}

	client := &WebSocketClient{
		conn:          conn,
		chargePointID: chargePointID,
		messageQueue:  make(chan []byte, 100),
		errorQueue:    make(chan error, 10),
		done:          make(chan struct{}),
	}

	go client.readMessages()

	return client, nil
}

// readMessages 读取消息协程
func (c *WebSocketClient) readMessages() {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case c.errorQueue <- err:
			case <-c.done:
			}
			return
		}
		select {
		case c.messageQueue <- message:
		case <-c.done:
			return
		}
	}
}

// SendMessage 发送一帧文本消息
func (c *WebSocketClient) SendMessage(message []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, message)
}

// ReceiveMessage 接收消息, 超过超时时间返回错误
func (c *WebSocketClient) ReceiveMessage(timeout time.Duration) ([]byte, error) {
	select {
	case message := <-c.messageQueue:
		return message, nil
	case err := <-c.errorQueue:
		return nil, err
	case <-time.After(timeout):
		return nil, fmt.Errorf("timeout waiting for message")
	}
}

// Close 关闭连接
func (c *WebSocketClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// CreateCall 构造OCPP CALL帧
func CreateCall(messageID, action string, payload interface{}) ([]byte, error) {
	return json.Marshal([]interface{}{2, messageID, action, payload})
}

// CreateCallResult 构造OCPP CALLRESULT帧
func CreateCallResult(messageID string, payload interface{}) ([]byte, error) {
	return json.Marshal([]interface{}{3, messageID, payload})
}

// CreateCallError 构造OCPP CALLERROR帧
func CreateCallError(messageID, errorCode, errorDescription string) ([]byte, error) {
	return json.Marshal([]interface{}{4, messageID, errorCode, errorDescription, map[string]interface{}{}})
}

// WaitForCondition 轮询等待条件满足
func WaitForCondition(condition func() bool, timeout time.Duration, interval time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if condition() {
			return nil
		}
		time.Sleep(interval)
	}

	return fmt.Errorf("condition not met within %v", timeout)
}
