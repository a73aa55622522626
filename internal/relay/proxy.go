package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charging-platform/ocpp-attack-lab/internal/attack"
	"github.com/charging-platform/ocpp-attack-lab/internal/cache"
	"github.com/charging-platform/ocpp-attack-lab/internal/config"
	"github.com/charging-platform/ocpp-attack-lab/internal/domain/events"
	"github.com/charging-platform/ocpp-attack-lab/internal/domain/ocpp"
	"github.com/charging-platform/ocpp-attack-lab/internal/logger"
	"github.com/charging-platform/ocpp-attack-lab/internal/message"
	"github.com/charging-platform/ocpp-attack-lab/internal/metrics"
	"github.com/charging-platform/ocpp-attack-lab/internal/session"
)

// Proxy 中间人中继
// 对充电桩伪装成CSMS, 对上游CSMS伪装成充电桩, 双向转发帧并在途中篡改
type Proxy struct {
	config *config.Config

	// WebSocket升级器, 面向充电桩一侧
	upgrader *websocket.Upgrader

	engine    *attack.Engine
	sessions  *session.Manager
	pending   *cache.PendingCache
	publisher message.EventProducer
	factory   *events.EventFactory

	// 引擎构造时归一化后的策略名, 用于事件与指标标签
	strategy string

	pathPrefix string
	listener   net.Listener
	server     *http.Server

	// 生命周期管理
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *logger.Logger
}

// NewProxy 创建中继代理
// publisher可以为nil, 此时跳过事件发布
func NewProxy(cfg *config.Config, engine *attack.Engine, sessions *session.Manager, pending *cache.PendingCache, publisher message.EventProducer, log *logger.Logger) *Proxy {
	if log == nil {
		log, _ = logger.New(logger.DefaultConfig())
	}

	pathPrefix := cfg.Proxy.PathPrefix
	if !strings.HasSuffix(pathPrefix, "/") {
		pathPrefix += "/"
	}

	ctx, cancel := context.WithCancel(context.Background())

	upgrader := &websocket.Upgrader{
		Subprotocols: ocpp.SupportedSubprotocols(),
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return &Proxy{
		config:     cfg,
		upgrader:   upgrader,
		engine:     engine,
		sessions:   sessions,
		pending:    pending,
		publisher:  publisher,
		factory:    events.NewEventFactory(),
		strategy:   string(engine.ManipulationSummary().Strategy),
		pathPrefix: pathPrefix,
		ctx:        ctx,
		cancel:     cancel,
		logger:     log,
	}
}

// Start 绑定监听地址并开始接受充电桩连接
func (p *Proxy) Start() error {
	ln, err := net.Listen("tcp", p.config.GetProxyAddr())
	if err != nil {
		return fmt.Errorf("failed to bind relay listener: %w", err)
	}
	p.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc(p.pathPrefix, p.ServeWS)
	p.server = &http.Server{Handler: mux}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Errorf("Relay server error: %v", err)
		}
	}()

	p.logger.Infof("MITM relay listening on %s%s, forwarding to %s",
		ln.Addr().String(), p.pathPrefix, p.config.GetUpstreamAddr())
	return nil
}

// Addr 返回实际绑定的监听地址
func (p *Proxy) Addr() string {
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Shutdown 优雅关闭中继
// 取消所有会话后等待泵协程退出, 超时由ctx控制
func (p *Proxy) Shutdown(ctx context.Context) error {
	p.logger.Info("Shutting down MITM relay...")

	p.cancel()

	var serverErr error
	if p.server != nil {
		serverErr = p.server.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("MITM relay shutdown completed")
		return serverErr
	case <-ctx.Done():
		p.logger.Warn("MITM relay shutdown timeout")
		return ctx.Err()
	}
}

// ServeWS 处理充电桩的WebSocket升级请求
func (p *Proxy) ServeWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-p.ctx.Done():
		http.Error(w, "Proxy is shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	chargePointID := p.extractChargePointID(r.URL.Path)
	if chargePointID == "" {
		http.Error(w, "Invalid charge point ID", http.StatusBadRequest)
		return
	}

	if p.config.Session.MaxSessions > 0 && p.sessions.Len() >= p.config.Session.MaxSessions {
		http.Error(w, "Too many sessions", http.StatusTooManyRequests)
		return
	}

	client, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Errorf("Failed to upgrade connection for %s: %v", chargePointID, err)
		return
	}

	// 升级后连接已脱离HTTP服务器管理, 会话在当前协程中跑完
	p.relaySession(r, client, chargePointID)
}

// extractChargePointID 从URL路径中提取充电桩ID
// 例如 "/ocpp/CP-001" -> "CP-001"
func (p *Proxy) extractChargePointID(path string) string {
	if len(path) <= len(p.pathPrefix) || !strings.HasPrefix(path, p.pathPrefix) {
		return ""
	}
	return strings.TrimSuffix(path[len(p.pathPrefix):], "/")
}

// relaySession 运行一条完整的中继会话直到任一侧断开
func (p *Proxy) relaySession(r *http.Request, client *websocket.Conn, chargePointID string) {
	p.wg.Add(1)
	defer p.wg.Done()

	subprotocol := client.Subprotocol()
	version := ocpp.DetectVersion(subprotocol)

	upstream, err := p.dialUpstream(r.URL.Path, subprotocol)
	if err != nil {
		p.logger.Errorf("Failed to dial upstream for %s: %v", chargePointID, err)
		p.publishUpstreamError(chargePointID, version, err)
		client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "upstream unreachable"),
			p.writeDeadline())
		client.Close()
		return
	}

	sess, err := p.sessions.Open(chargePointID, version, r.RemoteAddr, p.upstreamURL(r.URL.Path))
	if err != nil {
		p.logger.Errorf("Failed to open session for %s: %v", chargePointID, err)
		upstream.Close()
		client.Close()
		return
	}

	if p.config.Proxy.MaxFrameBytes > 0 {
		client.SetReadLimit(p.config.Proxy.MaxFrameBytes)
		upstream.SetReadLimit(p.config.Proxy.MaxFrameBytes)
	}

	// 每条连接绑定一个版本固定的解析器, 连接存活期间版本不变
	parser := ocpp.NewParser(version)

	ctx, cancel := context.WithCancel(p.ctx)
	sess.BindCancel(cancel)

	metrics.ActiveSessions.Inc()
	p.logger.Infof("Relay session established for %s (%s) from %s", chargePointID, version.String(), r.RemoteAddr)

	// 取消时关闭两侧socket, 让阻塞中的ReadMessage立即返回
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		<-ctx.Done()
		client.Close()
		upstream.Close()
	}()

	var pumps sync.WaitGroup
	pumps.Add(2)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer pumps.Done()
		defer cancel()
		p.pump(ctx, sess, parser, upstream, client, session.DirectionServerToClient)
	}()

	func() {
		defer pumps.Done()
		defer cancel()
		p.pump(ctx, sess, parser, client, upstream, session.DirectionClientToServer)
	}()

	pumps.Wait()

	reason := "connection closed"
	if p.ctx.Err() != nil {
		reason = "proxy shutdown"
	}
	p.sessions.Remove(sess, reason)
	metrics.ActiveSessions.Dec()
	p.logger.Infof("Relay session ended for %s", chargePointID)
}

// dialUpstream 以充电桩身份连接上游CSMS, 保留原始路径
// 客户端没协商出子协议时, 向上游提供全部支持的版本
func (p *Proxy) dialUpstream(path, negotiated string) (*websocket.Conn, error) {
	u := url.URL{
		Scheme: "ws",
		Host:   p.config.GetUpstreamAddr(),
		Path:   path,
	}

	subprotocols := []string{negotiated}
	if negotiated == "" {
		subprotocols = ocpp.SupportedSubprotocols()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: p.config.Upstream.DialTimeout,
		Subprotocols:     subprotocols,
	}

	conn, resp, err := dialer.Dial(u.String(), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("upstream handshake rejected with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return conn, nil
}

// upstreamURL 返回会话记录中展示的上游地址
func (p *Proxy) upstreamURL(path string) string {
	return "ws://" + p.config.GetUpstreamAddr() + path
}

// pump 单方向转发循环: 读一帧, 过拦截层, 写到对侧
// 读写任一出错即退出, 由调用方负责取消兄弟泵
func (p *Proxy) pump(ctx context.Context, sess *session.Session, parser *ocpp.Parser, src, dst *websocket.Conn, direction session.Direction) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgType, raw, err := src.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				p.logger.Errorf("Relay read error for %s (%s): %v", sess.ChargePointID, direction, err)
			}
			return
		}

		sess.Touch()

		out := raw
		if msgType == websocket.TextMessage {
			out = p.interceptFrame(sess, parser, direction, raw)
		}

		dst.SetWriteDeadline(p.writeDeadline())
		if err := dst.WriteMessage(msgType, out); err != nil {
			if ctx.Err() == nil {
				p.logger.Errorf("Relay write error for %s (%s): %v", sess.ChargePointID, direction, err)
			}
			return
		}

		sess.CountFrame(direction, len(out))
		metrics.FramesRelayed.WithLabelValues(sess.Version.String(), string(direction)).Inc()
	}
}

// writeDeadline 计算下一次写操作的截止时间
func (p *Proxy) writeDeadline() time.Time {
	if d := p.config.Proxy.WriteTimeout; d > 0 {
		return time.Now().Add(d)
	}
	return time.Now().Add(10 * time.Second)
}
