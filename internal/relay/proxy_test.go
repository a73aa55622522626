package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charging-platform/ocpp-attack-lab/internal/attack"
	"github.com/charging-platform/ocpp-attack-lab/internal/cache"
	"github.com/charging-platform/ocpp-attack-lab/internal/config"
	"github.com/charging-platform/ocpp-attack-lab/internal/domain/events"
	"github.com/charging-platform/ocpp-attack-lab/internal/domain/ocpp"
	"github.com/charging-platform/ocpp-attack-lab/internal/logger"
	"github.com/charging-platform/ocpp-attack-lab/internal/session"
)

// fakePublisher 记录所有发布的事件
type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakePublisher) PublishEvent(event events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) Close() error {
	return nil
}

func (f *fakePublisher) byType(eventType events.EventType) []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []events.Event
	for _, e := range f.events {
		if e.GetType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

// fakeCSMS 模拟上游CSMS, 记录收到的每一帧并把新连接交给测试用例
type fakeCSMS struct {
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn

	mu       sync.Mutex
	received [][]byte
}

func newFakeCSMS() *fakeCSMS {
	return &fakeCSMS{
		upgrader: websocket.Upgrader{Subprotocols: ocpp.SupportedSubprotocols()},
		conns:    make(chan *websocket.Conn, 4),
	}
}

func (f *fakeCSMS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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

func (f *fakeCSMS) frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.received))
	copy(out, f.received)
	return out
}

// testAttackConfig 只开电流篡改且不带随机化, 结果可精确断言
func testAttackConfig() attack.Config {
	return attack.Config{
		Enabled:                 true,
		Strategy:                attack.StrategyAggressive,
		CurrentEnabled:          true,
		CurrentDeviationPercent: 25.0,
	}
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func newTestProxy(t *testing.T, attackConfig attack.Config, upstreamHost string, upstreamPort int) (*Proxy, *fakePublisher) {
	t.Helper()

	log, err := logger.New(logger.DefaultConfig())
	require.NoError(t, err)

	cfg := &config.Config{
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

	publisher := &fakePublisher{}
	manager := session.NewManager(&cfg.Session, nil, publisher, log)
	engine := attack.NewEngine(attackConfig, nil)
	pending := cache.NewPendingCache(&cfg.Cache)

	return NewProxy(cfg, engine, manager, pending, publisher, log), publisher
}

func startProxy(t *testing.T, attackConfig attack.Config, csms http.Handler) (*Proxy, *fakePublisher) {
	t.Helper()

	upstream := httptest.NewServer(csms)
	t.Cleanup(upstream.Close)

	host, port := splitHostPort(t, upstream.Listener.Addr().String())
	proxy, publisher := newTestProxy(t, attackConfig, host, port)
	require.NoError(t, proxy.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		proxy.Shutdown(ctx)
	})
	return proxy, publisher
}

func dialProxy(t *testing.T, proxy *Proxy, chargePointID, subprotocol string) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
		Subprotocols:     []string{subprotocol},
	}
	conn, _, err := dialer.Dial("ws://"+proxy.Addr()+"/ocpp/"+chargePointID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForUpstreamConn(t *testing.T, csms *fakeCSMS) *websocket.Conn {
	t.Helper()

	select {
	case conn := <-csms.conns:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("upstream connection not established")
		return nil
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	return raw
}

func requireReceived(t *testing.T, csms *fakeCSMS, want []byte) {
	t.Helper()

	require.Eventually(t, func() bool {
		for _, frame := range csms.frames() {
			if bytes.Equal(frame, want) {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestProxy_RelaysHeartbeatUnchanged(t *testing.T) {
	csms := newFakeCSMS()
	proxy, _ := startProxy(t, testAttackConfig(), csms)
	client := dialProxy(t, proxy, "CP001", "ocpp1.6")
	upstreamConn := waitForUpstreamConn(t, csms)

	// 故意带上不规范的空白, 透传必须逐字节保留
	heartbeat := []byte(`[2, "201", "Heartbeat", {}]`)
	require.NoError(t, client.WriteMessage(websocket.TextMessage, heartbeat))
	requireReceived(t, csms, heartbeat)

	response := []byte(`[3, "201", {"currentTime": "2026-08-22T10:00:00Z"}]`)
	require.NoError(t, upstreamConn.WriteMessage(websocket.TextMessage, response))
	assert.Equal(t, response, readFrame(t, client))

	sess, ok := proxy.sessions.Get("CP001")
	require.True(t, ok)
	assert.Equal(t, ocpp.Version16, sess.Version)
	require.Eventually(t, func() bool {
		record := sess.Snapshot()
		return record.FramesClientToServer == 1 && record.FramesServerToClient == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 0, sess.ManipulatedFrames())
}

func TestProxy_ManipulatesSetChargingProfile(t *testing.T) {
	csms := newFakeCSMS()
	proxy, publisher := startProxy(t, testAttackConfig(), csms)
	client := dialProxy(t, proxy, "CP002", "ocpp1.6")
	upstreamConn := waitForUpstreamConn(t, csms)

	original := []byte(`[2,"9001","SetChargingProfile",{"connectorId":1,"csChargingProfiles":{"chargingProfileId":1,"stackLevel":0,"chargingProfilePurpose":"TxProfile","chargingProfileKind":"Absolute","chargingSchedule":{"chargingRateUnit":"A","chargingSchedulePeriod":[{"startPeriod":0,"limit":32,"numberPhases":3}]}}}]`)
	require.NoError(t, upstreamConn.WriteMessage(websocket.TextMessage, original))

	got := readFrame(t, client)
	assert.NotEqual(t, original, got)

	msg, err := ocpp.DecodeMessage(got)
	require.NoError(t, err)
	assert.Equal(t, "9001", msg.ID)
	assert.Equal(t, "SetChargingProfile", msg.Action)

	// 电流偏移25%: 32A -> 40A
	profile, err := ocpp.NewParser(ocpp.Version16).ParseSetChargingProfile(msg.Payload)
	require.NoError(t, err)
	require.NotNil(t, profile)
	require.Len(t, profile.Schedules, 1)
	require.Len(t, profile.Schedules[0].Periods, 1)
	assert.InDelta(t, 40.0, profile.Schedules[0].Periods[0].Limit, 1e-9)

	// 配置之外的载荷键原样保留
	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(msg.Payload, &envelope))
	assert.JSONEq(t, "1", string(envelope["connectorId"]))

	// 充电桩的应答原样回传给CSMS
	ack := []byte(`[3,"9001",{"status":"Accepted"}]`)
	require.NoError(t, client.WriteMessage(websocket.TextMessage, ack))
	requireReceived(t, csms, ack)

	manipulated := publisher.byType(events.EventTypeProfileManipulated)
	require.Len(t, manipulated, 1)
	info := manipulated[0].(*events.ProfileManipulatedEvent).ManipulationInfo
	assert.Equal(t, "9001", info.MessageID)
	assert.Equal(t, "SetChargingProfile", info.Action)
	assert.Equal(t, string(session.DirectionServerToClient), info.Direction)
	assert.InDelta(t, 25.0, info.MaxDeviationPercent, 1e-9)

	acknowledged := publisher.byType(events.EventTypeManipulationAcknowledged)
	require.Len(t, acknowledged, 1)
	ackInfo := acknowledged[0].(*events.ManipulationAcknowledgedEvent).AcknowledgementInfo
	assert.Equal(t, "9001", ackInfo.MessageID)
	assert.Equal(t, "Accepted", ackInfo.Status)
	assert.Equal(t, "aggressive", ackInfo.Strategy)

	sess, ok := proxy.sessions.Get("CP002")
	require.True(t, ok)
	assert.EqualValues(t, 1, sess.ManipulatedFrames())
}

func TestProxy_ManipulatesVersion201ProfileKey(t *testing.T) {
	csms := newFakeCSMS()
	proxy, _ := startProxy(t, testAttackConfig(), csms)
	client := dialProxy(t, proxy, "CP003", "ocpp2.0.1")
	upstreamConn := waitForUpstreamConn(t, csms)

	original := []byte(`[2,"77","SetChargingProfile",{"evseId":2,"chargingProfile":{"id":7,"stackLevel":0,"chargingProfilePurpose":"TxProfile","chargingProfileKind":"Absolute","chargingSchedule":[{"id":1,"chargingRateUnit":"A","chargingSchedulePeriod":[{"startPeriod":0,"limit":16}]}]}}]`)
	require.NoError(t, upstreamConn.WriteMessage(websocket.TextMessage, original))

	got := readFrame(t, client)
	msg, err := ocpp.DecodeMessage(got)
	require.NoError(t, err)

	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(msg.Payload, &envelope))
	assert.Contains(t, envelope, "chargingProfile")
	assert.NotContains(t, envelope, "csChargingProfiles")
	assert.JSONEq(t, "2", string(envelope["evseId"]))

	profile, err := ocpp.NewParser(ocpp.Version201).ParseSetChargingProfile(msg.Payload)
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, 7, profile.ID)
	require.Len(t, profile.Schedules, 1)
	require.Len(t, profile.Schedules[0].Periods, 1)
	assert.InDelta(t, 20.0, profile.Schedules[0].Periods[0].Limit, 1e-9)

	sess, ok := proxy.sessions.Get("CP003")
	require.True(t, ok)
	assert.Equal(t, ocpp.Version201, sess.Version)
}

func TestProxy_MalformedFrameForwardedUnchanged(t *testing.T) {
	csms := newFakeCSMS()
	proxy, _ := startProxy(t, testAttackConfig(), csms)
	client := dialProxy(t, proxy, "CP004", "ocpp1.6")
	waitForUpstreamConn(t, csms)

	malformed := []byte(`[2,"bad"`)
	require.NoError(t, client.WriteMessage(websocket.TextMessage, malformed))
	requireReceived(t, csms, malformed)

	// 异常帧不会中断会话, 后续帧继续转发
	heartbeat := []byte(`[2,"1","Heartbeat",{}]`)
	require.NoError(t, client.WriteMessage(websocket.TextMessage, heartbeat))
	requireReceived(t, csms, heartbeat)

	assert.Equal(t, 1, proxy.sessions.Len())
}

func TestProxy_DuplicateConnectionReplaced(t *testing.T) {
	csms := newFakeCSMS()
	proxy, _ := startProxy(t, testAttackConfig(), csms)

	first := dialProxy(t, proxy, "CP005", "ocpp1.6")
	waitForUpstreamConn(t, csms)
	second := dialProxy(t, proxy, "CP005", "ocpp1.6")
	waitForUpstreamConn(t, csms)

	// 旧连接被代理主动关闭
	require.NoError(t, first.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := first.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 1, proxy.sessions.Len())

	// 新连接继续正常中继
	heartbeat := []byte(`[2,"11","Heartbeat",{}]`)
	require.NoError(t, second.WriteMessage(websocket.TextMessage, heartbeat))
	requireReceived(t, csms, heartbeat)
}

func TestProxy_UpstreamUnreachable(t *testing.T) {
	// 上游指向无人监听的端口
	proxy, publisher := newTestProxy(t, testAttackConfig(), "127.0.0.1", 9)
	require.NoError(t, proxy.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		proxy.Shutdown(ctx)
	})

	client := dialProxy(t, proxy, "CP006", "ocpp1.6")

	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := client.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater))

	require.Eventually(t, func() bool {
		return len(publisher.byType(events.EventTypeProtocolError)) == 1
	}, 5*time.Second, 10*time.Millisecond)
	errEvent := publisher.byType(events.EventTypeProtocolError)[0].(*events.ProtocolErrorEvent)
	assert.Equal(t, events.ErrorCodeUpstreamUnreachable, errEvent.ErrorInfo.Code)

	assert.Equal(t, 0, proxy.sessions.Len())
}

func TestProxy_InvalidPathRejected(t *testing.T) {
	csms := newFakeCSMS()
	proxy, _ := startProxy(t, testAttackConfig(), csms)

	resp, err := http.Get("http://" + proxy.Addr() + "/ocpp/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProxy_ShutdownClosesSessions(t *testing.T) {
	csms := newFakeCSMS()
	proxy, _ := startProxy(t, testAttackConfig(), csms)
	client := dialProxy(t, proxy, "CP009", "ocpp1.6")
	waitForUpstreamConn(t, csms)

	require.Eventually(t, func() bool {
		return proxy.sessions.Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, proxy.Shutdown(ctx))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := client.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, proxy.sessions.Len())
}
