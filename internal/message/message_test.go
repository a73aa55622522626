package message

import (
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/charging-platform/ocpp-attack-lab/internal/domain/events"
)

// MockAsyncProducer 是 sarama.AsyncProducer 的 mock 实现
type MockAsyncProducer struct {
	mock.Mock
	input     chan *sarama.ProducerMessage
	successes chan *sarama.ProducerMessage
	errors    chan *sarama.ProducerError
}

func NewMockAsyncProducer() *MockAsyncProducer {
	return &MockAsyncProducer{
		input:     make(chan *sarama.ProducerMessage, 8), // 缓冲通道, 测试中无消费者
		successes: make(chan *sarama.ProducerMessage),
		errors:    make(chan *sarama.ProducerError),
	}
}

func (m *MockAsyncProducer) AsyncClose() {
	m.Called()
	close(m.input)
	close(m.successes)
	close(m.errors)
}

func (m *MockAsyncProducer) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockAsyncProducer) Input() chan<- *sarama.ProducerMessage {
	return m.input
}

func (m *MockAsyncProducer) Successes() <-chan *sarama.ProducerMessage {
	return m.successes
}

func (m *MockAsyncProducer) Errors() <-chan *sarama.ProducerError {
	return m.errors
}

func (m *MockAsyncProducer) IsTransactional() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockAsyncProducer) TxnStatus() sarama.ProducerTxnStatusFlag {
	args := m.Called()
	return args.Get(0).(sarama.ProducerTxnStatusFlag)
}

func (m *MockAsyncProducer) BeginTxn() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockAsyncProducer) CommitTxn() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockAsyncProducer) AbortTxn() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockAsyncProducer) AddOffsetsToTxn(offsets map[string][]*sarama.PartitionOffsetMetadata, groupID string) error {
	args := m.Called(offsets, groupID)
	return args.Error(0)
}

func (m *MockAsyncProducer) AddMessageToTxn(msg *sarama.ConsumerMessage, groupID string, metadata *string) error {
	args := m.Called(msg, groupID, metadata)
	return args.Error(0)
}

// UnserializableEvent 实现了 events.Event 接口，但其 ToJSON 方法总是返回错误
type UnserializableEvent struct {
	*events.BaseEvent
}

func (e *UnserializableEvent) GetPayload() interface{} {
	return nil
}

func (e *UnserializableEvent) ToJSON() ([]byte, error) {
	return nil, assert.AnError // 总是返回一个错误
}

// TestEventProducerInterface 验证 EventProducer 接口的实现
func TestEventProducerInterface(t *testing.T) {
	var producer EventProducer
	var kafkaProducer *KafkaProducer // 确保 KafkaProducer 实现了 EventProducer
	producer = kafkaProducer
	assert.Nil(t, producer)
	producer = NopProducer{}
	assert.NotNil(t, producer)
}

// TestPublishEvent_Success 测试事件被序列化并以充电桩ID为Key写入生产者
func TestPublishEvent_Success(t *testing.T) {
	mockProducer := NewMockAsyncProducer()

	kp := &KafkaProducer{
		producer: mockProducer,
		topic:    "ocpp-lab-events",
	}

	factory := events.NewEventFactory()
	event := factory.CreateProfileManipulatedEvent("CP001", events.ManipulationInfo{
		MessageID:           "msg-42",
		Action:              "SetChargingProfile",
		Strategy:            "gradual_degradation",
		Direction:           "server_to_client",
		EventCount:          3,
		MaxDeviationPercent: 12.5,
	}, events.Metadata{Source: "mitm-proxy", ProtocolVersion: "1.6"})

	err := kp.PublishEvent(event)
	require.NoError(t, err)

	msg := <-mockProducer.input
	assert.Equal(t, "ocpp-lab-events", msg.Topic)

	key, err := msg.Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "CP001", string(key))

	value, err := msg.Value.Encode()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(value, &decoded))
	assert.Equal(t, string(events.EventTypeProfileManipulated), decoded["type"])
	assert.Equal(t, "CP001", decoded["charge_point_id"])
}

// TestPublishEvent_Failure 测试事件序列化失败时返回错误
func TestPublishEvent_Failure(t *testing.T) {
	mockProducer := NewMockAsyncProducer()

	kp := &KafkaProducer{
		producer: mockProducer,
		topic:    "ocpp-lab-events",
	}

	badEvent := &UnserializableEvent{
		BaseEvent: events.NewBaseEvent(events.EventType("bad.event"), "CP001", events.EventSeverityError, events.Metadata{}),
	}

	err := kp.PublishEvent(badEvent)
	assert.Error(t, err, "Expected an error when event serialization fails")
	assert.Empty(t, mockProducer.input, "No message should be produced on serialization failure")
}

// TestClose_Failure 测试 Close 方法传播底层错误
func TestClose_Failure(t *testing.T) {
	mockProducer := NewMockAsyncProducer()
	mockProducer.On("Close").Return(assert.AnError) // 模拟 Close 返回错误

	kp := &KafkaProducer{
		producer: mockProducer,
		topic:    "ocpp-lab-events",
	}

	err := kp.Close()
	assert.Error(t, err, "Expected an error when producer close fails")
	mockProducer.AssertExpectations(t)
}

// TestNopProducer 测试空实现不报错
func TestNopProducer(t *testing.T) {
	var producer EventProducer = NopProducer{}

	factory := events.NewEventFactory()
	event := factory.CreateSessionOpenedEvent("CP002", events.SessionInfo{ChargePointID: "CP002", Version: "2.0.1"}, events.Metadata{})

	assert.NoError(t, producer.PublishEvent(event))
	assert.NoError(t, producer.Close())
}
