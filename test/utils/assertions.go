package utils

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charging-platform/ocpp-attack-lab/internal/domain/ocpp"
)

// AssertOCPPCall 断言一帧是CALL消息并返回消息ID与载荷
func AssertOCPPCall(t *testing.T, data []byte, expectedAction string) (string, map[string]interface{}) {
	t.Helper()

	var message []interface{}
	err := json.Unmarshal(data, &message)
	require.NoError(t, err, "Failed to unmarshal OCPP message")
	require.Len(t, message, 4, "CALL message should have 4 elements")

	messageType, ok := message[0].(float64)
	require.True(t, ok, "Message type should be a number")
	assert.Equal(t, 2, int(messageType), "Should be CALL message")

	messageID, ok := message[1].(string)
	require.True(t, ok, "Message ID should be a string")
	assert.NotEmpty(t, messageID, "Message ID should not be empty")

	action, ok := message[2].(string)
	require.True(t, ok, "Action should be a string")
	assert.Equal(t, expectedAction, action, "Action mismatch")

	payload, ok := message[3].(map[string]interface{})
	require.True(t, ok, "Payload should be an object")

	return messageID, payload
}

// AssertOCPPCallResult 断言一帧是CALLRESULT消息并返回载荷
func AssertOCPPCallResult(t *testing.T, data []byte, expectedMessageID string) map[string]interface{} {
	t.Helper()

	var message []interface{}
	err := json.Unmarshal(data, &message)
	require.NoError(t, err, "Failed to unmarshal OCPP message")
	require.Len(t, message, 3, "CALLRESULT message should have 3 elements")

	messageType, ok := message[0].(float64)
	require.True(t, ok, "Message type should be a number")
	assert.Equal(t, 3, int(messageType), "Should be CALLRESULT message")

	messageID, ok := message[1].(string)
	require.True(t, ok, "Message ID should be a string")
	assert.Equal(t, expectedMessageID, messageID, "Message ID mismatch")

	payload, ok := message[2].(map[string]interface{})
	require.True(t, ok, "Payload should be an object")
	return payload
}

// AssertProfileLimits 解析帧中的充电配置并断言首个排程的每期限值
func AssertProfileLimits(t *testing.T, frame []byte, version ocpp.Version, expectedLimits ...float64) *ocpp.ChargingProfile {
	t.Helper()

	msg, err := ocpp.DecodeMessage(frame)
	require.NoError(t, err, "Failed to decode OCPP frame")

	profile, err := ocpp.NewParser(version).ParseSetChargingProfile(msg.Payload)
	require.NoError(t, err, "Failed to parse charging profile")
	require.NotNil(t, profile, "Frame should carry a charging profile")

	schedule := profile.FirstSchedule()
	require.NotNil(t, schedule, "Profile should have at least one schedule")
	require.Len(t, schedule.Periods, len(expectedLimits), "Schedule period count mismatch")

	for i, want := range expectedLimits {
		assert.InDelta(t, want, schedule.Periods[i].Limit, 1e-9, "Limit mismatch at period %d", i)
	}

	return profile
}

// AssertEventuallyTrue 断言条件最终为真
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	interval := timeout / 20

	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(interval)
	}

	t.Fatalf("Condition not met within timeout: %s", message)
}
