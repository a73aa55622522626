package ocpp

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// Version OCPP协议版本
type Version string

const (
	Version16  Version = "ocpp1.6"
	Version20  Version = "ocpp2.0"
	Version201 Version = "ocpp2.0.1"

	// 未协商时的零值
	VersionUnknown Version = ""

	// 默认版本
	DefaultVersion = Version16
)

// 支持的WebSocket子协议列表, 按优先顺序排列
var supportedSubprotocols = []string{
	string(Version16),
	string(Version20),
	string(Version201),
}

// SupportedSubprotocols 获取支持的子协议列表
func SupportedSubprotocols() []string {
	// 返回副本，避免外部修改
	result := make([]string, len(supportedSubprotocols))
	copy(result, supportedSubprotocols)
	return result
}

// DetectVersion 根据WebSocket子协议推断OCPP版本
// 按 2.0.1 -> 2.0 -> 1.6 的顺序做子串匹配, 2.0.1必须先于2.0检查
func DetectVersion(subprotocol string) Version {
	if subprotocol == "" {
		log.Warn().Msg("No subprotocol provided, defaulting to OCPP 1.6")
		return Version16
	}

	lower := strings.ToLower(subprotocol)
	switch {
	case strings.Contains(lower, "2.0.1"):
		return Version201
	case strings.Contains(lower, "2.0"):
		return Version20
	case strings.Contains(lower, "1.6"):
		return Version16
	default:
		log.Warn().
			Str("subprotocol", subprotocol).
			Msg("Unknown subprotocol, defaulting to OCPP 1.6")
		return Version16
	}
}

// IsSupported 检查子协议是否在支持列表内
func IsSupported(subprotocol string) bool {
	for _, supported := range supportedSubprotocols {
		if subprotocol == supported {
			return true
		}
	}
	return false
}

// String 实现Stringer接口
func (v Version) String() string {
	return string(v)
}
