// Package proto holds the wire-level enums shared between the agent core
// and the edge protocol. RiskLevel is the one piece of that protocol this
// module still depends on: it is assigned to a tool call by the caller
// (an edge daemon or the core's own tool registry) and consulted by
// internal/tools/policy to decide whether the call needs interactive
// approval.
package proto

// RiskLevel classifies how much damage a tool call could do if it executed
// without review. It mirrors the enum shape protoc generates (an int32 with
// a String method) without requiring the edge .proto sources, which are not
// part of this module.
type RiskLevel int32

const (
	RiskLevel_RISK_LEVEL_UNSPECIFIED RiskLevel = 0
	RiskLevel_RISK_LEVEL_LOW         RiskLevel = 1
	RiskLevel_RISK_LEVEL_MEDIUM      RiskLevel = 2
	RiskLevel_RISK_LEVEL_HIGH        RiskLevel = 3
	RiskLevel_RISK_LEVEL_CRITICAL    RiskLevel = 4
)

var riskLevelNames = map[RiskLevel]string{
	RiskLevel_RISK_LEVEL_UNSPECIFIED: "RISK_LEVEL_UNSPECIFIED",
	RiskLevel_RISK_LEVEL_LOW:         "RISK_LEVEL_LOW",
	RiskLevel_RISK_LEVEL_MEDIUM:      "RISK_LEVEL_MEDIUM",
	RiskLevel_RISK_LEVEL_HIGH:        "RISK_LEVEL_HIGH",
	RiskLevel_RISK_LEVEL_CRITICAL:    "RISK_LEVEL_CRITICAL",
}

func (r RiskLevel) String() string {
	if name, ok := riskLevelNames[r]; ok {
		return name
	}
	return "RISK_LEVEL_UNKNOWN"
}
