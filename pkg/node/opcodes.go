package node

import "github.com/robotalks/nodecore/pkg/framework"

// Opcodes of the uart tier.
const (
	UARTBridgePump framework.Opcode = iota
)

// Opcodes of the command tier.
const (
	CmdReset framework.Opcode = iota
	CmdInitSensors
	CmdInitDisplay
	CmdReceivedCommand
	CmdDisplayUpdate
	CmdFallbackWLAN
	CmdUpdateTime
	CmdRunSequencer
	CmdAlertAssociation
	CmdAlertDisassociation
	CmdAlertStatus
	CmdDisconnect

	cmdOpcodeCount
)

// Opcodes of the timer tier.
const (
	TimerIOFast framework.Opcode = iota
	TimerIOSlow
)

var cmdOpcodeNames = [cmdOpcodeCount]string{
	CmdReset:               "reset",
	CmdInitSensors:         "init-sensors",
	CmdInitDisplay:         "init-display",
	CmdReceivedCommand:     "received-command",
	CmdDisplayUpdate:       "display-update",
	CmdFallbackWLAN:        "fallback-wlan",
	CmdUpdateTime:          "update-time",
	CmdRunSequencer:        "run-sequencer",
	CmdAlertAssociation:    "alert-association",
	CmdAlertDisassociation: "alert-disassociation",
	CmdAlertStatus:         "alert-status",
	CmdDisconnect:          "disconnect",
}

// OpcodeName returns a printable name of a tier opcode.
func OpcodeName(tier framework.Tier, op framework.Opcode) string {
	switch tier {
	case framework.TierUART:
		if op == UARTBridgePump {
			return "bridge-pump"
		}
	case framework.TierCommand:
		if op < cmdOpcodeCount {
			return cmdOpcodeNames[op]
		}
	case framework.TierTimer:
		switch op {
		case TimerIOFast:
			return "io-fast"
		case TimerIOSlow:
			return "io-slow"
		}
	}
	return "unknown"
}
