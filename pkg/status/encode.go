package status

import (
	"github.com/golang/protobuf/proto"
	structpb "github.com/golang/protobuf/ptypes/struct"
)

func number(v float64) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_NumberValue{NumberValue: v}}
}

func boolean(v bool) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_BoolValue{BoolValue: v}}
}

func text(v string) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: v}}
}

func object(fields map[string]*structpb.Value) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_StructValue{StructValue: &structpb.Struct{Fields: fields}}}
}

func sessionValue(s *Session) *structpb.Value {
	c := s.Counters
	return object(map[string]*structpb.Value{
		"state":         text(s.State.String()),
		"connected":     boolean(s.Connected),
		"accepted":      number(float64(c.Accepted)),
		"received":      number(float64(c.Received)),
		"tcp":           number(float64(c.TCP)),
		"udp":           number(float64(c.UDP)),
		"overflow":      number(float64(c.Overflow)),
		"sent":          number(float64(c.Sent)),
		"send_overflow": number(float64(c.SendOverflow)),
		"errors":        number(float64(c.Errors)),
		"disconnects":   number(float64(c.Disconnects)),
	})
}

// Struct converts the snapshot into a protobuf Struct.
func (s *Snapshot) Struct() *structpb.Struct {
	tiers := make(map[string]*structpb.Value, len(s.Dispatcher.Tiers))
	for _, t := range s.Dispatcher.Tiers {
		tiers[t.Tier.String()] = object(map[string]*structpb.Value{
			"pending":  number(float64(t.Pending)),
			"capacity": number(float64(t.Capacity)),
			"posted":   number(float64(t.Posted)),
			"failed":   number(float64(t.Failed)),
		})
	}
	fields := map[string]*structpb.Value{
		"time":              text(s.Time.UTC().Format("2006-01-02T15:04:05.000Z")),
		"uptime_seconds":    number(s.Node.Uptime.Seconds()),
		"fast_ticks":        number(float64(s.Node.FastTicks)),
		"slow_ticks":        number(float64(s.Node.SlowTicks)),
		"bridge_pumps":      number(float64(s.Node.BridgePumps)),
		"display_updates":   number(float64(s.Node.DisplayUpdates)),
		"sequencer_runs":    number(float64(s.Node.SequencerRuns)),
		"unknown_opcodes":   number(float64(s.Node.UnknownOpcodes)),
		"wlan_fallback":     boolean(s.Node.Fallback),
		"tiers":             object(tiers),
		"tasks_drained":     number(float64(s.Dispatcher.Drained)),
		"events_dropped":    number(float64(s.Dispatcher.InboxDropped)),
		"background_tasks":  number(float64(s.Node.BackgroundPending)),
		"display_init_usec": number(float64(s.Node.DisplayInitTime.Microseconds())),
	}
	if s.NodeID != "" {
		fields["node"] = text(s.NodeID)
	}
	if s.Command != nil {
		fields["command"] = sessionValue(s.Command)
	}
	if s.Bridge != nil {
		fields["bridge"] = sessionValue(s.Bridge)
	}
	if seq := s.Sequencer; seq != nil {
		fields["sequencer"] = object(map[string]*structpb.Value{
			"running": boolean(seq.Running),
			"start":   number(float64(seq.Start)),
			"entries": number(float64(seq.FlashEntries)),
			"mapped":  number(float64(seq.Mapped)),
		})
	}
	if u := s.UART; u != nil {
		fields["uart"] = object(map[string]*structpb.Value{
			"rx_bytes":    number(float64(u.RxBytes)),
			"tx_bytes":    number(float64(u.TxBytes)),
			"rx_overflow": number(float64(u.RxOverflow)),
			"tx_errors":   number(float64(u.TxErrors)),
		})
	}
	return &structpb.Struct{Fields: fields}
}

// Marshal encodes the snapshot as a protobuf Struct.
func (s *Snapshot) Marshal() ([]byte, error) {
	return proto.Marshal(s.Struct())
}

// Unmarshal decodes a snapshot encoded by Marshal.
func Unmarshal(data []byte) (*structpb.Struct, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
