package app

import (
	"errors"
	"fmt"
	"hash/crc32"
	"strconv"
	"time"

	"github.com/robotalks/nodecore/pkg/comm"
	"github.com/robotalks/nodecore/pkg/sequencer"
	"github.com/robotalks/nodecore/pkg/session"
)

// MaxListEntries limits the output of sequencer-list.
const MaxListEntries = 32

var errNoSequencer = errors.New("sequencer not available")

func init() {
	AddCmds(
		&HelpCmd,
		&StatsCmd,
		&QuitCmd,
		&ResetCmd,
		&FlashSendCmd,
		&SettingGetCmd,
		&SettingSetCmd,
		&GPIOWriteCmd,
		&GPIOTriggerCmd,
		&SequencerStatusCmd,
		&SequencerGetCmd,
		&SequencerSetCmd,
		&SequencerRemoveCmd,
		&SequencerClearCmd,
		&SequencerStartCmd,
		&SequencerStopCmd,
		&SequencerListCmd,
	)
}

// HelpCmd lists the commands.
var HelpCmd = Cmd{
	Name: "help",
	Help: "list commands",
	Func: func(c *Context) session.Action {
		for _, cmd := range Commands() {
			c.Printf("> %-18s %s\n", cmd.Name, cmd.Help)
		}
		return session.ActionNormal
	},
}

// StatsCmd prints the node statistics.
var StatsCmd = Cmd{
	Name: "stats",
	Help: "show statistics",
	Func: func(c *Context) session.Action {
		if c.App.Reporter == nil {
			return c.Err(errors.New("no statistics"))
		}
		c.App.Reporter.Report(c.Out)
		return session.ActionNormal
	},
}

// QuitCmd disconnects the peer.
var QuitCmd = Cmd{
	Name: "quit",
	Help: "disconnect",
	Func: func(c *Context) session.Action {
		return session.ActionDisconnect
	},
}

// ResetCmd restarts the node.
var ResetCmd = Cmd{
	Name: "reset",
	Help: "restart the node",
	Func: func(c *Context) session.Action {
		return session.ActionReset
	},
}

// FlashSendCmd acknowledges a binary transfer.
var FlashSendCmd = Cmd{
	Name:  "flash-send",
	Usage: "<length> <data>",
	Help:  "receive raw data",
	Func: func(c *Context) session.Action {
		offset, length, ok := comm.ParseFlashSend(c.Raw)
		if !ok {
			return c.Usage()
		}
		data := c.Raw[offset:]
		if len(data) != length {
			return c.Err(fmt.Errorf("flash-send: received %d bytes, expected %d", len(data), length))
		}
		c.Printf("> flash-send: received %d bytes, crc32 %08x\n", length, crc32.ChecksumIEEE(data))
		return session.ActionNormal
	},
}

// SettingGetCmd reads a setting.
var SettingGetCmd = Cmd{
	Name:  "setting-get",
	Usage: "<name>",
	Help:  "read a setting",
	Func: func(c *Context) session.Action {
		if len(c.Args) != 1 {
			return c.Usage()
		}
		c.Printf("> %s = %d\n", c.Args[0], c.App.Settings.GetInt(c.Args[0], -1))
		return session.ActionNormal
	},
}

// SettingSetCmd writes a setting.
var SettingSetCmd = Cmd{
	Name:  "setting-set",
	Usage: "<name> <value>",
	Help:  "write a setting",
	Func: func(c *Context) session.Action {
		if len(c.Args) != 2 {
			return c.Usage()
		}
		val, err := strconv.Atoi(c.Args[1])
		if err != nil {
			return c.Err(err)
		}
		c.App.Settings.SetInt(c.Args[0], val)
		c.Printf("> %s = %d\n", c.Args[0], c.App.Settings.GetInt(c.Args[0], -1))
		return session.ActionNormal
	},
}

// GPIOWriteCmd writes a pin value.
var GPIOWriteCmd = Cmd{
	Name:  "gpio-write",
	Usage: "<io> <pin> <value>",
	Help:  "write a pin",
	Func: func(c *Context) session.Action {
		if len(c.Args) != 3 {
			return c.Usage()
		}
		vals, err := parseInts(c.Args[:2], 2)
		if err != nil {
			return c.Usage()
		}
		val, err := parseValue(c.Args[2])
		if err != nil {
			return c.Usage()
		}
		c.App.IO.WritePin(vals[0], vals[1], val)
		c.Printf("> gpio %d/%d = %d\n", vals[0], vals[1], val)
		return session.ActionNormal
	},
}

// GPIOTriggerCmd triggers a pin.
var GPIOTriggerCmd = Cmd{
	Name:  "gpio-trigger",
	Usage: "<io> <pin> on|off",
	Help:  "trigger a pin",
	Func: func(c *Context) session.Action {
		if len(c.Args) != 3 || (c.Args[2] != "on" && c.Args[2] != "off") {
			return c.Usage()
		}
		vals, err := parseInts(c.Args[:2], 2)
		if err != nil {
			return c.Usage()
		}
		c.App.IO.TriggerPin(vals[0], vals[1], c.Args[2] == "on")
		c.Printf("> gpio %d/%d trigger %s\n", vals[0], vals[1], c.Args[2])
		return session.ActionNormal
	},
}

// SequencerStatusCmd shows the sequencer state.
var SequencerStatusCmd = Cmd{
	Name: "sequencer-status",
	Help: "show sequencer state",
	Func: withSequencer(func(c *Context, seq *sequencer.Sequencer) session.Action {
		st := seq.Status()
		state := "stopped"
		if st.Running {
			state = "running"
		}
		c.Printf("> sequencer %s, start %d, table valid %t\n", state, st.Start, seq.Valid())
		c.Printf("> flash size %d bytes, %d entries\n", st.FlashSize, st.FlashEntries)
		c.Printf("> flash mirror 0 %#06x, mirror 1 %#06x, mapped %#010x\n", st.Mirror0, st.Mirror1, st.Mapped)
		return session.ActionNormal
	}),
}

// SequencerGetCmd shows one entry.
var SequencerGetCmd = Cmd{
	Name:  "sequencer-get",
	Usage: "<index>",
	Help:  "show a sequencer entry",
	Func: withSequencer(func(c *Context, seq *sequencer.Sequencer) session.Action {
		vals, err := parseInts(c.Args, 1)
		if err != nil {
			return c.Usage()
		}
		e, err := seq.Entry(vals[0])
		if err != nil {
			return c.Err(err)
		}
		printEntry(c, vals[0], e)
		return session.ActionNormal
	}),
}

// SequencerSetCmd writes one entry.
var SequencerSetCmd = Cmd{
	Name:  "sequencer-set",
	Usage: "<index> <io> <pin> <value> <duration ms>",
	Help:  "write a sequencer entry",
	Func: withSequencer(func(c *Context, seq *sequencer.Sequencer) session.Action {
		if len(c.Args) != 5 {
			return c.Usage()
		}
		vals, err := parseInts([]string{c.Args[0], c.Args[1], c.Args[2], c.Args[4]}, 4)
		if err != nil {
			return c.Usage()
		}
		val, err := parseValue(c.Args[3])
		if err != nil {
			return c.Usage()
		}
		e := sequencer.Entry{
			IO:       vals[1],
			Pin:      vals[2],
			Value:    val,
			Duration: time.Duration(vals[3]) * time.Millisecond,
		}
		if err = seq.SetEntry(vals[0], e); err != nil {
			return c.Err(err)
		}
		e.Active = true
		printEntry(c, vals[0], e)
		return session.ActionNormal
	}),
}

// SequencerRemoveCmd deactivates one entry.
var SequencerRemoveCmd = Cmd{
	Name:  "sequencer-remove",
	Usage: "<index>",
	Help:  "remove a sequencer entry",
	Func: withSequencer(func(c *Context, seq *sequencer.Sequencer) session.Action {
		vals, err := parseInts(c.Args, 1)
		if err != nil {
			return c.Usage()
		}
		if err = seq.RemoveEntry(vals[0]); err != nil {
			return c.Err(err)
		}
		c.Printf("> sequencer entry %d removed\n", vals[0])
		return session.ActionNormal
	}),
}

// SequencerClearCmd rewrites the whole table.
var SequencerClearCmd = Cmd{
	Name: "sequencer-clear",
	Help: "erase all sequencer entries",
	Func: withSequencer(func(c *Context, seq *sequencer.Sequencer) session.Action {
		if err := seq.Clear(); err != nil {
			return c.Err(err)
		}
		c.Printf("> sequencer cleared\n")
		return session.ActionNormal
	}),
}

// SequencerStartCmd starts the program.
var SequencerStartCmd = Cmd{
	Name:  "sequencer-start",
	Usage: "<start> [repeats]",
	Help:  "run the sequencer",
	Func: withSequencer(func(c *Context, seq *sequencer.Sequencer) session.Action {
		args := c.Args
		if len(args) == 1 {
			args = append(args, "1")
		}
		vals, err := parseInts(args, 2)
		if err != nil || vals[0] < 0 || vals[1] < 1 {
			return c.Usage()
		}
		if !seq.Valid() {
			return c.Err(sequencer.ErrTableInvalid)
		}
		seq.Start(vals[0], vals[1])
		c.Printf("> sequencer started at %d, repeats %d\n", vals[0], vals[1])
		return session.ActionNormal
	}),
}

// SequencerStopCmd stops the program.
var SequencerStopCmd = Cmd{
	Name: "sequencer-stop",
	Help: "stop the sequencer",
	Func: withSequencer(func(c *Context, seq *sequencer.Sequencer) session.Action {
		seq.Stop()
		c.Printf("> sequencer stopped\n")
		return session.ActionNormal
	}),
}

// SequencerListCmd shows the program from an index until the first
// inactive entry.
var SequencerListCmd = Cmd{
	Name:  "sequencer-list",
	Usage: "[start]",
	Help:  "show the sequencer program",
	Func: withSequencer(func(c *Context, seq *sequencer.Sequencer) session.Action {
		start := 0
		if len(c.Args) > 0 {
			vals, err := parseInts(c.Args, 1)
			if err != nil {
				return c.Usage()
			}
			start = vals[0]
		}
		for index := start; index < start+MaxListEntries; index++ {
			e, err := seq.Entry(index)
			if err == sequencer.ErrOutOfRange {
				break
			}
			if err != nil {
				return c.Err(err)
			}
			if !e.Active {
				break
			}
			printEntry(c, index, e)
		}
		c.Printf("> end\n")
		return session.ActionNormal
	}),
}

func withSequencer(fn func(*Context, *sequencer.Sequencer) session.Action) func(*Context) session.Action {
	return func(c *Context) session.Action {
		if c.App.Sequencer == nil {
			return c.Err(errNoSequencer)
		}
		return fn(c, c.App.Sequencer)
	}
}

func printEntry(c *Context, index int, e sequencer.Entry) {
	state := "inactive"
	if e.Active {
		state = "active"
	}
	c.Printf("> sequencer entry %d: %s, io %d, pin %d, value %d, duration %d ms\n",
		index, state, e.IO, e.Pin, e.Value, e.Duration/time.Millisecond)
}

func parseInts(args []string, n int) ([]int, error) {
	if len(args) != n {
		return nil, fmt.Errorf("expect %d arguments", n)
	}
	vals := make([]int, n)
	for i, arg := range args {
		val, err := strconv.ParseInt(arg, 0, 32)
		if err != nil {
			return nil, err
		}
		vals[i] = int(val)
	}
	return vals, nil
}

// parseValue parses a 32-bit pin value, out of range values are
// rejected.
func parseValue(arg string) (uint32, error) {
	val, err := strconv.ParseUint(arg, 0, 32)
	return uint32(val), err
}
