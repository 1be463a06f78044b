// Package app implements the text commands of the command console.
package app

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/golang/glog"

	"github.com/robotalks/nodecore/pkg/sequencer"
	"github.com/robotalks/nodecore/pkg/session"
)

// Settings is the named integer store.
type Settings interface {
	GetInt(name string, def int) int
	SetInt(name string, value int)
}

// IO is the GPIO collaborator.
type IO interface {
	TriggerPin(io, pin int, on bool)
	WritePin(io, pin int, value uint32)
}

// Reporter writes the node statistics.
type Reporter interface {
	Report(w io.Writer)
}

// App is the content handler of the command session.
type App struct {
	Sequencer *sequencer.Sequencer
	Settings  Settings
	IO        IO
	Reporter  Reporter
}

// Context is passed to a command.
type Context struct {
	App  *App
	Cmd  *Cmd
	Args []string
	Raw  []byte
	Out  *bytes.Buffer
}

// Printf writes a response line.
func (c *Context) Printf(format string, args ...interface{}) {
	fmt.Fprintf(c.Out, format, args...)
}

// Err writes an error response.
func (c *Context) Err(err error) session.Action {
	fmt.Fprintf(c.Out, "ERROR: %v\n", err)
	return session.ActionError
}

// Usage writes the usage of the running command.
func (c *Context) Usage() session.Action {
	fmt.Fprintf(c.Out, "ERROR: usage: %s %s\n", c.Cmd.Name, c.Cmd.Usage)
	return session.ActionError
}

// Cmd defines a console command.
type Cmd struct {
	Name  string
	Usage string
	Help  string
	Func  func(c *Context) session.Action
}

var commands []*Cmd

// AddCmds registers commands, used by init funcs.
func AddCmds(cmds ...*Cmd) {
	commands = append(commands, cmds...)
}

// Lookup finds a registered command.
func Lookup(name string) *Cmd {
	for _, cmd := range commands {
		if cmd.Name == name {
			return cmd
		}
	}
	return nil
}

// Commands returns all registered commands.
func Commands() []*Cmd {
	return commands
}

// Process implements session.Handler.
func (a *App) Process(cmd []byte, out *bytes.Buffer) session.Action {
	if bytes.HasPrefix(cmd, []byte("GET ")) {
		return a.serveHTTP(out)
	}
	args := strings.Fields(string(cmd))
	if len(args) == 0 {
		return session.ActionEmpty
	}
	c := &Context{App: a, Cmd: Lookup(args[0]), Args: args[1:], Raw: cmd, Out: out}
	if c.Cmd == nil {
		glog.V(2).Infof("unknown command %q", args[0])
		return c.Err(fmt.Errorf("command unknown: %s", args[0]))
	}
	return c.Cmd.Func(c)
}

func (a *App) serveHTTP(out *bytes.Buffer) session.Action {
	var body bytes.Buffer
	fmt.Fprintln(&body, "<html><head><title>node</title></head><body><pre>")
	if a.Reporter != nil {
		a.Reporter.Report(&body)
	}
	fmt.Fprintln(&body, "</pre></body></html>")

	fmt.Fprint(out, "HTTP/1.0 200 OK\r\n")
	fmt.Fprint(out, "Content-Type: text/html\r\n")
	fmt.Fprintf(out, "Content-Length: %d\r\n", body.Len())
	fmt.Fprint(out, "Connection: close\r\n\r\n")
	out.Write(body.Bytes())
	return session.ActionHTTPOK
}
