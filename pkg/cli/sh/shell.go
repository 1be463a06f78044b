// Package sh provides the ishell backed interactive console client.
package sh

import (
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/nodecore/pkg/cli/client"
)

// Config is the connection configuration of the shell.
type Config struct {
	Address string
	UDP     bool
}

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	AutoConnect bool

	Shell  *ishell.Shell
	Config Config
	Client *client.Client
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

var (
	// flags

	evalOnly bool
	config   = Config{Address: "localhost:24"}

	// commands
	commands = []*ishell.Cmd{
		&ConnectCmd,
		&DisconnectCmd,
		&SendFileCmd,
	}
)

// SetupFlags registers the shell flags.
func SetupFlags() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.StringVar(&config.Address, "addr", config.Address, "Node console address.")
	flag.BoolVar(&config.UDP, "udp", config.UDP, "Talk to the console over UDP.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell. Lines which are not shell commands are
// sent to the node as console commands.
func New(conf Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		Shell:       ishell.New(),
		Config:      conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	s.Shell.NotFound(MustBeConnected(func(c *ishell.Context) {
		DoCommand(c, strings.Join(c.Args, " "))
	}))
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Client == nil {
			c.Err(fmt.Errorf("not connected"))
			return
		}
		fn(c)
	}
}

// DoCommand sends a console command and prints the response.
func DoCommand(c *ishell.Context, cmd string) error {
	resp, err := ShellFrom(c).Client.Do(cmd)
	if err != nil {
		c.Err(err)
		return err
	}
	c.Print(resp)
	return nil
}

// WithAutoConnect sets AutoConnect.
func (s *Shell) WithAutoConnect(en bool) *Shell {
	s.AutoConnect = en
	return s
}

// Connect connects the node console.
func (s *Shell) Connect(address string, udp bool) error {
	network := "tcp"
	if udp {
		network = "udp"
	}
	cl, err := client.Dial(network, address)
	if err != nil {
		return err
	}
	s.Disconnect()
	s.Client = cl
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", address))
	return nil
}

// Disconnect disconnects the current node.
func (s *Shell) Disconnect() {
	if s.Client != nil {
		s.Client.Close()
		s.Client = nil
		s.Shell.SetPrompt(unconnectedPrompt)
	}
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoConnect && s.Config.Address != "" {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", s.Config.Address)
		}
		if err := s.Connect(s.Config.Address, s.Config.UDP); err != nil {
			log.Fatalf("connect %q failed: %v", s.Config.Address, err)
		}
	}

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

var (
	// ConnectCmd connects a node.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "HOST:PORT [udp]",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("HOST:PORT required"))
				return
			}
			udp := len(c.Args) > 1 && c.Args[1] == "udp"
			if err := ShellFrom(c).Connect(c.Args[0], udp); err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd disconnects the current node.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}

	// SendFileCmd transfers a file with flash-send.
	SendFileCmd = ishell.Cmd{
		Name: "send-file",
		Help: "FILE",
		Func: MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Err(fmt.Errorf("FILE required"))
				return
			}
			data, err := ioutil.ReadFile(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			resp, err := ShellFrom(c).Client.FlashSend(data)
			if err != nil {
				c.Err(err)
				return
			}
			c.Print(resp)
		}),
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New(config).WithAutoConnect(true).Run(flag.Args()...)
}
