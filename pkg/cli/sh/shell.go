package sh

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strconv"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/lenlab.go/pkg/env"
	"github.com/robotalks/lenlab.go/pkg/l0/client"
	"github.com/robotalks/lenlab.go/pkg/link"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoConnect bool

	Shell  *ishell.Shell
	Config *env.Config
	Conn   *ClientConn
}

// ClientConn is a running client on an instrument link.
type ClientConn struct {
	Ctx    context.Context
	Cancel func()
	URL    string
	Link   link.Conn
	Client *client.Client
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

var (
	// flags

	evalOnly   bool
	outputJSON bool

	// commands
	commands = []*ishell.Cmd{
		&PortsCmd,
		&ConnectCmd,
		&DisconnectCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *env.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Conn == nil {
			c.Err(fmt.Errorf("not connected"))
			return
		}
		fn(c)
	}
}

// DoCommand runs fn against the connected instrument with the command
// timeout.
func DoCommand(c *ishell.Context, fn func(ctx context.Context, cl *client.Client) error) error {
	s := ShellFrom(c)
	if s.Conn == nil {
		err := fmt.Errorf("not connected")
		c.Err(err)
		return err
	}
	ctx, cancel := context.WithTimeout(s.Conn.Ctx, s.Config.Timeout)
	defer cancel()
	if err := fn(ctx, s.Conn.Client); err != nil {
		c.Err(err)
		return err
	}
	return nil
}

// Print prints v as JSON or with its default format.
func Print(c *ishell.Context, v interface{}) {
	if ShellFrom(c).OutputJSON {
		out, err := json.Marshal(v)
		if err != nil {
			c.Err(err)
			return
		}
		c.Println(string(out))
		return
	}
	c.Println(v)
}

// Uints parses args as unsigned integers of bitSize bits. Missing args
// take the value from defaults; names label the arguments in errors.
func Uints(args []string, bitSize int, names []string, defaults ...uint64) ([]uint64, error) {
	if len(args) > len(names) {
		return nil, fmt.Errorf("too many arguments, expect %d", len(names))
	}
	if len(args) < len(names)-len(defaults) {
		return nil, fmt.Errorf("%s required", names[len(args)])
	}
	vals := make([]uint64, len(names))
	for n := range names {
		if n >= len(args) {
			vals[n] = defaults[n-(len(names)-len(defaults))]
			continue
		}
		val, err := strconv.ParseUint(args[n], 0, bitSize)
		if err != nil {
			return nil, fmt.Errorf("Invalid %s: %v", names[n], err)
		}
		vals[n] = val
	}
	return vals, nil
}

// WithAutoConnect sets AutoConnect.
func (s *Shell) WithAutoConnect(en bool) *Shell {
	s.AutoConnect = en
	return s
}

// Connect connects the instrument at rawurl, or the configured link if
// rawurl is empty.
func (s *Shell) Connect(rawurl string) error {
	if rawurl == "" {
		u, err := s.Config.LinkURL()
		if err != nil {
			return err
		}
		rawurl = u
	}
	conn, err := link.Dial(rawurl)
	if err != nil {
		return err
	}
	cc := &ClientConn{URL: rawurl, Link: conn, Client: client.New(conn)}
	cc.Ctx, cc.Cancel = context.WithCancel(context.Background())
	s.Disconnect()
	s.Conn = cc
	go cc.Client.Run(cc.Ctx)

	ctx, cancel := context.WithTimeout(cc.Ctx, s.Config.Timeout)
	defer cancel()
	if err := cc.Client.Knock(ctx); err != nil {
		s.Disconnect()
		return fmt.Errorf("%s: %v", rawurl, err)
	}
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", rawurl))
	return nil
}

// Disconnect disconnects current instrument.
func (s *Shell) Disconnect() {
	if s.Conn != nil {
		s.Conn.Cancel()
		s.Conn.Link.Close()
		s.Conn = nil
		s.Shell.SetPrompt(unconnectedPrompt)
	}
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoConnect {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", s.Config.Link)
		}
		if err := s.Connect(""); err != nil {
			log.Fatalf("connect %q failed: %v", s.Config.Link, err)
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
	// PortsCmd lists serial ports.
	PortsCmd = ishell.Cmd{
		Name:    "ports",
		Aliases: []string{"list", "l"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ports, err := env.Ports()
			if err != nil {
				c.Err(err)
				return
			}
			if ShellFrom(c).OutputJSON {
				if ports == nil {
					ports = []string{}
				}
				Print(c, ports)
				return
			}
			if len(ports) == 0 {
				c.Println("No serial ports found")
				return
			}
			for _, port := range ports {
				c.Println(port)
			}
		},
	}

	// ConnectCmd connects an instrument.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "[URL]",
		Func: func(c *ishell.Context) {
			var rawurl string
			if len(c.Args) > 0 {
				rawurl = c.Args[0]
			}
			if err := ShellFrom(c).Connect(rawurl); err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd disconnects current instrument.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	env.SetupFlags()
	flag.Parse()
	New(env.NewConfig()).WithAutoConnect(true).Run(flag.Args()...)
}
