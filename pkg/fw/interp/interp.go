// Package interp dispatches received commands to the engines.
package interp

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/robotalks/lenlab.go/pkg/fw/memory"
	"github.com/robotalks/lenlab.go/pkg/fw/osci"
	"github.com/robotalks/lenlab.go/pkg/fw/signal"
	"github.com/robotalks/lenlab.go/pkg/fw/volt"
	"github.com/robotalks/lenlab.go/pkg/l0/packet"
)

// Version is the firmware version. The major number doubles as the
// code of the version reply.
const Version = "8.2.1"

// ErrUnsupportedCommand is reported for frames no handler accepts.
// Such frames get no reply.
var ErrUnsupportedCommand = errors.New("unsupported command")

// Command tags not owned by an engine package.
var (
	TagKnock   = packet.TagOf("nock")
	TagVersion = packet.TagOf("ver?")
	TagRun     = packet.TagOf("run!")
	TagCh1     = packet.TagOf("ch1?")
	TagCh2     = packet.TagOf("ch2?")
)

// Command codes.
const (
	CodeKnock = 'k'
	CodeOsci  = 'o'
)

// Osci is the acquisition engine as seen by the interpreter.
type Osci interface {
	Acquire(code byte, interval, length uint16)
	Fetch(code byte, ch int) *packet.Packet
	Halt()
}

// Volt is the logging engine as seen by the interpreter.
type Volt interface {
	Start(interval uint32) *packet.Packet
	Next() *packet.Packet
	Stop() *packet.Packet
	Halt()
}

// Signal is the signal generator as seen by the interpreter.
type Signal interface {
	CreateWaveform(signal.Params) *packet.Packet
	Start(sampleRate uint16) *packet.Packet
	Stop() *packet.Packet
	Get() *packet.Packet
}

// Memory is the link test memory as seen by the interpreter.
type Memory interface {
	Init() *packet.Packet
	Get() *packet.Packet
}

type handlerFunc func(in *Interpreter, cmd *packet.Packet) *packet.Packet

type command struct {
	code byte
	tag  packet.Tag
}

type handler struct {
	lengths []uint16
	fn      handlerFunc
}

func (h handler) accepts(length uint16) bool {
	for _, l := range h.lengths {
		if l == length {
			return true
		}
	}
	return false
}

var handlers = map[command]handler{
	{CodeKnock, TagKnock}: {[]uint16{0}, knock},
	{Version[0], TagVersion}: {[]uint16{0}, version},

	{signal.Code, signal.TagSinus}: {[]uint16{8}, signalSinus},
	{signal.Code, signal.TagStart}: {[]uint16{0, 8}, signalStart},
	{signal.Code, signal.TagStop}:  {[]uint16{0}, signalStop},
	{signal.Code, signal.TagGet}:   {[]uint16{0}, signalGet},

	{CodeOsci, TagRun}: {[]uint16{0, 8}, osciRun},
	{CodeOsci, TagCh1}: {[]uint16{0}, osciFetch(0)},
	{CodeOsci, TagCh2}: {[]uint16{0}, osciFetch(1)},

	{volt.Code, volt.TagStart}: {[]uint16{0, 4}, voltStart},
	{volt.Code, volt.TagNext}:  {[]uint16{0}, voltNext},
	{volt.Code, volt.TagStop}:  {[]uint16{0}, voltStop},

	{memory.Code, memory.TagInit}: {[]uint16{0}, memoryInit},
	{memory.Code, memory.TagGet}:  {[]uint16{0}, memoryGet},
}

// Interpreter dispatches commands. Engines left nil make their commands
// unsupported.
type Interpreter struct {
	Osci   Osci
	Volt   Volt
	Signal Signal
	Memory Memory
}

// Dispatch runs the command and returns the immediate reply, if any. An
// unsupported command yields an error wrapping ErrUnsupportedCommand and
// must not be answered.
func (in *Interpreter) Dispatch(cmd *packet.Packet) (*packet.Packet, error) {
	h, ok := handlers[command{cmd.Code, cmd.Arg}]
	if !ok || !h.accepts(cmd.Length()) || !in.provides(cmd.Code) {
		return nil, fmt.Errorf("%w: %q %q length %d",
			ErrUnsupportedCommand, cmd.Code, cmd.Arg.String(), cmd.Length())
	}
	return h.fn(in, cmd), nil
}

func (in *Interpreter) provides(code byte) bool {
	switch code {
	case CodeOsci:
		return in.Osci != nil
	case volt.Code:
		return in.Volt != nil
	case signal.Code:
		return in.Signal != nil
	case memory.Code:
		return in.Memory != nil
	}
	return true
}

func knock(in *Interpreter, cmd *packet.Packet) *packet.Packet {
	return packet.New(CodeKnock, TagKnock)
}

// VersionReply encodes the minor version digits of v ("8.2.1" -> "2")
// as the reply argument.
func VersionReply(v string) *packet.Packet {
	var arg packet.Tag
	n := 0
	for i := 2; i < len(v) && v[i] != '.' && n < len(arg); i++ {
		arg[n] = v[i]
		n++
	}
	return packet.New(v[0], arg)
}

func version(in *Interpreter, cmd *packet.Packet) *packet.Packet {
	return VersionReply(Version)
}

func signalSinus(in *Interpreter, cmd *packet.Packet) *packet.Packet {
	return in.Signal.CreateWaveform(signal.ParseParams(cmd.Payload))
}

func signalStart(in *Interpreter, cmd *packet.Packet) *packet.Packet {
	var rate uint16
	if w := packet.Uint16s(cmd.Payload); len(w) > 0 {
		rate = w[0]
	}
	return in.Signal.Start(rate)
}

func signalStop(in *Interpreter, cmd *packet.Packet) *packet.Packet {
	return in.Signal.Stop()
}

func signalGet(in *Interpreter, cmd *packet.Packet) *packet.Packet {
	return in.Signal.Get()
}

func osciRun(in *Interpreter, cmd *packet.Packet) *packet.Packet {
	interval, length := uint16(osci.DefaultInterval), uint16(osci.DefaultLength)
	if w := packet.Uint16s(cmd.Payload); len(w) >= 2 {
		interval, length = w[0], w[1]
	}
	if in.Volt != nil {
		in.Volt.Halt()
	}
	in.Osci.Acquire(CodeOsci, interval, length)
	return packet.New(CodeOsci, TagRun)
}

func osciFetch(ch int) handlerFunc {
	return func(in *Interpreter, cmd *packet.Packet) *packet.Packet {
		return in.Osci.Fetch(CodeOsci, ch)
	}
}

func voltStart(in *Interpreter, cmd *packet.Packet) *packet.Packet {
	interval := uint32(volt.DefaultInterval)
	if len(cmd.Payload) == 4 {
		interval = binary.LittleEndian.Uint32(cmd.Payload)
	}
	if in.Osci != nil {
		in.Osci.Halt()
	}
	return in.Volt.Start(interval)
}

func voltNext(in *Interpreter, cmd *packet.Packet) *packet.Packet {
	return in.Volt.Next()
}

func voltStop(in *Interpreter, cmd *packet.Packet) *packet.Packet {
	return in.Volt.Stop()
}

func memoryInit(in *Interpreter, cmd *packet.Packet) *packet.Packet {
	return in.Memory.Init()
}

func memoryGet(in *Interpreter, cmd *packet.Packet) *packet.Packet {
	return in.Memory.Get()
}
