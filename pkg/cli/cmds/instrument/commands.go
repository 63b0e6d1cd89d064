// Package instrument exposes the instrument commands in the shell.
package instrument

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/lenlab.go/pkg/cli/sh"
	"github.com/robotalks/lenlab.go/pkg/fw/osci"
	"github.com/robotalks/lenlab.go/pkg/fw/volt"
	"github.com/robotalks/lenlab.go/pkg/l0/client"
	"github.com/robotalks/lenlab.go/pkg/model"
)

// Keys of the shell values.
const (
	captureKey = "osci.capture"
	lengthKey  = "osci.length"
	pointsKey  = "volt.points"
)

// Capture is the summary of a capture.
type Capture struct {
	Interval time.Duration `json:"interval"`
	Offset   uint16        `json:"offset"`
	Length   int           `json:"length"`
	Min      [2]float64    `json:"min"`
	Max      [2]float64    `json:"max"`
}

// Summarize describes a window of length samples of w.
func Summarize(w *model.Waveform, length int) Capture {
	c := Capture{Interval: w.TimeStep(), Offset: w.Offset, Length: length}
	for ch := range w.Channels {
		samples := w.Window(ch, length)
		if len(samples) == 0 {
			continue
		}
		lo, hi := samples[0], samples[0]
		for _, s := range samples {
			if s < lo {
				lo = s
			}
			if s > hi {
				hi = s
			}
		}
		c.Min[ch], c.Max[ch] = model.Volts(lo), model.Volts(hi)
	}
	return c
}

func (c Capture) String() string {
	return fmt.Sprintf("%d samples every %v, ch1 %.3f..%.3f V, ch2 %.3f..%.3f V",
		c.Length, c.Interval, c.Min[0], c.Max[0], c.Min[1], c.Max[1])
}

func printOK(c *ishell.Context) {
	if sh.ShellFrom(c).OutputJSON {
		sh.Print(c, map[string]bool{"ok": true})
		return
	}
	c.Println("OK")
}

func create(name string) (*os.File, error) {
	if name == "" {
		return nil, fmt.Errorf("FILE required")
	}
	return os.Create(name)
}

func points(c *ishell.Context) []model.Point {
	if v, ok := c.Get(pointsKey).([]model.Point); ok {
		return v
	}
	return nil
}

var (
	// KnockCmd checks the instrument answers.
	KnockCmd = ishell.Cmd{
		Name:    "knock",
		Aliases: []string{"k"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if sh.DoCommand(c, func(ctx context.Context, cl *client.Client) error {
				return cl.Knock(ctx)
			}) == nil {
				printOK(c)
			}
		}),
	}

	// VersionCmd queries the firmware version.
	VersionCmd = ishell.Cmd{
		Name:    "version",
		Aliases: []string{"ver"},
		Help:    "[MAJOR]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			major := byte('8')
			if len(c.Args) > 0 && len(c.Args[0]) == 1 {
				major = c.Args[0][0]
			}
			sh.DoCommand(c, func(ctx context.Context, cl *client.Client) error {
				v, err := cl.Version(ctx, major)
				if err == nil {
					sh.Print(c, v)
				}
				return err
			})
		}),
	}

	// OsciCmd captures both channels.
	OsciCmd = ishell.Cmd{
		Name:    "osci",
		Aliases: []string{"o"},
		Help:    "[INTERVAL(25ns)] [LENGTH]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			vals, err := sh.Uints(c.Args, 16, []string{"INTERVAL", "LENGTH"},
				osci.DefaultInterval, osci.DefaultLength)
			if err != nil {
				c.Err(err)
				return
			}
			interval, length := uint16(vals[0]), uint16(vals[1])
			sh.DoCommand(c, func(ctx context.Context, cl *client.Client) error {
				pkt, err := cl.Capture(ctx, interval, length)
				if err != nil {
					return err
				}
				w, err := model.ParseWaveform(pkt)
				if err != nil {
					return err
				}
				c.Set(captureKey, w)
				c.Set(lengthKey, int(length))
				sh.Print(c, Summarize(w, int(length)))
				return nil
			})
		}),
	}

	// OsciChannelCmd fetches a single channel of the last capture.
	OsciChannelCmd = ishell.Cmd{
		Name:    "osci.ch",
		Aliases: []string{"och"},
		Help:    "CHANNEL(1|2)",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			vals, err := sh.Uints(c.Args, 8, []string{"CHANNEL"})
			if err != nil {
				c.Err(err)
				return
			}
			if vals[0] != 1 && vals[0] != 2 {
				c.Err(fmt.Errorf("Invalid CHANNEL: %d", vals[0]))
				return
			}
			sh.DoCommand(c, func(ctx context.Context, cl *client.Client) error {
				pkt, err := cl.Channel(ctx, int(vals[0]-1))
				if err != nil {
					return err
				}
				if len(pkt.Payload) == 0 {
					return fmt.Errorf("nothing captured")
				}
				w, err := model.ParseWaveform(pkt)
				if err != nil {
					return err
				}
				sh.Print(c, Summarize(w, len(w.Channels[0])-int(w.Offset)))
				return nil
			})
		}),
	}

	// OsciSaveCmd saves the last capture as CSV.
	OsciSaveCmd = ishell.Cmd{
		Name:    "osci.save",
		Aliases: []string{"os"},
		Help:    "FILE",
		Func: func(c *ishell.Context) {
			w, ok := c.Get(captureKey).(*model.Waveform)
			if !ok {
				c.Err(fmt.Errorf("nothing captured"))
				return
			}
			var name string
			if len(c.Args) > 0 {
				name = c.Args[0]
			}
			f, err := create(name)
			if err != nil {
				c.Err(err)
				return
			}
			defer f.Close()
			if err := w.WriteCSV(f, "lenlab oscilloscope", c.Get(lengthKey).(int)); err != nil {
				c.Err(err)
			}
		},
	}

	// VoltStartCmd starts logging.
	VoltStartCmd = ishell.Cmd{
		Name:    "volt.start",
		Aliases: []string{"vs"},
		Help:    "[INTERVAL(ms)]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			vals, err := sh.Uints(c.Args, 32, []string{"INTERVAL"}, volt.DefaultInterval)
			if err != nil {
				c.Err(err)
				return
			}
			if sh.DoCommand(c, func(ctx context.Context, cl *client.Client) error {
				return cl.VoltStart(ctx, uint32(vals[0]))
			}) == nil {
				c.Set(pointsKey, []model.Point(nil))
				printOK(c)
			}
		}),
	}

	// VoltNextCmd fetches the points logged since the last call.
	VoltNextCmd = ishell.Cmd{
		Name:    "volt.next",
		Aliases: []string{"vn"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			sh.DoCommand(c, func(ctx context.Context, cl *client.Client) error {
				pkt, err := cl.VoltNext(ctx)
				if err != nil {
					return err
				}
				batch := model.ParsePoints(pkt, 0)
				c.Set(pointsKey, append(points(c), batch...))
				if sh.ShellFrom(c).OutputJSON {
					sh.Print(c, batch)
					return nil
				}
				for _, p := range batch {
					c.Printf("%v %.3f V %.3f V\n", p.Time, p.Ch1, p.Ch2)
				}
				return nil
			})
		}),
	}

	// VoltStopCmd stops logging.
	VoltStopCmd = ishell.Cmd{
		Name:    "volt.stop",
		Aliases: []string{"vx"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if sh.DoCommand(c, func(ctx context.Context, cl *client.Client) error {
				return cl.VoltStop(ctx)
			}) == nil {
				printOK(c)
			}
		}),
	}

	// VoltSaveCmd saves the logged points as CSV.
	VoltSaveCmd = ishell.Cmd{
		Name:    "volt.save",
		Aliases: []string{"vsave"},
		Help:    "FILE",
		Func: func(c *ishell.Context) {
			var name string
			if len(c.Args) > 0 {
				name = c.Args[0]
			}
			f, err := create(name)
			if err != nil {
				c.Err(err)
				return
			}
			defer f.Close()
			if err := model.WritePointsCSV(f, "lenlab voltmeter", points(c)); err != nil {
				c.Err(err)
			}
		},
	}

	// SinusCmd creates a sine waveform.
	SinusCmd = ishell.Cmd{
		Name:    "signal.sinus",
		Aliases: []string{"ss"},
		Help:    "LENGTH AMPLITUDE [MULTIPLIER] [HARMONIC_AMPLITUDE]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			vals, err := sh.Uints(c.Args, 16,
				[]string{"LENGTH", "AMPLITUDE", "MULTIPLIER", "HARMONIC_AMPLITUDE"}, 0, 0)
			if err != nil {
				c.Err(err)
				return
			}
			if sh.DoCommand(c, func(ctx context.Context, cl *client.Client) error {
				return cl.Sinus(ctx, uint16(vals[0]), uint16(vals[1]), uint16(vals[2]), uint16(vals[3]))
			}) == nil {
				printOK(c)
			}
		}),
	}

	// SignalStartCmd starts the output.
	SignalStartCmd = ishell.Cmd{
		Name:    "signal.start",
		Aliases: []string{"sg"},
		Help:    "SAMPLE_RATE",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			vals, err := sh.Uints(c.Args, 16, []string{"SAMPLE_RATE"})
			if err != nil {
				c.Err(err)
				return
			}
			if sh.DoCommand(c, func(ctx context.Context, cl *client.Client) error {
				return cl.SignalStart(ctx, uint16(vals[0]))
			}) == nil {
				printOK(c)
			}
		}),
	}

	// SignalStopCmd stops the output.
	SignalStopCmd = ishell.Cmd{
		Name:    "signal.stop",
		Aliases: []string{"sx"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if sh.DoCommand(c, func(ctx context.Context, cl *client.Client) error {
				return cl.SignalStop(ctx)
			}) == nil {
				printOK(c)
			}
		}),
	}

	// SignalGetCmd prints the waveform samples.
	SignalGetCmd = ishell.Cmd{
		Name:    "signal.get",
		Aliases: []string{"sw"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			sh.DoCommand(c, func(ctx context.Context, cl *client.Client) error {
				pkt, err := cl.Waveform(ctx)
				if err != nil {
					return err
				}
				samples := model.Samples(pkt)
				if sh.ShellFrom(c).OutputJSON {
					sh.Print(c, samples)
					return nil
				}
				c.Printf("%d samples\n", len(samples))
				for n, s := range samples {
					c.Printf("%d: %d\n", n, s)
				}
				return nil
			})
		}),
	}

	// MemoryCmd fetches and verifies the link test frame.
	MemoryCmd = ishell.Cmd{
		Name:    "memory",
		Aliases: []string{"m"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if sh.DoCommand(c, func(ctx context.Context, cl *client.Client) error {
				pkt, err := cl.Memory(ctx)
				if err != nil {
					return err
				}
				return model.CheckMemory(pkt)
			}) == nil {
				printOK(c)
			}
		}),
	}
)

func init() {
	sh.AddCmds(
		&KnockCmd,
		&VersionCmd,
		&OsciCmd,
		&OsciChannelCmd,
		&OsciSaveCmd,
		&VoltStartCmd,
		&VoltNextCmd,
		&VoltStopCmd,
		&VoltSaveCmd,
		&SinusCmd,
		&SignalStartCmd,
		&SignalStopCmd,
		&SignalGetCmd,
		&MemoryCmd,
	)
}
