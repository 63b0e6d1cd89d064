package mqtt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/golang/protobuf/jsonpb"
	"github.com/golang/protobuf/proto"
	"github.com/golang/protobuf/ptypes"
	structpb "github.com/golang/protobuf/ptypes/struct"
	"golang.org/x/sync/errgroup"

	"github.com/robotalks/lenlab.go/pkg/l0/client"
	"github.com/robotalks/lenlab.go/pkg/l0/packet"
	"github.com/robotalks/lenlab.go/pkg/model"
)

// Topics below <prefix><device>/.
const (
	TopicMeta  = "meta"
	TopicOsci  = "osci"
	TopicVolt  = "volt"
	TopicEvent = "event"
	TopicCmd   = "cmd"
	TopicReply = "reply"
)

// Defaults of the bridge.
const (
	DefaultCaptureInterval = 40
	DefaultCaptureLength   = 6000
	DefaultPollEvery       = time.Second
	CommandTimeout         = 2 * time.Second
)

// ErrADCsShared is returned when both periodic captures and logging are
// requested. Starting either halts the other on the instrument.
var ErrADCsShared = errors.New("captures and logging share the ADCs")

// Meta describes the bridged instrument.
type Meta struct {
	Device  string
	Version string
	Link    string
}

// Bridge publishes an instrument's measurements to MQTT and forwards
// raw frames published on the cmd topic to it.
type Bridge struct {
	Client   *client.Client
	Queue    *Queue
	DeviceID string
	Link     string

	// CaptureEvery starts a capture periodically when non-zero.
	CaptureEvery    time.Duration
	CaptureInterval uint16
	CaptureLength   uint16

	// VoltInterval starts logging when non-zero; batches are polled
	// every PollEvery.
	VoltInterval uint32
	PollEvery    time.Duration

	cmdCh chan *packet.Packet
}

// Topic returns the device relative topic.
func (b *Bridge) Topic(name string) string {
	return b.DeviceID + "/" + name
}

// Run runs the bridge until ctx is done or the instrument is lost.
func (b *Bridge) Run(ctx context.Context) error {
	if b.CaptureInterval == 0 {
		b.CaptureInterval = DefaultCaptureInterval
	}
	if b.CaptureLength == 0 {
		b.CaptureLength = DefaultCaptureLength
	}
	if b.PollEvery == 0 {
		b.PollEvery = DefaultPollEvery
	}
	if b.CaptureEvery > 0 && b.VoltInterval > 0 {
		return ErrADCsShared
	}
	b.cmdCh = make(chan *packet.Packet, 8)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Client.Run(ctx) })
	g.Go(func() error {
		version, err := b.Client.Version(ctx, '8')
		if err != nil {
			return fmt.Errorf("instrument: %w", err)
		}
		glog.Infof("instrument %s version %s", b.DeviceID, version)
		if err := b.publishMeta(Meta{Device: b.DeviceID, Version: version, Link: b.Link}); err != nil {
			return err
		}

		sub := b.Queue.Sub(b.Topic(TopicCmd), b.onCommand)
		defer sub.Close()

		jobs, ctx := errgroup.WithContext(ctx)
		jobs.Go(func() error { return b.events(ctx) })
		jobs.Go(func() error { return b.commands(ctx) })
		if b.CaptureEvery > 0 {
			jobs.Go(func() error { return b.captures(ctx) })
		}
		if b.VoltInterval > 0 {
			jobs.Go(func() error { return b.logging(ctx) })
		}
		return jobs.Wait()
	})
	return g.Wait()
}

func (b *Bridge) onCommand(topic string, payload []byte) {
	pkt, err := packet.ReadFrom(bytes.NewReader(payload))
	if err != nil {
		glog.Warningf("%s: %v", topic, err)
		return
	}
	select {
	case b.cmdCh <- pkt:
	default:
		glog.Warningf("%s: command dropped", topic)
	}
}

func (b *Bridge) commands(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pkt := <-b.cmdCh:
			cmdCtx, cancel := context.WithTimeout(ctx, CommandTimeout)
			reply, err := b.Client.Call(cmdCtx, pkt)
			cancel()
			if err != nil {
				glog.Warningf("command %q %q: %v", pkt.Code, pkt.Arg.String(), err)
				continue
			}
			if err := wait(b.Queue.Pub(b.Topic(TopicReply), reply.Bytes())); err != nil {
				return err
			}
		}
	}
}

// events publishes captures and forwards other unsolicited frames.
func (b *Bridge) events(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pkt := <-b.Client.EventChan():
			if pkt.Code == 'o' && len(pkt.Payload) > 0 {
				if err := b.publishCapture(pkt); err != nil {
					return err
				}
				continue
			}
			if err := wait(b.Queue.Pub(b.Topic(TopicEvent), pkt.Bytes())); err != nil {
				return err
			}
		}
	}
}

func (b *Bridge) captures(ctx context.Context) error {
	ticker := time.NewTicker(b.CaptureEvery)
	defer ticker.Stop()
	for {
		if err := b.Client.Acquire(ctx, b.CaptureInterval, b.CaptureLength); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *Bridge) logging(ctx context.Context) error {
	if err := b.Client.VoltStart(ctx, b.VoltInterval); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), CommandTimeout)
		defer cancel()
		b.Client.VoltStop(stopCtx)
	}()

	ticker := time.NewTicker(b.PollEvery)
	defer ticker.Stop()
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		pkt, err := b.Client.VoltNext(ctx)
		if err != nil {
			return err
		}
		points := model.ParsePoints(pkt, 0)
		if len(points) == 0 {
			continue
		}
		msg, err := PointsPayload(points, start)
		if err != nil {
			return err
		}
		if err := b.publish(TopicVolt, msg); err != nil {
			return err
		}
	}
}

func (b *Bridge) publishCapture(pkt *packet.Packet) error {
	w, err := model.ParseWaveform(pkt)
	if err != nil {
		glog.Warningf("capture: %v", err)
		return nil
	}
	msg, err := CapturePayload(w, int(b.CaptureLength), time.Now())
	if err != nil {
		return err
	}
	return b.publish(TopicOsci, msg)
}

func (b *Bridge) publish(topic string, msg proto.Message) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return err
	}
	return wait(b.Queue.Pub(b.Topic(topic), data))
}

func (b *Bridge) publishMeta(meta Meta) error {
	data, err := MetaPayload(meta)
	if err != nil {
		return err
	}
	return wait(b.Queue.PubWith(b.Topic(TopicMeta), data, 1, true))
}

type token interface {
	Wait() bool
	Error() error
}

func wait(t token) error {
	t.Wait()
	return t.Error()
}

func numberValue(v float64) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_NumberValue{NumberValue: v}}
}

func stringValue(s string) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: s}}
}

func listValue(values []*structpb.Value) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_ListValue{ListValue: &structpb.ListValue{Values: values}}}
}

func timestampValue(at time.Time) (*structpb.Value, error) {
	ts, err := ptypes.TimestampProto(at)
	if err != nil {
		return nil, err
	}
	return stringValue(ptypes.TimestampString(ts)), nil
}

// CapturePayload encodes a window of length samples in volts.
func CapturePayload(w *model.Waveform, length int, at time.Time) (*structpb.Struct, error) {
	ts, err := timestampValue(at)
	if err != nil {
		return nil, err
	}
	msg := &structpb.Struct{Fields: map[string]*structpb.Value{
		"timestamp": ts,
		"time_step": numberValue(w.TimeStep().Seconds()),
		"start":     numberValue(w.Time(0, length).Seconds()),
	}}
	for ch, name := range []string{"ch1", "ch2"} {
		samples := w.Window(ch, length)
		values := make([]*structpb.Value, len(samples))
		for n, code := range samples {
			values[n] = numberValue(model.Volts(code) - model.ReferenceV/2)
		}
		msg.Fields[name] = listValue(values)
	}
	return msg, nil
}

// PointsPayload encodes a voltmeter batch. Point times are seconds
// since start.
func PointsPayload(points []model.Point, start time.Time) (*structpb.Struct, error) {
	ts, err := timestampValue(start)
	if err != nil {
		return nil, err
	}
	var times, ch1, ch2 []*structpb.Value
	for _, p := range points {
		times = append(times, numberValue(p.Time.Seconds()))
		ch1 = append(ch1, numberValue(p.Ch1))
		ch2 = append(ch2, numberValue(p.Ch2))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"start": ts,
		"time":  listValue(times),
		"ch1":   listValue(ch1),
		"ch2":   listValue(ch2),
	}}, nil
}

// MetaPayload encodes meta as JSON.
func MetaPayload(meta Meta) ([]byte, error) {
	msg := &structpb.Struct{Fields: map[string]*structpb.Value{
		"device":  stringValue(meta.Device),
		"version": stringValue(meta.Version),
		"link":    stringValue(meta.Link),
	}}
	var buf bytes.Buffer
	if err := (&jsonpb.Marshaler{}).Marshal(&buf, msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
