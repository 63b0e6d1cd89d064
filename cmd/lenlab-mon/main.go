package main

import (
	"bytes"
	"flag"
	"log"
	"strings"

	"github.com/golang/protobuf/proto"
	structpb "github.com/golang/protobuf/ptypes/struct"

	"github.com/robotalks/lenlab.go/pkg/bridge/mqtt"
	"github.com/robotalks/lenlab.go/pkg/env"
	"github.com/robotalks/lenlab.go/pkg/l0/packet"
)

func init() {
	env.SetupFlags()
}

func lastElem(topic string) string {
	if n := strings.LastIndex(topic, "/"); n >= 0 {
		return topic[n+1:]
	}
	return topic
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	q := env.NewConfig().MustNewQueue()
	q.Sub("#", mqtt.Handler(func(topic string, payload []byte) {
		switch lastElem(topic) {
		case mqtt.TopicMeta:
			log.Printf("%s: %s", topic, string(payload))
		case mqtt.TopicOsci, mqtt.TopicVolt:
			var msg structpb.Struct
			if err := proto.Unmarshal(payload, &msg); err != nil {
				log.Printf("%s: bad message: %v", topic, err)
				return
			}
			log.Printf("%s: %s, %d samples", topic,
				msg.Fields["timestamp"].GetStringValue()+msg.Fields["start"].GetStringValue(),
				len(msg.Fields["ch1"].GetListValue().GetValues()))
		case mqtt.TopicCmd, mqtt.TopicReply, mqtt.TopicEvent:
			pkt, err := packet.ReadFrom(bytes.NewReader(payload))
			if err != nil {
				log.Printf("%s: bad frame: %v", topic, err)
				return
			}
			log.Printf("%s: %q %q (%d bytes)", topic, pkt.Code, pkt.Arg.String(), len(pkt.Payload))
		default:
			log.Printf("%s: %d bytes", topic, len(payload))
		}
	}))
	<-(chan struct{})(nil)
}
