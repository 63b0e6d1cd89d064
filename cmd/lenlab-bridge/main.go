package main

//go-build: CGO_ENABLED=0

import (
	"flag"
	"log"
	"time"

	"github.com/robotalks/lenlab.go/pkg/bridge/mqtt"
	"github.com/robotalks/lenlab.go/pkg/env"
	"github.com/robotalks/lenlab.go/pkg/framework"
	"github.com/robotalks/lenlab.go/pkg/l0/client"
)

var (
	captureEvery    time.Duration
	captureInterval uint
	captureLength   uint
	voltInterval    uint
	pollEvery       = mqtt.DefaultPollEvery
)

func init() {
	env.SetupFlags()
	flag.DurationVar(&captureEvery, "capture-every", captureEvery, "Capture period, 0 disables captures")
	flag.UintVar(&captureInterval, "capture-interval", mqtt.DefaultCaptureInterval, "Capture sample interval in 25ns")
	flag.UintVar(&captureLength, "capture-length", mqtt.DefaultCaptureLength, "Capture window length")
	flag.UintVar(&voltInterval, "volt-interval", voltInterval, "Logging interval in ms, 0 disables logging")
	flag.DurationVar(&pollEvery, "poll-every", pollEvery, "Logging poll period")
}

func main() {
	flag.Parse()

	conf := env.NewConfig()
	linkURL, err := conf.LinkURL()
	if err != nil {
		log.Fatalln(err)
	}
	conn := conf.MustDial()
	defer conn.Close()
	q := conf.MustNewQueue()
	defer q.Close()

	b := &mqtt.Bridge{
		Client:          client.New(conn),
		Queue:           q,
		DeviceID:        conf.Device(),
		Link:            linkURL,
		CaptureEvery:    captureEvery,
		CaptureInterval: uint16(captureInterval),
		CaptureLength:   uint16(captureLength),
		VoltInterval:    uint32(voltInterval),
		PollEvery:       pollEvery,
	}
	if err := framework.NewRunner().HandleSignals().Go(framework.NamedRun("bridge", framework.RunnableFunc(b.Run))).Wait(); err != nil {
		log.Fatalln(err)
	}
}
