package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"flag"
	"log"

	"github.com/golang/glog"

	"github.com/robotalks/lenlab.go/pkg/env"
	"github.com/robotalks/lenlab.go/pkg/framework"
	"github.com/robotalks/lenlab.go/pkg/fw/device"
	"github.com/robotalks/lenlab.go/pkg/hal/sim"
	"github.com/robotalks/lenlab.go/pkg/link"
)

var frequency = 1000.0

func init() {
	env.SetupFlags()
	flag.Float64Var(&frequency, "freq", frequency, "Frequency of the simulated input in Hz")
}

// serve runs one instrument per host connection, one host at a time as
// on a serial port.
func serve(ctx context.Context, ln link.Listener) error {
	defer ln.Close()
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		glog.Info("host connected")
		if err := runInstrument(ctx, conn); err != nil {
			glog.Infof("host disconnected: %v", err)
		}
		conn.Close()
	}
}

func runInstrument(ctx context.Context, conn link.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	loop := framework.NewLoop()
	board := sim.New(device.Sink(loop))
	board.Source = sim.SineSource(frequency)
	board.Serial().Attach(conn)
	runner := framework.NewRunnerWith(ctx).Go(device.New(loop, board.Hardware()))
	err := board.Run(ctx)
	cancel()
	runner.Wait()
	return err
}

func main() {
	flag.Parse()

	ln := env.NewConfig().MustListen()
	glog.Infof("virtual instrument on %s", ln.Addr())
	err := framework.NewRunner().HandleSignals().Go(framework.NamedRun("listener", framework.RunnableFunc(func(ctx context.Context) error {
		return serve(ctx, ln)
	}))).Wait()
	if err != nil {
		log.Fatalln(err)
	}
}
