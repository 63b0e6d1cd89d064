package env

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
	"go.bug.st/serial/enumerator"

	"github.com/robotalks/lenlab.go/pkg/l0/client"
	"github.com/robotalks/lenlab.go/pkg/link"
)

// USB identifiers of the LaunchPad.
const (
	LaunchpadVID = "0451"
	LaunchpadPID = "BEF3"
)

// KnockTimeout bounds the knock sent to each candidate port.
var KnockTimeout = 300 * time.Millisecond

var (
	// DetailedPorts lists serial ports with their USB identifiers.
	DetailedPorts = enumerator.GetDetailedPortsList
	// Knock checks whether the instrument answers at rawurl.
	Knock = knockURL
)

// Candidates returns the serial ports carrying the LaunchPad VID and PID.
func Candidates() ([]string, error) {
	ports, err := DetailedPorts()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, p := range ports {
		if p.IsUSB && strings.EqualFold(p.VID, LaunchpadVID) && strings.EqualFold(p.PID, LaunchpadPID) {
			names = append(names, p.Name)
		}
	}
	return names, nil
}

// Detect returns the link URL of the first candidate port that answers
// a knock.
func Detect() (string, error) {
	names, err := Candidates()
	if err != nil {
		return "", fmt.Errorf("list serial ports: %v", err)
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no launchpad found")
	}
	for _, name := range names {
		rawurl := "serial://" + name
		err := Knock(rawurl)
		if err == nil {
			return rawurl, nil
		}
		glog.V(2).Infof("detect: %s: %v", rawurl, err)
	}
	return "", fmt.Errorf("no lenlab firmware answered on %s", strings.Join(names, ", "))
}

func knockURL(rawurl string) error {
	conn, err := link.Dial(rawurl)
	if err != nil {
		return err
	}
	defer conn.Close()
	ctx, cancel := context.WithTimeout(context.Background(), KnockTimeout)
	defer cancel()
	c := client.New(conn)
	go c.Run(ctx)
	return c.Knock(ctx)
}
