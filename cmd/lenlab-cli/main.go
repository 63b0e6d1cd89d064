package main

import (
	"github.com/robotalks/lenlab.go/pkg/cli/sh"

	_ "github.com/robotalks/lenlab.go/pkg/cli/cmds/all"
)

//go-build: CGO_ENABLED=0

func main() {
	sh.Main()
}
