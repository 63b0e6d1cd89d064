// Package all registers all shell commands.
package all

import (
	_ "github.com/robotalks/lenlab.go/pkg/cli/cmds/instrument"
)
