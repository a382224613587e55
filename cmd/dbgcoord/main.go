package main

import (
	"os"

	"github.com/dbgcoord/dbgcoord/cmd/dbgcoord/cmds"
)

func main() {
	if err := cmds.New(false).Execute(); err != nil {
		os.Exit(1)
	}
}
