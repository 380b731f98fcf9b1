package main

import (
	"github.com/alpineclim/climsync/internal/cmd"
)

// Populated via -ldflags at release build time.
var (
	version string
	commit  string
	date    string
)

func main() {
	cmd.SetVersion(version, commit, date)
	cmd.Execute()
}
