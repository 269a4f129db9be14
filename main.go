package main

import (
	"fmt"
	"os"

	"github.com/jbsparrow/cyberdrop-dl/cmd"
)

var (
	version string
	commit  string
	date    string
)

func main() {
	err := cmd.Execute(os.Args, cmd.BuildArgs{
		Version: version,
		Commit:  commit,
		Date:    date,
	})
	if err != nil {
		fmt.Printf("cyberdrop-dl: %s\n", err.Error())
		os.Exit(1)
	}
}
