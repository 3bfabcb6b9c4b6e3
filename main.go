package main

import (
	"fmt"
	"os"

	"github.com/husmancristian/TA_CONSOLE/pkg/cli"
)

func main() {
	if err := cli.New().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cli.AppName, err)
		os.Exit(1)
	}
}
