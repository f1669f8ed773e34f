// Command vtctl is the operator tool for a vitaltags deployment: key
// generation, migrations, owner access tokens, housekeeping and
// revocation from the command line.
package main

import (
	"context"
	"log"
	"os"
)

func main() {
	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}

	if err := newRootCommand(os.Stdout).Run(context.Background(), args); err != nil {
		log.Fatal(err)
	}
}
