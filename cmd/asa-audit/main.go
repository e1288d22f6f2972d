// Command asa-audit ships ScaleFT / Advanced Server Access audit events to a
// structured log stream. It runs once per invocation, either from a shell or
// as an AWS Lambda handler.
package main

import (
	"fmt"
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "asa-audit: %v\n", err)
		os.Exit(1)
	}
}
