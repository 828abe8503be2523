// Command ydbsql classifies and rewrites query text offline and prints the
// connection properties the driver accepts.
package main

import (
	"os"
)

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		printError(os.Stderr, err.Error())
		os.Exit(1)
	}
}
