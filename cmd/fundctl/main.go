// Command fundctl is the operator tool for the funding engine: it checks tier
// tables, previews revenue splits and mints development tokens.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
