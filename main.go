// The main package for the signalscan executable.
package main

import (
	"github.com/JakeFAU/signal-scanner/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
