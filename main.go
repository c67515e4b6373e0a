// The main package for the cafe-etl executable.
package main

import (
	"github.com/JakeFAU/cafe-etl/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
