// The main package for the zealywatch executable.
package main

import (
	"github.com/JakeFAU/zealywatch/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
