// The main package for the spyglass-crawler executable.
package main

import (
	"github.com/spyglass-project/spyglass-crawler/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
