// The main package for the loopy executable.
package main

import (
	"github.com/JakeFAU/loopy/cmd"
)

func main() {
	cmd.Execute()
}
