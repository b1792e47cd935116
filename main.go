// ./main.go
package main

import (
	"github.com/xkilldash9x/constellation/cmd"
)

// main is the entry point for the constellation CLI.
func main() {
	cmd.Execute()
}
