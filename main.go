// ./main.go
package main

import (
	"github.com/ShapezModder/enterprise-security-saas/cmd"
)

// main is the entry point for the fortress application.
func main() {
	// Execute the root command defined in the cmd package.
	// This handles all command-line parsing, configuration, and execution.
	cmd.Execute()
}
