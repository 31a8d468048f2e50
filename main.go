// The main package for the webaudit executable.
package main

import (
	"github.com/JakeFAU/webaudit/cmd"
)

func main() {
	cmd.Execute()
}
