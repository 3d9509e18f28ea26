// The main package for the aether-crawler executable.
package main

import (
	"github.com/project-aether/crawler/cmd"
)

func main() {
	cmd.Execute()
}
