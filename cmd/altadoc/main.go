// Package main provides the entry point for the altadoc CLI.
package main

import (
	"os"

	"github.com/altadoc/altadoc/cmd/altadoc/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
