package main

import (
	"os"

	"focuslist/cmd/focuslist/cmd"
)

func main() {
	os.Exit(cmd.Execute(os.Args[1:], os.Stdout, os.Stderr, nil))
}
