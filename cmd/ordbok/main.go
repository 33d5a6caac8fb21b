package main

import (
	"os"

	"github.com/layer-3/ordbok/core"
)

func main() {
	root := NewRootCommand(os.Stdout)
	if err := root.Execute(); err != nil {
		if core.IsConfigError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
