package main

import (
	"fmt"
	"os"

	"github.com/docker/model-zoo/cmd/zoo/commands"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := commands.NewRootCmd()
	rootCmd.SetOut(os.Stdout)
	return rootCmd.Execute()
}
