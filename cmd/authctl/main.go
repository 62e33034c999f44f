package main

import (
	"os"

	"github.com/iliyamo/marketplace-auth/internal/command"
)

func main() {
	rootCmd := command.NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
