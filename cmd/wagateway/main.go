package main

import (
	"os"

	"github.com/talkincode/wagateway/cmd/wagateway/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
