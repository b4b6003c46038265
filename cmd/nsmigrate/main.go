package main

import (
	"os"

	"nsmigrate/internal/ui/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
