package main

import (
	"os"

	"chtbtr/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
