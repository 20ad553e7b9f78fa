package main

import (
	"os"

	"mapsync/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
