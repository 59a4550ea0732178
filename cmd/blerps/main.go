package main

import (
	"fmt"
	"os"

	blerps "github.com/blerps/blerps/internal/rps-cli"
)

func main() {
	app := blerps.CLI()
	if err := app.Run(os.Args); err != nil {
		fmt.Printf("%+v\n", err)
		os.Exit(1)
	}
}
