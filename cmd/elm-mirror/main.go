package main

import (
	"os"

	"github.com/bianoble/elm-mirror/cmd/elm-mirror/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
