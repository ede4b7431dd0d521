package main

import (
	"github.com/sidkik/packsync/cmd"
	"github.com/sidkik/packsync/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
