package main

import (
	"os"

	"github.com/dmitrijs2005/vaultcore/internal/vaultctl"
)

func main() {
	os.Exit(vaultctl.NewApp(os.Stdin, os.Stdout, os.Stderr).Run(os.Args[1:]))
}
