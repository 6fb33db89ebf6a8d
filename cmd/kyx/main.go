package main

import (
	"os"

	"github.com/JugPanda/HackKentucky-KYX-sub000/cmd/kyx/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
