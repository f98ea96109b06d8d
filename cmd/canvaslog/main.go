// Package main is the canvaslog command.
package main

import (
	"context"
	"os"

	"github.com/roach88/canvaslog/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
