package main

import (
	"os"

	"github.com/microshop/orders/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
