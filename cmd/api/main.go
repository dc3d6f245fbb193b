package main

import (
	"go.uber.org/fx"

	"github.com/microshop/orders/internal/app"
)

func main() {
	fx.New(app.Module).Run()
}
