package main

import (
	"github.com/ahmednasser93/stockly-backend-sub002/internal/cli"
)

func main() {
	cli.Execute()
}
