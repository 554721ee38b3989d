package main

import (
	"context"
	"os"

	"github.com/vitwit/batchpay/cmd/batchpay/cmd"
)

func main() {
	if err := cmd.RootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
