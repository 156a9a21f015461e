package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/bulkforce/internal/bulkforce"
	"github.com/JonMunkholm/bulkforce/internal/cli"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// A missing .env is fine; real environment variables win.
	_ = godotenv.Load()

	if err := cli.NewRootCmd(version).ExecuteContext(context.Background()); err != nil {
		if bulkforce.IsUserFacing(err) {
			fmt.Fprintln(os.Stderr, "Error:", bulkforce.FormatUserError(err))
			fmt.Fprintln(os.Stderr, "Detail:", err)
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
