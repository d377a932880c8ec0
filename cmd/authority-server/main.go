// Command authority-server serves the login, refresh and logout endpoints.
package main

import (
	"os"

	"github.com/MrEthical07/authority/cmd/authority-server/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
