// Command splashctl inspects and administers documents in a splash database.
package main

import (
	"os"

	"github.com/als-computing/splash-server/pkg/logger"
)

func main() {
	logger.Init(os.Getenv("LOG_LEVEL"))
	e := defaultEnv()
	if err := e.execute(newRootCmd(e)); err != nil {
		os.Exit(1)
	}
}
