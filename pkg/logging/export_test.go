package logging

import (
	"log"
	"os"
)

func resetStdLogger() {
	log.SetOutput(os.Stderr)
	log.SetFlags(log.LstdFlags)
}
