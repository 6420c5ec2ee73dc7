// @title meetscribe API
// @version 1.0
// @description Live meeting transcription: sessions, meetings, transcripts and summaries
// @host localhost:8080
// @BasePath /api
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "meetscribe-server failed: %v\n", err)
		os.Exit(1)
	}
}
