package main

import (
	"os"

	"github.com/Swind/go-task-queue/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
