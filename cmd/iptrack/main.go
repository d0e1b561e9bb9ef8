package main

import (
	"iptrack/internal/app"

	"github.com/charmbracelet/log"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal("iptrack terminated", "error", err)
	}
}
