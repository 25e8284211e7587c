package main

import (
	"log"

	"agent-triggers/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
