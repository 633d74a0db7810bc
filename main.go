package main

import (
	"log"

	"tokenvelocity/cmd/server"
)

func main() {
	if err := server.Run(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
