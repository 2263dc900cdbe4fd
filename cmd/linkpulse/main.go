package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"linkpulse/internal"
)

func main() {
	app, err := internal.NewApp()
	if err != nil {
		log.Fatalf("failed to build application: %v", err)
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		if err := app.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	if err := app.Start(); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
