// Command ircd runs the IRC server.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sumrelay/ircd/internal/ircd"
)

func main() {
	log.SetFlags(0)

	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	args, err := ircd.GetArgs()
	if err != nil {
		return err
	}

	cfg, err := ircd.LoadConfig(args)
	if err != nil {
		return err
	}

	server := ircd.NewServer(cfg)
	if err := server.Start(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sig
		log.Printf("received %s, shutting down", s)
		server.Shutdown("server shutting down")
	}()

	server.Serve()
	return nil
}
