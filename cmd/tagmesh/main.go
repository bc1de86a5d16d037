package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"golang.org/x/term"

	"github.com/tagmesh/tagmesh/internal/app"
	"github.com/tagmesh/tagmesh/internal/config"
	"github.com/tagmesh/tagmesh/internal/flagx"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	a, err := app.NewApp(ctx, cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	if unlockRequested() {
		if err := unlock(a); err != nil {
			log.Printf("unlock failed: %v", err)
			return
		}
	}

	a.Run(ctx)

}

func unlockRequested() bool {
	var unlock bool
	args := flagx.FilterArgs(os.Args[1:], []string{"-u", "-unlock"})
	fs := flag.NewFlagSet("unlock", flag.ContinueOnError)
	fs.BoolVar(&unlock, "unlock", false, "Prompt for the keystore passphrase at startup")
	fs.BoolVar(&unlock, "u", false, "Prompt for the keystore passphrase at startup (short)")
	_ = fs.Parse(args)
	return unlock
}

func unlock(a *app.App) error {
	fmt.Println("Enter keystore passphrase")
	passphrase, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return err
	}
	return a.Unlock(string(passphrase))
}
