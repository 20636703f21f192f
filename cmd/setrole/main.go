// Package main manages operator accounts: it grants or revokes game master
// privilege and lists the accounts holding a role.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cory-johannsen/actioncards/internal/config"
	"github.com/cory-johannsen/actioncards/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	username := flag.String("username", "", "target account username")
	role := flag.String("role", "", "role to assign or list: player, gm, or admin (required)")
	password := flag.String("password", "", "create the account with this password when it does not exist")
	list := flag.Bool("list", false, "list the accounts holding -role instead of assigning it")
	flag.Parse()

	if *role == "" || (*username == "" && !*list) {
		flag.Usage()
		os.Exit(1)
	}
	if !postgres.ValidRole(*role) {
		log.Fatalf("invalid role %q: must be one of player, gm, admin", *role)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connecting to database: %v", err)
	}
	defer pool.Close()
	accounts := pool.Repositories().Accounts

	if *list {
		accts, err := accounts.ListByRole(ctx, *role)
		if err != nil {
			log.Fatalf("listing %s accounts: %v", *role, err)
		}
		for _, a := range accts {
			fmt.Fprintf(os.Stdout, "#%d\t%s\tsince %s\n", a.ID, a.Username, a.CreatedAt.Format(time.DateOnly))
		}
		fmt.Fprintf(os.Stdout, "%d %s account(s) [%s]\n", len(accts), *role, time.Since(start))
		return
	}

	acct, err := accounts.GetByUsername(ctx, *username)
	switch {
	case errors.Is(err, postgres.ErrAccountNotFound) && *password != "":
		acct, err = accounts.Create(ctx, *username, *password)
		if err != nil {
			log.Fatalf("creating account %q: %v", *username, err)
		}
		fmt.Fprintf(os.Stdout, "created account %s (#%d)\n", acct.Username, acct.ID)
	case err != nil:
		log.Fatalf("looking up account %q: %v", *username, err)
	}

	if err := accounts.SetRole(ctx, acct.ID, *role); err != nil {
		log.Fatalf("setting role: %v", err)
	}

	previous := acct.Role
	acct.Role = *role
	privilege := "standard"
	if acct.Operator("").Privileged() {
		privilege = "privileged"
	}
	fmt.Fprintf(os.Stdout, "set role for %s (#%d): %s -> %s, %s [%s]\n",
		acct.Username, acct.ID, previous, acct.Role, privilege, time.Since(start))
}
