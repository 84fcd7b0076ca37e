// Command tokengen mints an access token for an actor, signed with the
// server's configured secret key and validity duration.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dmitrijs2005/changesetd/internal/flagx"
	"github.com/dmitrijs2005/changesetd/internal/server/auth"
	"github.com/dmitrijs2005/changesetd/internal/server/config"
)

func main() {

	cfg := config.LoadConfig()

	fs := flag.NewFlagSet("tokengen", flag.ExitOnError)
	user := fs.String("u", "", "actor id")
	roles := fs.String("R", "", "comma separated roles")
	if err := fs.Parse(flagx.FilterArgs(os.Args[1:], []string{"-u", "-R"})); err != nil {
		log.Fatalf("%v", err)
	}

	if *user == "" {
		log.Fatal("actor id is required (-u)")
	}

	var rs []string
	for _, r := range strings.Split(*roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			rs = append(rs, r)
		}
	}

	tok, err := auth.GenerateToken(*user, rs, []byte(cfg.SecretKey), cfg.AccessTokenValidityDuration)
	if err != nil {
		log.Fatalf("%v", err)
	}
	fmt.Println(tok)
}
