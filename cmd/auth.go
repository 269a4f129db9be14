package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli"

	"github.com/jbsparrow/cyberdrop-dl/internal/auth"
	"github.com/jbsparrow/cyberdrop-dl/internal/config"
)

var (
	authSite     string
	authUser     string
	authPassword string
	authToken    string
	authDelete   bool
	authList     bool

	authFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "site, s",
			Usage:       "site the credential belongs to",
			Destination: &authSite,
		},
		cli.StringFlag{
			Name:        "user, u",
			Usage:       "account user name",
			Destination: &authUser,
		},
		cli.StringFlag{
			Name:        "password, p",
			Usage:       "account password",
			Destination: &authPassword,
		},
		cli.StringFlag{
			Name:        "token, t",
			Usage:       "API token",
			Destination: &authToken,
		},
		cli.BoolFlag{
			Name:        "delete, d",
			Usage:       "remove the stored credential for --site",
			Destination: &authDelete,
		},
		cli.BoolFlag{
			Name:        "list",
			Usage:       "list sites with stored credentials",
			Destination: &authList,
		},
	}
)

func authAction(ctx *cli.Context) error {
	storage, err := config.OpenStorage()
	if err != nil {
		return err
	}
	store, err := auth.Open(storage.CredentialsPath())
	if err != nil {
		return err
	}

	switch {
	case authList:
		for _, site := range store.Sites() {
			fmt.Println(site)
		}
		return nil
	case authSite == "":
		return errors.New("auth: --site is required")
	case authDelete:
		return store.Delete(authSite)
	case authUser == "" && authPassword == "" && authToken == "":
		return errors.New("auth: nothing to store, pass --user/--password/--token")
	}

	return store.Set(auth.Credential{
		Site:     authSite,
		Username: authUser,
		Password: authPassword,
		Token:    authToken,
	})
}
