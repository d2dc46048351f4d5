package main

import (
	"context"
	"fmt"

	"github.com/dukex/handoff/pkg/services"
	"github.com/dukex/handoff/pkg/templates"
	cli "github.com/urfave/cli/v3"
)

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Store the bundled design-to-release template, replacing an earlier seed",
		Action: func(ctx context.Context, command *cli.Command) error {
			return withTemplateService(ctx, command, func(svc *services.Template) error {
				saved, err := store(ctx, svc, templates.Demo(), true)
				if err != nil {
					return err
				}

				_, err = fmt.Fprintf(command.Root().Writer, "seeded %s (%s)\n", saved.Name, saved.ID)

				return err
			})
		},
	}
}
