package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dukex/handoff/pkg/cmd"
	"github.com/dukex/handoff/pkg/log"
	"github.com/dukex/handoff/pkg/models"
	"github.com/dukex/handoff/pkg/services"
	"github.com/dukex/handoff/pkg/templates"
	cli "github.com/urfave/cli/v3"
)

func templateCommand() *cli.Command {
	return &cli.Command{
		Name:    "template",
		Aliases: []string{"t"},
		Usage:   "Import, validate and export workflow templates",
		Commands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "Import a YAML or JSON template document",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "replace",
						Usage: "Replace the stored template when one with the same id exists",
					},
				},
				Action: importTemplate,
			},
			{
				Name:      "validate",
				Usage:     "Check a template document without storing it",
				ArgsUsage: "<file>",
				Action:    validateTemplate,
			},
			{
				Name:      "export",
				Usage:     "Write a stored template as a YAML or JSON document",
				ArgsUsage: "<template-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file; the extension selects the format. Prints YAML to stdout when empty",
					},
				},
				Action: exportTemplate,
			},
		},
	}
}

// withTemplateService opens persistence for the duration of fn.
func withTemplateService(ctx context.Context, command *cli.Command, fn func(*services.Template) error) error {
	logger := log.WithModule("cli")

	p, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := p.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	return fn(services.NewTemplate(p, logger))
}

func argument(command *cli.Command, name string) (string, error) {
	value := command.Args().First()
	if value == "" {
		return "", fmt.Errorf("%s is required", name)
	}

	return value, nil
}

func importTemplate(ctx context.Context, command *cli.Command) error {
	path, err := argument(command, "file")
	if err != nil {
		return err
	}

	template, err := templates.Load(path)
	if err != nil {
		return err
	}

	return withTemplateService(ctx, command, func(svc *services.Template) error {
		saved, err := store(ctx, svc, template, command.Bool("replace"))
		if err != nil {
			return err
		}

		_, err = fmt.Fprintf(command.Root().Writer, "imported %s (%s)\n", saved.Name, saved.ID)

		return err
	})
}

// store creates template, or updates the stored one with the same id when replace is set.
func store(ctx context.Context, svc *services.Template, template *models.WorkflowTemplate, replace bool) (*models.WorkflowTemplate, error) {
	if template.ID != "" {
		_, err := svc.FetchByID(ctx, template.ID)

		switch {
		case err == nil && replace:
			return svc.Update(ctx, template.ID, template)
		case err == nil:
			return nil, fmt.Errorf("template %s already exists, use --replace to overwrite it", template.ID)
		case !errors.Is(err, services.ErrTemplateNotFound):
			return nil, err
		}
	}

	return svc.Create(ctx, template)
}

func validateTemplate(_ context.Context, command *cli.Command) error {
	path, err := argument(command, "file")
	if err != nil {
		return err
	}

	template, err := templates.Load(path)
	if err != nil {
		return err
	}

	svc := services.NewTemplate(nil, slog.New(slog.DiscardHandler))
	if err := svc.Validate(template); err != nil {
		return err
	}

	_, err = fmt.Fprintf(command.Root().Writer, "%s is valid: %d nodes, %d connections\n",
		path, len(template.Nodes), len(template.Connections))

	return err
}

func exportTemplate(ctx context.Context, command *cli.Command) error {
	id, err := argument(command, "template-id")
	if err != nil {
		return err
	}

	return withTemplateService(ctx, command, func(svc *services.Template) error {
		template, err := svc.FetchByID(ctx, id)
		if err != nil {
			return err
		}

		output := command.String("output")

		format := "yaml"
		if output != "" {
			format = templates.FormatFor(output)
		}

		data, err := templates.Marshal(template, format)
		if err != nil {
			return err
		}

		if output == "" {
			_, err = command.Root().Writer.Write(data)

			return err
		}

		return os.WriteFile(output, data, 0o600)
	})
}
