package commands

import (
	"fmt"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/autowire/internal/cli/config"
	"github.com/conduit-lang/autowire/internal/cli/ui"
)

// NewInitCommand creates the init command
func NewInitCommand(global *globalOptions) *cobra.Command {
	var (
		yes   bool
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create an autowire.yml configuration file",
		Long: `Create autowire.yml in the current directory. You are asked for the
scan root, the generated file and its package unless --yes is given, in
which case the defaults are written.

Examples:
  autowire init
  autowire init --yes
  autowire init --yes --force   # replace an existing file`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := global.configFile
			if path == "" {
				path = config.FileNames[0]
			}
			if !force {
				if existing := config.Find("."); existing != "" && global.configFile == "" {
					return fmt.Errorf("%s already exists (use --force to replace it)", existing)
				}
			}

			cfg := config.Default()
			if global.root != "" {
				cfg.Root = global.root
			}

			if !yes {
				if err := askConfig(cfg); err != nil {
					return err
				}
			}

			if err := config.Save(path, cfg, force); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			ui.WriteSuccess(out, fmt.Sprintf("Created %s", path), color.NoColor)
			color.New(color.FgCyan).Fprintln(out, "\nNext steps:")
			fmt.Fprintln(out, "  1. Annotate a type with //autowire:injectable")
			fmt.Fprintln(out, "  2. Run 'autowire generate'")
			fmt.Fprintf(out, "  3. Call Bootstrap from %s in your main package\n", cfg.Output)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Accept the defaults without prompting")
	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing configuration file")

	return cmd
}

func askConfig(cfg *config.Config) error {
	answers := struct {
		Root     string
		Output   string
		Package  string
		Comments bool
	}{}

	questions := []*survey.Question{
		{
			Name:     "root",
			Prompt:   &survey.Input{Message: "Directory to scan:", Default: cfg.Root},
			Validate: survey.Required,
		},
		{
			Name:   "output",
			Prompt: &survey.Input{Message: "Generated file:", Default: cfg.Output},
			Validate: func(ans interface{}) error {
				if s, ok := ans.(string); !ok || !strings.HasSuffix(s, ".go") {
					return fmt.Errorf("the generated file must end in .go")
				}
				return nil
			},
		},
		{
			Name:   "package",
			Prompt: &survey.Input{Message: "Package of the generated file (empty to infer):", Default: cfg.Package},
		},
		{
			Name:   "comments",
			Prompt: &survey.Confirm{Message: "Annotate registrations with kind and origin?", Default: cfg.Comments},
		},
	}

	if err := survey.Ask(questions, &answers); err != nil {
		return err
	}

	cfg.Root = answers.Root
	cfg.Output = answers.Output
	cfg.Package = strings.TrimSpace(answers.Package)
	cfg.Comments = answers.Comments
	return nil
}
