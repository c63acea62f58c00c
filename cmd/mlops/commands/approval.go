package commands

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/savaki/sagemaker-mlops/internal/approval"
	"github.com/savaki/sagemaker-mlops/internal/constants"
	"github.com/savaki/sagemaker-mlops/internal/services"
	"github.com/urfave/cli/v2"
)

// ApprovalRows turns the project parameters into construct, value, enabled rows.
func ApprovalRows(projectName string, params map[string]string) [][]string {
	root := constants.ParameterRoot(projectName) + "/"
	suffix := "/" + constants.AutoApprovalParam

	var rows [][]string
	for name, value := range params {
		if !strings.HasPrefix(name, root) || !strings.HasSuffix(name, suffix) {
			continue
		}
		construct := strings.TrimSuffix(strings.TrimPrefix(name, root), suffix)
		rows = append(rows, []string{construct, value, strconv.FormatBool(approval.ParseFlag(value))})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
	return rows
}

func approvalStore(c *cli.Context) (services.ParameterStore, string, error) {
	project := c.String("project")
	if project == "" {
		return nil, "", fmt.Errorf("--project or SAGEMAKER_PROJECT_NAME is required")
	}
	container, err := newContainer(c, project)
	if err != nil {
		return nil, "", err
	}
	store, err := resolve[services.ParameterStore](container)
	if err != nil {
		return nil, "", err
	}
	return store, project, nil
}

var constructFlag = &cli.StringFlag{
	Name:     "construct",
	Usage:    "CI/CD construct id, e.g. BuildPipeline",
	Required: true,
	EnvVars:  []string{"CODEPIPELINE_CONSTRUCT_ID"},
}

// ApprovalCommand reads and writes the auto-approval flags of a project's pipelines.
func ApprovalCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "approval",
		Usage: "Manage the auto-approval flags of project pipelines",
		Description: `Each CI/CD pipeline has a manual approval stage. When its flag
/sagemaker-{project}/{construct}/AutoApprovalFlag is "1" or "true" the stage
is approved automatically.

Examples:
  mlops approval list --project mlopsdemo
  mlops approval set --project mlopsdemo --construct ServingPipeline --enabled=false`,
		Subcommands: []*cli.Command{
			{
				Name:  "get",
				Usage: "Show one flag",
				Flags: []cli.Flag{projectFlag, constructFlag},
				Action: func(c *cli.Context) error {
					store, project, err := approvalStore(c)
					if err != nil {
						return err
					}
					name := constants.ApprovalFlagName(project, c.String("construct"))
					value, err := store.GetParameterFresh(c.Context, name)
					if err != nil {
						return err
					}
					fmt.Printf("%s = %s (enabled: %t)\n", name, value, approval.ParseFlag(value))
					return nil
				},
			},
			{
				Name:  "set",
				Usage: "Enable or disable automatic approval",
				Flags: []cli.Flag{
					projectFlag,
					constructFlag,
					&cli.BoolFlag{
						Name:  "enabled",
						Usage: "Approve automatically",
						Value: true,
					},
				},
				Action: func(c *cli.Context) error {
					store, project, err := approvalStore(c)
					if err != nil {
						return err
					}
					name := constants.ApprovalFlagName(project, c.String("construct"))
					value := "0"
					if c.Bool("enabled") {
						value = "1"
					}
					if err := store.PutParameter(c.Context, name, value); err != nil {
						return err
					}
					logger.Info().Str("parameter", name).Str("value", value).Msg("Updated approval flag")
					return nil
				},
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "Show the flags of every construct",
				Flags:   []cli.Flag{projectFlag},
				Action: func(c *cli.Context) error {
					store, project, err := approvalStore(c)
					if err != nil {
						return err
					}
					params, err := store.GetParametersByPath(c.Context, constants.ParameterRoot(project))
					if err != nil {
						return err
					}
					renderTable([]string{"Construct", "Value", "Enabled"}, ApprovalRows(project, params))
					return nil
				},
			},
		},
	}
}
