package commands

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/rs/zerolog"
	"github.com/savaki/sagemaker-mlops/internal/deployer"
	"github.com/urfave/cli/v2"
)

func printStatus(status deployer.Status) {
	fmt.Printf("%s: %s\n", status.StackName, status.Status)
	if status.Reason != "" {
		fmt.Printf("  %s\n", status.Reason)
	}
	if len(status.Events) == 0 {
		return
	}

	rows := make([][]string, 0, len(status.Events))
	for _, e := range status.Events {
		rows = append(rows, []string{e.LogicalID, e.Status, e.Reason})
	}
	renderTable([]string{"Resource", "Status", "Reason"}, rows)
}

// StackStatusCommand reports the state of a deployed stack and its recent failures.
func StackStatusCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "stack-status",
		Usage: "Show the status of a CloudFormation stack",
		Description: `Exits non-zero when the stack is in a failed or rolled back state.

Examples:
  mlops stack-status --stack-name mlopsdemo-BuildModelStack`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "stack-name",
				Usage:    "Stack to inspect",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			container, err := newContainer(c, "")
			if err != nil {
				return err
			}
			client, err := resolve[*cloudformation.Client](container)
			if err != nil {
				return err
			}

			status, err := deployer.New(client).Status(c.Context, c.String("stack-name"))
			if err != nil {
				return err
			}
			printStatus(status)

			if status.Failed {
				logger.Warn().Str("stack_name", status.StackName).Str("status", status.Status).Msg("Stack failed")
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}
