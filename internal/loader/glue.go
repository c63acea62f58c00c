package loader

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
)

// MaxCapacity is the DPU capacity requested for each run.
const MaxCapacity = 2.0

// GlueAPI is the subset of Glue used by the loader.
type GlueAPI interface {
	StartJobRun(ctx context.Context, params *glue.StartJobRunInput, optFns ...func(*glue.Options)) (*glue.StartJobRunOutput, error)
	GetJobRun(ctx context.Context, params *glue.GetJobRunInput, optFns ...func(*glue.Options)) (*glue.GetJobRunOutput, error)
}

// JobArguments returns the Glue arguments for loading key from bucket into table.
func JobArguments(bucket, key, table string) map[string]string {
	return map[string]string{
		"--job-bookmark-option":       "job-bookmark-enable",
		"--additional-python-modules": "pyarrow==2,awswrangler==2.9.0",
		"--TARGET_DDB_TABLE":          table,
		"--S3_BUCKET":                 bucket,
		"--S3_PREFIX_PROCESSED":       key,
	}
}

func getJobRunState(ctx context.Context, client GlueAPI, name, runID string) (string, error) {
	out, err := client.GetJobRun(ctx, &glue.GetJobRunInput{
		JobName: aws.String(name),
		RunId:   aws.String(runID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get job run %s/%s: %w", name, runID, err)
	}
	if out.JobRun == nil {
		return "", fmt.Errorf("job run %s/%s has no details", name, runID)
	}
	return string(out.JobRun.JobRunState), nil
}
