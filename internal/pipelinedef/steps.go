package pipelinedef

import "fmt"

const (
	processingCodeDir   = "/opt/ml/processing/input/code"
	athenaLocalPath     = "/opt/ml/processing/athena"
	defaultVolumeSizeGB = 30
)

var defaultCache = &CacheConfig{Enabled: true, ExpireAfter: "PT1H"}

func clusterConfig(instanceType, instanceCount any, volume int) map[string]any {
	return map[string]any{
		"ClusterConfig": map[string]any{
			"InstanceType":   instanceType,
			"InstanceCount":  instanceCount,
			"VolumeSizeInGB": volume,
		},
	}
}

func s3Input(name string, uri any, localPath string) map[string]any {
	return map[string]any{
		"InputName":  name,
		"AppManaged": false,
		"S3Input": map[string]any{
			"S3Uri":                  uri,
			"LocalPath":              localPath,
			"S3DataType":             "S3Prefix",
			"S3InputMode":            "File",
			"S3DataDistributionType": "FullyReplicated",
		},
	}
}

func codeInput(uri string) map[string]any {
	return s3Input("code", uri, processingCodeDir)
}

func athenaInput(q athenaDataset) map[string]any {
	return map[string]any{
		"InputName":  "athena_dataset",
		"AppManaged": false,
		"DatasetDefinition": map[string]any{
			"LocalPath":            athenaLocalPath,
			"DataDistributionType": "FullyReplicated",
			"InputMode":            "File",
			"AthenaDatasetDefinition": map[string]any{
				"Catalog":      q.Catalog,
				"Database":     q.Database,
				"QueryString":  q.QueryString,
				"OutputS3Uri":  q.OutputURI,
				"OutputFormat": "PARQUET",
			},
		},
	}
}

type athenaDataset struct {
	Catalog     string
	Database    string
	QueryString string
	OutputURI   any
}

func s3Output(name, localPath string, destination any) map[string]any {
	return map[string]any{
		"OutputName": name,
		"AppManaged": false,
		"S3Output": map[string]any{
			"S3Uri":        destination,
			"LocalPath":    localPath,
			"S3UploadMode": "EndOfJob",
		},
	}
}

type processingJob struct {
	Role          string
	Image         string
	InstanceType  any
	InstanceCount any
	VolumeGB      int
	Entrypoint    []string
	Arguments     []string
	Environment   map[string]any
	Inputs        []map[string]any
	Outputs       []map[string]any
}

func (p processingJob) arguments() map[string]any {
	volume := p.VolumeGB
	if volume == 0 {
		volume = defaultVolumeSizeGB
	}
	app := map[string]any{"ImageUri": p.Image}
	if len(p.Entrypoint) > 0 {
		app["ContainerEntrypoint"] = p.Entrypoint
	}
	if len(p.Arguments) > 0 {
		app["ContainerArguments"] = p.Arguments
	}

	args := map[string]any{
		"ProcessingResources":    clusterConfig(p.InstanceType, p.InstanceCount, volume),
		"AppSpecification":       app,
		"RoleArn":                p.Role,
		"ProcessingInputs":       p.Inputs,
		"ProcessingOutputConfig": map[string]any{"Outputs": p.Outputs},
	}
	if len(p.Environment) > 0 {
		args["Environment"] = p.Environment
	}
	return args
}

func scriptEntrypoint(script string) []string {
	return []string{"python3", fmt.Sprintf("%s/%s", processingCodeDir, script)}
}

func lambdaStep(name, functionARN string, inputs map[string]any, outputs ...string) Step {
	params := make([]Output, 0, len(outputs))
	for _, o := range outputs {
		params = append(params, Output{OutputName: o, OutputType: "String"})
	}
	return Step{
		Name:             name,
		Type:             "Lambda",
		Arguments:        inputs,
		FunctionArn:      functionARN,
		OutputParameters: params,
	}
}

type transformJob struct {
	ModelName     any
	InputURI      any
	OutputURI     any
	InstanceType  any
	InstanceCount int
	InputFilter   string
	OutputFilter  string
	Strategy      string
}

func (t transformJob) arguments() map[string]any {
	args := map[string]any{
		"ModelName": t.ModelName,
		"TransformInput": map[string]any{
			"DataSource": map[string]any{
				"S3DataSource": map[string]any{"S3DataType": "S3Prefix", "S3Uri": t.InputURI},
			},
			"ContentType": "text/csv",
			"SplitType":   "Line",
		},
		"TransformOutput": map[string]any{
			"S3OutputPath": t.OutputURI,
			"Accept":       "text/csv",
			"AssembleWith": "Line",
		},
		"TransformResources": map[string]any{
			"InstanceCount": t.InstanceCount,
			"InstanceType":  t.InstanceType,
		},
	}
	processing := map[string]any{"JoinSource": "Input"}
	if t.InputFilter != "" {
		processing["InputFilter"] = t.InputFilter
	}
	if t.OutputFilter != "" {
		processing["OutputFilter"] = t.OutputFilter
	}
	args["DataProcessing"] = processing
	if t.Strategy != "" {
		args["BatchStrategy"] = t.Strategy
	}
	return args
}

func metricsSource(uri any) map[string]any {
	return map[string]any{"ContentType": "application/json", "S3Uri": uri}
}
