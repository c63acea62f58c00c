package infra

import (
	"fmt"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"
)

// StackFactory adds one stack to scope using the given synthesizer.
type StackFactory func(scope constructs.Construct, id string, synthesizer awscdk.IStackSynthesizer) awscdk.Stack

// GenerateTemplate synthesizes the stack built by factory in its own app and returns
// the path of the resulting template. The bootstrapless synthesizer keeps the template
// free of CDK bootstrap references so Service Catalog can launch it as-is.
func GenerateTemplate(factory StackFactory, id, outdir string) (string, error) {
	app := awscdk.NewApp(&awscdk.AppProps{
		Outdir: jsii.String(outdir),
	})
	stage := awscdk.NewStage(app, jsii.String("SynthStage"), nil)

	factory(stage, id, awscdk.NewBootstraplessSynthesizer(&awscdk.BootstraplessSynthesizerProps{}))

	assembly := stage.Synth(&awscdk.StageSynthesisOptions{
		Force: jsii.Bool(true),
	})
	stacks := assembly.Stacks()
	if stacks == nil || len(*stacks) == 0 {
		return "", fmt.Errorf("synthesizing %s produced no stacks", id)
	}
	return *(*stacks)[0].TemplateFullPath(), nil
}
