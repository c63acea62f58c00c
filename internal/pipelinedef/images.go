package pipelinedef

import (
	"fmt"

	"github.com/savaki/sagemaker-mlops/internal/errors"
)

// Framework identifies a SageMaker managed container image.
type Framework string

const (
	SKLearn              Framework = "sklearn"
	XGBoost              Framework = "xgboost"
	ModelMonitorAnalyzer Framework = "model-monitor"
	Clarify              Framework = "clarify"
	DataWrangler         Framework = "data-wrangler"
)

var repositories = map[Framework]string{
	SKLearn:              "sagemaker-scikit-learn:0.23-1-cpu-py3",
	XGBoost:              "sagemaker-xgboost:1.0-1-cpu-py3",
	ModelMonitorAnalyzer: "sagemaker-model-monitor-analyzer",
	Clarify:              "sagemaker-clarify-processing:1.0",
	DataWrangler:         "sagemaker-data-wrangler-container:1.x",
}

// sklearn and xgboost share registry accounts
var accounts = map[Framework]map[string]string{
	SKLearn: {
		"us-east-1":      "683313688378",
		"us-east-2":      "257758044811",
		"us-west-1":      "746614075791",
		"us-west-2":      "246618743249",
		"eu-west-1":      "141502667606",
		"eu-west-2":      "764974769150",
		"eu-central-1":   "492215442770",
		"ap-southeast-1": "121021644041",
		"ap-southeast-2": "783357654285",
		"ap-northeast-1": "354813040037",
	},
	ModelMonitorAnalyzer: {
		"us-east-1":      "156813124566",
		"us-east-2":      "777275614652",
		"us-west-1":      "890145073186",
		"us-west-2":      "159807026194",
		"eu-west-1":      "468650794304",
		"eu-west-2":      "749857270468",
		"eu-central-1":   "048819808253",
		"ap-southeast-1": "245545462676",
		"ap-southeast-2": "563025443158",
		"ap-northeast-1": "574779866223",
	},
	Clarify: {
		"us-east-1":      "205585389593",
		"us-east-2":      "211330385671",
		"us-west-1":      "740489534195",
		"us-west-2":      "306415355426",
		"eu-west-1":      "985815980388",
		"eu-west-2":      "175964228340",
		"eu-central-1":   "017069133835",
		"ap-southeast-1": "972752614525",
		"ap-southeast-2": "583479090295",
		"ap-northeast-1": "377024640650",
	},
	DataWrangler: {
		"us-east-1":      "663277389841",
		"us-east-2":      "415577184552",
		"us-west-1":      "926135532090",
		"us-west-2":      "174368400705",
		"eu-west-1":      "245179582081",
		"eu-west-2":      "894491911112",
		"eu-central-1":   "024640144536",
		"ap-southeast-1": "119527597002",
		"ap-southeast-2": "422173101802",
		"ap-northeast-1": "649008135260",
	},
}

func init() {
	accounts[XGBoost] = accounts[SKLearn]
}

// ImageURI returns the ECR image for framework in region.
func ImageURI(framework Framework, region string) (string, error) {
	repo, ok := repositories[framework]
	if !ok {
		return "", fmt.Errorf("unknown framework %s", framework)
	}
	account, ok := accounts[framework][region]
	if !ok {
		return "", fmt.Errorf("%w: %s has no %s image", errors.ErrUnsupportedRegion, region, framework)
	}
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com/%s", account, region, repo), nil
}
