package pipelinedef

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/savaki/sagemaker-mlops/internal/featurestore"
)

// CatalogResolver resolves a feature group to its offline store table.
type CatalogResolver interface {
	Resolve(ctx context.Context, featureGroup string) (featurestore.CatalogInfo, error)
}

// ModelRegistry finds the newest approved model package in a group.
type ModelRegistry interface {
	LatestApproved(ctx context.Context, group string) (string, error)
}

// CodeUploader stages a local file in S3 and returns its URI.
type CodeUploader interface {
	UploadFile(ctx context.Context, bucket, key, path string) (string, error)
}

// FlowReader reads a Data Wrangler flow file.
type FlowReader interface {
	ReadFlow(path string) (Flow, error)
}

// Session carries what definition builders need from the environment.
type Session struct {
	Region        string
	DefaultBucket string
	Catalog       CatalogResolver
	Registry      ModelRegistry
	Code          CodeUploader
	Flows         FlowReader
}

// stage uploads a local script under {prefix}/code and returns its S3 URI.
func (s *Session) stage(ctx context.Context, prefix, path string) (string, error) {
	if s.Code == nil {
		return "", fmt.Errorf("no code uploader configured for %s", path)
	}
	key := fmt.Sprintf("%s/code/%s", prefix, filepath.Base(path))
	return s.Code.UploadFile(ctx, s.DefaultBucket, key, path)
}

// Flow is the subset of a Data Wrangler flow file used to wire inputs and outputs.
type Flow struct {
	Nodes []FlowNode `json:"nodes"`
}

// FlowNode is one node of a flow.
type FlowNode struct {
	NodeID     string `json:"node_id"`
	Parameters struct {
		DatasetDefinition struct {
			Name               string `json:"name"`
			S3ExecutionContext struct {
				S3URI string `json:"s3Uri"`
			} `json:"s3ExecutionContext"`
		} `json:"dataset_definition"`
	} `json:"parameters"`
	Outputs []struct {
		Name string `json:"name"`
	} `json:"outputs"`
}

// InputName is the dataset name of the first node.
func (f Flow) InputName() string {
	if len(f.Nodes) == 0 {
		return ""
	}
	return f.Nodes[0].Parameters.DatasetDefinition.Name
}

// InputURI is the S3 location the flow was authored against.
func (f Flow) InputURI() string {
	if len(f.Nodes) == 0 {
		return ""
	}
	return f.Nodes[0].Parameters.DatasetDefinition.S3ExecutionContext.S3URI
}

// OutputName is {node_id}.{output} of the last node.
func (f Flow) OutputName() string {
	if len(f.Nodes) == 0 {
		return ""
	}
	last := f.Nodes[len(f.Nodes)-1]
	if len(last.Outputs) == 0 {
		return last.NodeID
	}
	return last.NodeID + "." + last.Outputs[0].Name
}

// FileFlowReader reads flows from the local filesystem.
type FileFlowReader struct{}

func (FileFlowReader) ReadFlow(path string) (Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Flow{}, fmt.Errorf("failed to read flow %s: %w", path, err)
	}
	var flow Flow
	if err := json.Unmarshal(data, &flow); err != nil {
		return Flow{}, fmt.Errorf("failed to parse flow %s: %w", path, err)
	}
	if len(flow.Nodes) == 0 {
		return Flow{}, fmt.Errorf("flow %s has no nodes", path)
	}
	return flow, nil
}
