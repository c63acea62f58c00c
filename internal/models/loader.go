package models

// LoaderBody is the payload carried through the DynamoDB loader state machine.
type LoaderBody struct {
	Bucket         string       `json:"bucket"`
	KeysRawProc    []string     `json:"keysRawProc"`
	TargetDDBTable string       `json:"targetDDBTable"`
	TargetJob      string       `json:"targetJob"`
	Token          string       `json:"token"`
	Job            *InvokeReply `json:"job,omitempty"`
}

// LoaderInput is the state machine execution input. Later states add Body.Job.
type LoaderInput struct {
	StatusCode    int        `json:"statusCode"`
	Body          LoaderBody `json:"body"`
	CallbackToken string     `json:"callbackToken"`
}

// JobDetails tracks one Glue job run and the pipeline callback token it answers.
type JobDetails struct {
	JobName    string `json:"jobName"`
	JobRunID   string `json:"jobRunId"`
	JobStatus  string `json:"jobStatus"`
	GlueStatus string `json:"glueStatus,omitempty"`
	Token      string `json:"token"`
}

// JobReply is returned by the submit and status functions.
type JobReply struct {
	JobDetails JobDetails `json:"jobDetails"`
}

// InvokeReply is how a Step Functions Lambda task wraps a function's return value.
type InvokeReply struct {
	Payload JobReply `json:"Payload"`
}

// CallbackMessage is the SQS message a pipeline callback step sends.
type CallbackMessage struct {
	Token     string            `json:"token"`
	Arguments CallbackArguments `json:"arguments"`
}

// CallbackArguments are the inputs of the callback step.
type CallbackArguments struct {
	Bucket       string `json:"bucket"`
	KeyToProcess string `json:"key_to_process"`
}
