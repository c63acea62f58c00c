package errors

import "errors"

var (
	ErrRecordNotFound          = errors.New("record not found")
	ErrNoApprovedModelPackage  = errors.New("no approved model package found")
	ErrUnknownPipelineStrategy = errors.New("unknown pipeline strategy")
	ErrMissingConfiguration    = errors.New("missing required configuration")
	ErrInvalidS3URI            = errors.New("invalid S3 URI")
	ErrNoDriftBaselines        = errors.New("model package has no drift check baselines")
	ErrUnsupportedRegion       = errors.New("region not supported for image lookup")
	ErrJobFailed               = errors.New("glue job failed")
	ErrStackNotFound           = errors.New("stack not found")
)
