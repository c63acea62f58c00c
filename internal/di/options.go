package di

// Region overrides the AWS region resolved from the environment.
type Region string

// Option is a function that configures the dependency injection container.
type Option func(*options)

// WithRegion pins the AWS region used by every client.
func WithRegion(region string) Option {
	return func(opts *options) {
		opts.region = Region(region)
	}
}

// Credentials are static keys that replace the default credential chain when set.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// WithCredentials pins static credentials, e.g. from CLI flags.
func WithCredentials(c Credentials) Option {
	return func(opts *options) {
		opts.credentials = c
	}
}

// WithProviders adds constructor functions to the dependency injection container.
// Each provider should be a constructor function that returns one or more values.
// Providers can declare dependencies as function parameters, which will be
// automatically resolved by the container.
//
// Example:
//
//	WithProviders(
//	    func() *Database { return &Database{} },
//	    func(db *Database) *Service { return &Service{DB: db} },
//	)
func WithProviders(providers ...any) Option {
	return func(opts *options) {
		opts.providers = append(opts.providers, providers...)
	}
}

type options struct {
	region      Region
	credentials Credentials
	providers   []any
}
