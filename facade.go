package subsync

import (
	"fmt"

	subsynccommand "github.com/goliatone/go-subsync/command"
	subsyncquery "github.com/goliatone/go-subsync/query"
)

type CommandQueryService interface {
	subsynccommand.MutatingService
	subsyncquery.Authenticator
	subsyncquery.IdentityReader
	subsyncquery.SecretReader
}

type Commands struct {
	MergeUsage        *subsynccommand.MergeUsageCommand
	EnqueueUsageMerge *subsynccommand.EnqueueUsageMergeCommand
	MigrateAccounts   *subsynccommand.MigrateAccountsCommand
}

type Queries struct {
	Authenticate    *subsyncquery.AuthenticateQuery
	ResolveIdentity *subsyncquery.ResolveIdentityQuery
	SecretVersions  *subsyncquery.SecretVersionsQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	enqueuer subsynccommand.UsageMergeEnqueuer
}

// WithUsageMergeEnqueuer overrides the enqueuer behind EnqueueUsageMerge.
// By default the service is used when it can enqueue.
func WithUsageMergeEnqueuer(enqueuer subsynccommand.UsageMergeEnqueuer) FacadeOption {
	return func(options *facadeOptions) {
		options.enqueuer = enqueuer
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("subsync: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	enqueuer := cfg.enqueuer
	if enqueuer == nil {
		if candidate, ok := service.(subsynccommand.UsageMergeEnqueuer); ok {
			enqueuer = candidate
		}
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		MergeUsage:        subsynccommand.NewMergeUsageCommand(service),
		EnqueueUsageMerge: subsynccommand.NewEnqueueUsageMergeCommand(enqueuer),
		MigrateAccounts:   subsynccommand.NewMigrateAccountsCommand(service),
	}
	facade.queries = Queries{
		Authenticate:    subsyncquery.NewAuthenticateQuery(service),
		ResolveIdentity: subsyncquery.NewResolveIdentityQuery(service),
		SecretVersions:  subsyncquery.NewSecretVersionsQuery(service),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
