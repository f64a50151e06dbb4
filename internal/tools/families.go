package tools

import (
	"go.uber.org/zap"

	"github.com/tareqmamari/cloud-rca-engine/internal/cloudclient"
)

// family is anything that can add its tools to a registry.
type family interface {
	Register(reg *Registry)
}

// NewRegistryForClient builds a registry with every tool family bound to one
// investigation's cloud client.
func NewRegistryForClient(client *cloudclient.Client, logger *zap.Logger) *Registry {
	reg := NewRegistry()
	families := []family{
		NewTraceTools(client, logger.Named("trace")),
		NewLambdaTools(client, logger.Named("lambda")),
		NewAPIGatewayTools(client, logger.Named("apigateway")),
		NewStepFunctionsTools(client, logger.Named("stepfunctions")),
		NewStorageTools(client, logger.Named("storage")),
		NewMessagingTools(client, logger.Named("messaging")),
		NewEventBusTools(client, logger.Named("eventbridge")),
		NewDatabaseTools(client, logger.Named("database")),
		NewNetworkTools(client, logger.Named("network")),
		NewIdentityTools(client, logger.Named("identity")),
		NewObservabilityTools(client, logger.Named("observability")),
		NewEnrichmentTools(client, logger.Named("enrichment")),
	}
	for _, f := range families {
		f.Register(reg)
	}
	return reg
}
