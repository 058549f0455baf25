// Package brokerconfig renders the logbus broker configuration file
// (config.hcl) from a LogbusCluster spec.
//
// Rendering is pure and deterministic: the same spec and infrastructure
// details always produce byte-identical output, so the rendered bytes can be
// hashed for change detection. All defaults are applied here explicitly
// rather than left to the broker binary, which keeps the hash stable across
// broker versions that change their built-in defaults.
package brokerconfig

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclwrite"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
	"github.com/logbus-io/logbus-operator/internal/constants"
)

const (
	// configNodeIDTemplate is expanded by the broker at startup from the pod
	// hostname, so every replica shares one rendered config file.
	configNodeIDTemplate = "${HOSTNAME}"

	defaultSegmentBytes      = int64(1 << 30)
	defaultReplicationFactor = int32(3)
	defaultMinInsyncReplicas = int32(2)
	discoveryModeDNS         = "dns"
)

// InfrastructureDetails captures the topology information required to render
// a complete config.hcl file.
type InfrastructureDetails struct {
	HeadlessServiceName string
	Namespace           string
	ClientPort          int
	InterBrokerPort     int
}

// RenderHCL renders the complete broker configuration for the given cluster.
//
// The generated configuration:
//   - Always includes the operator-owned core attributes, the three listener
//     stanzas (client, internal, admin), and the log, replication, discovery,
//     and telemetry stanzas.
//   - Uses DNS discovery against the headless Service so the rendered config
//     does not depend on the replica count; scaling never changes the file.
//   - Renders free-form configuration from spec.extraConfig, rejecting keys
//     that would shadow an operator-owned stanza.
func RenderHCL(cluster *logbusv1alpha1.LogbusCluster, infra InfrastructureDetails) ([]byte, error) {
	if cluster == nil {
		return nil, fmt.Errorf("cluster is required")
	}

	infra, err := validateInfrastructureDetails(cluster, infra)
	if err != nil {
		return nil, err
	}

	file := hclwrite.NewEmptyFile()
	body := file.Body()

	advertisedHost := fmt.Sprintf("%s.%s.%s.svc", configNodeIDTemplate, infra.HeadlessServiceName, infra.Namespace)

	gohcl.EncodeIntoBody(hclCoreAttributes{
		NodeID:         configNodeIDTemplate,
		ClusterName:    cluster.Name,
		DataDir:        constants.PathData,
		AdvertisedHost: advertisedHost,
	}, body)

	for _, block := range buildListenerBlocks(cluster, infra) {
		body.AppendBlock(block)
	}

	body.AppendBlock(buildLogBlock(cluster))
	body.AppendBlock(buildReplicationBlock(cluster))
	body.AppendBlock(buildDiscoveryBlock(infra))
	body.AppendBlock(buildTelemetryBlock())

	extraTokens, err := buildExtraConfigTokens(cluster.Spec.ExtraConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to render extraConfig: %w", err)
	}
	if len(extraTokens) > 0 {
		body.AppendUnstructuredTokens(extraTokens)
	}

	return file.Bytes(), nil
}

type hclCoreAttributes struct {
	NodeID         string `hcl:"node_id"`
	ClusterName    string `hcl:"cluster_name"`
	DataDir        string `hcl:"data_dir"`
	AdvertisedHost string `hcl:"advertised_host"`
}

type hclListener struct {
	Name    string `hcl:"name,label"`
	Address string `hcl:"address"`

	AdvertisedPort *int32 `hcl:"advertised_port"`
}

type hclLog struct {
	SegmentBytes   int64 `hcl:"segment_bytes"`
	RetentionHours int32 `hcl:"retention_hours"`
	RetentionBytes int64 `hcl:"retention_bytes"`
}

type hclReplication struct {
	DefaultReplicationFactor int32 `hcl:"default_replication_factor"`
	MinInsyncReplicas        int32 `hcl:"min_insync_replicas"`
}

type hclDiscovery struct {
	Mode    string `hcl:"mode,label"`
	Service string `hcl:"service"`
	Port    int    `hcl:"port"`
}

type hclTelemetry struct {
	PrometheusAddress string `hcl:"prometheus_address"`
}

func buildListenerBlocks(cluster *logbusv1alpha1.LogbusCluster, infra InfrastructureDetails) []*hclwrite.Block {
	client := hclListener{
		Name:    constants.PortNameClient,
		Address: fmt.Sprintf("[::]:%d", infra.ClientPort),
	}
	// Clients bootstrapping through a LoadBalancer need the broker to hand
	// back the externally visible port, not the container port.
	if cluster.Spec.Service != nil && cluster.Spec.Service.ClientPort != 0 {
		port := cluster.Spec.Service.ClientPort
		client.AdvertisedPort = &port
	}

	internal := hclListener{
		Name:    constants.PortNameInterBroker,
		Address: fmt.Sprintf("[::]:%d", infra.InterBrokerPort),
	}
	admin := hclListener{
		Name:    constants.PortNameAdmin,
		Address: fmt.Sprintf("[::]:%d", constants.PortAdmin),
	}

	return []*hclwrite.Block{
		gohcl.EncodeAsBlock(client, "listener"),
		gohcl.EncodeAsBlock(internal, "listener"),
		gohcl.EncodeAsBlock(admin, "listener"),
	}
}

func buildLogBlock(cluster *logbusv1alpha1.LogbusCluster) *hclwrite.Block {
	attrs := hclLog{
		SegmentBytes:   cluster.Spec.Storage.SegmentBytes,
		RetentionHours: cluster.Spec.Storage.RetentionHours,
		RetentionBytes: cluster.Spec.Storage.RetentionBytes,
	}
	if attrs.SegmentBytes == 0 {
		attrs.SegmentBytes = defaultSegmentBytes
	}

	return gohcl.EncodeAsBlock(attrs, "log")
}

func buildReplicationBlock(cluster *logbusv1alpha1.LogbusCluster) *hclwrite.Block {
	attrs := hclReplication{
		DefaultReplicationFactor: defaultReplicationFactor,
		MinInsyncReplicas:        defaultMinInsyncReplicas,
	}
	if repl := cluster.Spec.Replication; repl != nil {
		if repl.DefaultReplicationFactor != 0 {
			attrs.DefaultReplicationFactor = repl.DefaultReplicationFactor
		}
		if repl.MinInsyncReplicas != 0 {
			attrs.MinInsyncReplicas = repl.MinInsyncReplicas
		}
	}

	return gohcl.EncodeAsBlock(attrs, "replication")
}

func buildDiscoveryBlock(infra InfrastructureDetails) *hclwrite.Block {
	return gohcl.EncodeAsBlock(hclDiscovery{
		Mode:    discoveryModeDNS,
		Service: fmt.Sprintf("%s.%s.svc", infra.HeadlessServiceName, infra.Namespace),
		Port:    infra.InterBrokerPort,
	}, "discovery")
}

func buildTelemetryBlock() *hclwrite.Block {
	return gohcl.EncodeAsBlock(hclTelemetry{
		PrometheusAddress: fmt.Sprintf("[::]:%d", constants.PortMetrics),
	}, "telemetry")
}

func validateInfrastructureDetails(cluster *logbusv1alpha1.LogbusCluster, infra InfrastructureDetails) (InfrastructureDetails, error) {
	if strings.TrimSpace(infra.HeadlessServiceName) == "" {
		infra.HeadlessServiceName = cluster.Name + constants.SuffixHeadless
	}
	if strings.TrimSpace(infra.Namespace) == "" {
		return InfrastructureDetails{}, fmt.Errorf("infrastructure namespace is required to render config.hcl")
	}
	if infra.ClientPort == 0 {
		infra.ClientPort = constants.PortClient
	}
	if infra.InterBrokerPort == 0 {
		infra.InterBrokerPort = constants.PortInterBroker
	}
	return infra, nil
}
