package mirror

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
	operatorerrors "github.com/logbus-io/logbus-operator/internal/errors"
	"github.com/logbus-io/logbus-operator/internal/logbus"
	"github.com/logbus-io/logbus-operator/internal/status"
)

// Secret keys expected in a mirror source credentials Secret.
const (
	sourceSecretKeyUsername = "username"
	sourceSecretKeyPassword = "password"
	sourceSecretKeyCACert   = "caCert"
)

// Condition reasons reported on MirroringHealthy.
const (
	ReasonAllSourcesHealthy = "AllSourcesHealthy"
	ReasonSourceErrors      = "SourceErrors"
)

// Manager mirrors records from the configured external sources into the
// local cluster. Each Reconcile performs one bounded pass: at most
// maxRecordsPerPass records per partition, one checkpoint table write.
type Manager struct {
	client  client.Client
	scheme  *runtime.Scheme
	brokers logbus.AdminClients
	store   *Store
}

// NewManager constructs a Manager. The scheme is used to set owner
// references on the mirror-state ConfigMap.
func NewManager(c client.Client, scheme *runtime.Scheme, brokers logbus.AdminClients) *Manager {
	return &Manager{
		client:  c,
		scheme:  scheme,
		brokers: brokers,
		store:   NewStore(c, scheme),
	}
}

// Reconcile runs one mirror pass over every configured source and updates the
// in-memory cluster status; persisting status is the caller's job. A source
// that cannot be reached marks MirroringHealthy=False but never blocks the
// other sources or returns an error, so structural reconciliation is not
// held up by a dead peer cluster.
func (m *Manager) Reconcile(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster) error {
	if cluster.Spec.Mirroring == nil || len(cluster.Spec.Mirroring.Sources) == 0 {
		m.clearRemovedSources(cluster, nil)
		cluster.Status.Mirroring = nil
		status.Remove(&cluster.Status.Conditions, string(logbusv1alpha1.ConditionMirroringHealthy))
		return nil
	}

	logger = logger.WithValues("component", "mirror")
	metrics := NewMetrics(cluster.Namespace, cluster.Name)
	passStart := time.Now()

	table, err := m.store.Load(ctx, cluster)
	if err != nil {
		return err
	}

	target, err := m.brokers.ForCluster(cluster.Namespace, cluster.Name)
	if err != nil {
		return fmt.Errorf("failed to build local cluster client: %w", err)
	}

	m.clearRemovedSources(cluster, cluster.Spec.Mirroring.Sources)

	dirty := false
	statuses := make([]logbusv1alpha1.MirrorSourceStatus, 0, len(cluster.Spec.Mirroring.Sources))
	var unhealthy []string

	for i := range cluster.Spec.Mirroring.Sources {
		src := &cluster.Spec.Mirroring.Sources[i]
		sourceStatus, advanced := m.mirrorSource(ctx, logger, cluster, src, table, target, metrics)
		dirty = dirty || advanced
		if !sourceStatus.Healthy {
			unhealthy = append(unhealthy, src.Name)
		}
		statuses = append(statuses, sourceStatus)
	}

	if dirty {
		if err := m.store.Persist(ctx, cluster, table); err != nil {
			return err
		}
		metrics.IncrementCheckpointFlushes()
	}

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	cluster.Status.Mirroring = statuses

	if len(unhealthy) == 0 {
		status.True(&cluster.Status.Conditions, cluster.Generation,
			string(logbusv1alpha1.ConditionMirroringHealthy), ReasonAllSourcesHealthy,
			fmt.Sprintf("All %d mirror sources healthy", len(statuses)))
	} else {
		status.False(&cluster.Status.Conditions, cluster.Generation,
			string(logbusv1alpha1.ConditionMirroringHealthy), ReasonSourceErrors,
			fmt.Sprintf("Mirror sources with errors: %s", strings.Join(unhealthy, ", ")))
	}

	metrics.SetLastPassDuration(time.Since(passStart).Seconds())
	return nil
}

// ClearMetrics removes all mirror metric series for the cluster. Called on
// cluster deletion.
func (m *Manager) ClearMetrics(cluster *logbusv1alpha1.LogbusCluster) {
	NewMetrics(cluster.Namespace, cluster.Name).Clear()
}

// mirrorSource runs one pass for a single source. Failures are folded into
// the returned status instead of propagating, so one dead source cannot
// starve the rest. The bool reports whether any checkpoint advanced.
func (m *Manager) mirrorSource(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster, src *logbusv1alpha1.MirrorSource, table *CheckpointTable, target logbus.AdminAPI, metrics *Metrics) (logbusv1alpha1.MirrorSourceStatus, bool) {
	logger = logger.WithValues("source", src.Name)

	// Carry forward the reachability-dependent fields so a pass that cannot
	// reach the source reports the last known values instead of zeros.
	sourceStatus := logbusv1alpha1.MirrorSourceStatus{Name: src.Name}
	if prev := findSourceStatus(cluster.Status.Mirroring, src.Name); prev != nil {
		sourceStatus.AssignedPartitions = prev.AssignedPartitions
		sourceStatus.LagRecords = prev.LagRecords
		sourceStatus.LastSyncTime = prev.LastSyncTime
	}
	sourceStatus.MirroredRecords = mirroredRecords(table, src.Name)

	creds, err := m.loadSourceCredentials(ctx, cluster.Namespace, src.CredentialsSecret)
	if err != nil {
		logger.Error(err, "Failed to load source credentials")
		sourceStatus.Message = err.Error()
		metrics.SetSourceHealthy(src.Name, false)
		return sourceStatus, false
	}

	source, topics, err := m.connectSource(ctx, src, creds)
	if err != nil {
		logger.Info("Mirror source unreachable", "error", err.Error())
		sourceStatus.Message = err.Error()
		metrics.SetSourceHealthy(src.Name, false)
		return sourceStatus, false
	}

	selected := selectTopics(topics, src.TopicWhitelist, src.TopicBlacklist)
	workerCount := src.WorkerCount
	if workerCount < 1 {
		workerCount = 1
	}
	assignments := assignPartitions(selected, workerCount)

	// Workers read the shared checkpoint table but never write it; results
	// are folded back in after every worker finished.
	resultsByWorker := make([][]partitionResult, len(assignments))
	var wg sync.WaitGroup
	for i, refs := range assignments {
		if len(refs) == 0 {
			continue
		}
		wg.Add(1)
		go func(worker int, refs []partitionRef) {
			defer wg.Done()
			resultsByWorker[worker] = runWorker(ctx, source, target, src, refs, table)
		}(i, refs)
	}
	wg.Wait()

	var assigned int32
	var copied, lag int64
	var firstErr error
	dirty := false
	for _, results := range resultsByWorker {
		for _, result := range results {
			assigned++
			if result.Err != nil {
				logger.Error(result.Err, "Partition mirror failed",
					"topic", result.Ref.Topic, "partition", result.Ref.Partition)
				if firstErr == nil {
					firstErr = result.Err
				}
				continue
			}
			if result.Advanced {
				table.Set(src.Name, result.Ref.Topic, result.Ref.Partition, result.Checkpoint)
				dirty = true
			}
			copied += result.Copied
			lag += result.Lag
		}
	}

	sourceStatus.AssignedPartitions = assigned
	sourceStatus.MirroredRecords = mirroredRecords(table, src.Name)
	metrics.AddRecords(src.Name, copied)

	if firstErr != nil {
		sourceStatus.Message = firstErr.Error()
		metrics.SetSourceHealthy(src.Name, false)
		return sourceStatus, dirty
	}

	now := metav1.Now()
	sourceStatus.Healthy = true
	sourceStatus.Message = ""
	sourceStatus.LagRecords = lag
	sourceStatus.LastSyncTime = &now
	metrics.SetLag(src.Name, lag)
	metrics.SetSourceHealthy(src.Name, true)
	if copied > 0 {
		logger.V(1).Info("Mirror pass copied records", "records", copied, "lag", lag)
	}
	return sourceStatus, dirty
}

// connectSource returns a working admin client for the source, trying each
// bootstrap server in order until one answers a topic listing.
func (m *Manager) connectSource(ctx context.Context, src *logbusv1alpha1.MirrorSource, creds *logbus.Credentials) (logbus.AdminAPI, []logbus.TopicInfo, error) {
	useTLS := src.TLS != nil && src.TLS.Enabled
	insecure := src.TLS != nil && src.TLS.InsecureSkipVerify

	var lastErr error
	for _, server := range src.BootstrapServers {
		source, err := m.brokers.ForSource(server, useTLS, insecure, creds)
		if err != nil {
			lastErr = err
			continue
		}
		topics, err := source.ListTopics(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		return source, topics, nil
	}
	return nil, nil, operatorerrors.WrapExternalDependency(fmt.Errorf(
		"no bootstrap server of source %s reachable: %w", src.Name, lastErr))
}

// loadSourceCredentials reads the source credentials Secret from the cluster
// namespace. An empty Secret name means the source accepts anonymous access.
func (m *Manager) loadSourceCredentials(ctx context.Context, namespace, secretName string) (*logbus.Credentials, error) {
	if secretName == "" {
		return nil, nil
	}

	secret := &corev1.Secret{}
	if err := m.client.Get(ctx, types.NamespacedName{Namespace: namespace, Name: secretName}, secret); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, operatorerrors.WrapExternalDependency(fmt.Errorf(
				"credentials Secret %s/%s not found", namespace, secretName))
		}
		return nil, operatorerrors.WrapTransientAPI(fmt.Errorf(
			"failed to get credentials Secret %s/%s: %w", namespace, secretName, err))
	}

	creds := &logbus.Credentials{
		Username: string(secret.Data[sourceSecretKeyUsername]),
		Password: string(secret.Data[sourceSecretKeyPassword]),
	}
	if ca, ok := secret.Data[sourceSecretKeyCACert]; ok {
		creds.CACert = ca
	}
	return creds, nil
}

// clearRemovedSources drops metric series for sources that are in the status
// but no longer in the spec. Checkpoint rows are kept; a source added back
// under the same name resumes where it left off.
func (m *Manager) clearRemovedSources(cluster *logbusv1alpha1.LogbusCluster, sources []logbusv1alpha1.MirrorSource) {
	if len(cluster.Status.Mirroring) == 0 {
		return
	}
	current := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		current[src.Name] = struct{}{}
	}
	metrics := NewMetrics(cluster.Namespace, cluster.Name)
	for _, prev := range cluster.Status.Mirroring {
		if _, ok := current[prev.Name]; !ok {
			metrics.ClearSource(prev.Name)
		}
	}
}

func findSourceStatus(statuses []logbusv1alpha1.MirrorSourceStatus, name string) *logbusv1alpha1.MirrorSourceStatus {
	for i := range statuses {
		if statuses[i].Name == name {
			return &statuses[i]
		}
	}
	return nil
}

// mirroredRecords sums the cumulative record count of every checkpoint row of
// one source.
func mirroredRecords(table *CheckpointTable, source string) int64 {
	sc, ok := table.Sources[source]
	if !ok {
		return 0
	}
	var total int64
	for _, cp := range sc.Partitions {
		total += cp.Records
	}
	return total
}
