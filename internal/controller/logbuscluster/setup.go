package logbuscluster

import (
	"time"

	"golang.org/x/time/rate"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/util/workqueue"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/controller"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
	"github.com/logbus-io/logbus-operator/internal/security"
)

// SetupWithManager registers the controller with the manager. Ownership
// watches on the StatefulSet, Services, and ConfigMaps make reconciliation
// event-driven: a broker pod going unready or a state-table write by another
// operator replica triggers a pass without waiting for the safety net.
func (r *LogbusClusterReconciler) SetupWithManager(mgr ctrl.Manager) error {
	// One verifier per process so its digest cache survives across
	// reconciles.
	r.Verifier = security.NewImageVerifier(
		mgr.GetLogger().WithName("image-verifier"),
		r.Client,
	)

	rateLimiter := workqueue.NewTypedMaxOfRateLimiter(
		workqueue.NewTypedItemExponentialFailureRateLimiter[ctrl.Request](1*time.Second, 60*time.Second),
		&workqueue.TypedBucketRateLimiter[ctrl.Request]{Limiter: rate.NewLimiter(rate.Limit(10), 100)},
	)

	return ctrl.NewControllerManagedBy(mgr).
		For(&logbusv1alpha1.LogbusCluster{}).
		Owns(&appsv1.StatefulSet{}).
		Owns(&corev1.Service{}).
		Owns(&corev1.ConfigMap{}).
		WithOptions(controller.Options{
			MaxConcurrentReconciles: 3,
			RateLimiter:             rateLimiter,
		}).
		Named(controllerName).
		Complete(r)
}
