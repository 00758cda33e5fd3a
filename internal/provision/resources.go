package provision

import (
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	netv1 "k8s.io/api/networking/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"

	platformv1alpha1 "github.com/shieldx-bot/tenant-platform/api/v1alpha1"
)

const (
	LabelManagedBy  = "app.kubernetes.io/managed-by"
	LabelTenantID   = "tenant-id"
	LabelTenantTier = "tenant-tier"
	LabelCostCenter = "cost-center"

	AnnotationTenantName  = "tenant-name"
	AnnotationTenantEmail = "tenant-email"

	ManagedBy = "tenant-platform"
)

// Fixed object names inside every tenant namespace.
const (
	QuotaName            = "tenant-quota"
	DenyAllIngressPolicy = "deny-all-ingress"
	AllowInternalPolicy  = "allow-internal"
	AllowMonitoringRule  = "allow-monitoring"
	AdminRoleName        = "tenant-admin"
	ViewerRoleName       = "tenant-user"
	DatabaseClaimName    = "postgres-pvc"
	DatabaseSecretName   = "postgres-secret"
	DatabaseName         = "postgres"
	DatabasePort         = 5432

	databaseVolume = "postgres-storage"
	databaseUID    = 999
)

func namespaceFor(t *platformv1alpha1.Tenant) *corev1.Namespace {
	return &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name: t.Namespace,
			Labels: map[string]string{
				LabelManagedBy:  ManagedBy,
				LabelTenantID:   t.ID,
				LabelTenantTier: string(t.Tier),
				LabelCostCenter: t.ID,
			},
			Annotations: map[string]string{
				AnnotationTenantName:  t.Name,
				AnnotationTenantEmail: t.Email,
			},
		},
	}
}

func resourceQuotaFor(t *platformv1alpha1.Tenant, o Options) *corev1.ResourceQuota {
	return &corev1.ResourceQuota{
		ObjectMeta: metav1.ObjectMeta{
			Name:      QuotaName,
			Namespace: t.Namespace,
			Labels:    ownedLabels(t),
		},
		Spec: corev1.ResourceQuotaSpec{
			Hard: corev1.ResourceList{
				corev1.ResourceRequestsCPU:            t.Quota.CPU.DeepCopy(),
				corev1.ResourceRequestsMemory:         t.Quota.Memory.DeepCopy(),
				corev1.ResourceRequestsStorage:        t.Quota.Storage.DeepCopy(),
				corev1.ResourcePersistentVolumeClaims: *resource.NewQuantity(o.MaxPersistentVolumeClaims, resource.DecimalSI),
				corev1.ResourcePods:                   *resource.NewQuantity(o.MaxPods, resource.DecimalSI),
				corev1.ResourceServices:               *resource.NewQuantity(o.MaxServices, resource.DecimalSI),
			},
		},
	}
}

// networkPoliciesFor returns the isolation rules: deny all ingress, then
// re-allow traffic from the same namespace and from the observability
// namespace.
func networkPoliciesFor(t *platformv1alpha1.Tenant, o Options) []*netv1.NetworkPolicy {
	ingressOnly := []netv1.PolicyType{netv1.PolicyTypeIngress}

	return []*netv1.NetworkPolicy{
		{
			ObjectMeta: metav1.ObjectMeta{Name: DenyAllIngressPolicy, Namespace: t.Namespace, Labels: ownedLabels(t)},
			Spec: netv1.NetworkPolicySpec{
				PodSelector: metav1.LabelSelector{},
				PolicyTypes: ingressOnly,
			},
		},
		{
			ObjectMeta: metav1.ObjectMeta{Name: AllowInternalPolicy, Namespace: t.Namespace, Labels: ownedLabels(t)},
			Spec: netv1.NetworkPolicySpec{
				PodSelector: metav1.LabelSelector{},
				PolicyTypes: ingressOnly,
				Ingress: []netv1.NetworkPolicyIngressRule{{
					// Empty pod selector without namespace selector means
					// "all pods of this namespace".
					From: []netv1.NetworkPolicyPeer{{PodSelector: &metav1.LabelSelector{}}},
				}},
			},
		},
		{
			ObjectMeta: metav1.ObjectMeta{Name: AllowMonitoringRule, Namespace: t.Namespace, Labels: ownedLabels(t)},
			Spec: netv1.NetworkPolicySpec{
				PodSelector: metav1.LabelSelector{},
				PolicyTypes: ingressOnly,
				Ingress: []netv1.NetworkPolicyIngressRule{{
					From: []netv1.NetworkPolicyPeer{{
						NamespaceSelector: &metav1.LabelSelector{
							MatchLabels: map[string]string{corev1.LabelMetadataName: o.ObservabilityNamespace},
						},
					}},
				}},
			},
		},
	}
}

// rolesFor returns namespace-scoped roles only, so neither of them can grant
// anything outside the tenant namespace.
func rolesFor(t *platformv1alpha1.Tenant) []*rbacv1.Role {
	return []*rbacv1.Role{
		{
			ObjectMeta: metav1.ObjectMeta{Name: AdminRoleName, Namespace: t.Namespace, Labels: ownedLabels(t)},
			Rules: []rbacv1.PolicyRule{{
				APIGroups: []string{"", "apps", "batch"},
				Resources: []string{rbacv1.ResourceAll},
				Verbs:     []string{rbacv1.VerbAll},
			}},
		},
		{
			ObjectMeta: metav1.ObjectMeta{Name: ViewerRoleName, Namespace: t.Namespace, Labels: ownedLabels(t)},
			Rules: []rbacv1.PolicyRule{{
				APIGroups: []string{"", "apps"},
				Resources: []string{"pods", "services", "deployments"},
				Verbs:     []string{"get", "list", "watch"},
			}},
		},
	}
}

func storageClaimFor(t *platformv1alpha1.Tenant, o Options) *corev1.PersistentVolumeClaim {
	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      DatabaseClaimName,
			Namespace: t.Namespace,
			Labels:    databaseLabels(t),
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: o.Database.StorageSize.DeepCopy(),
				},
			},
		},
	}
	if o.Database.StorageClass != "" {
		pvc.Spec.StorageClassName = ptr.To(o.Database.StorageClass)
	}
	return pvc
}

func databaseSecretFor(t *platformv1alpha1.Tenant, password string) *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      DatabaseSecretName,
			Namespace: t.Namespace,
			Labels:    databaseLabels(t),
		},
		Type: corev1.SecretTypeOpaque,
		Data: map[string][]byte{
			"password": []byte(password),
		},
	}
}

func deploymentFor(t *platformv1alpha1.Tenant, o Options) *appsv1.Deployment {
	selector := map[string]string{"app": DatabaseName}

	requests := corev1.ResourceList{}
	limits := corev1.ResourceList{}
	setIfPositive(requests, corev1.ResourceCPU, o.Database.RequestsCPU)
	setIfPositive(requests, corev1.ResourceMemory, o.Database.RequestsMemory)
	setIfPositive(limits, corev1.ResourceCPU, o.Database.LimitsCPU)
	setIfPositive(limits, corev1.ResourceMemory, o.Database.LimitsMemory)

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      DatabaseName,
			Namespace: t.Namespace,
			Labels:    databaseLabels(t),
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To[int32](1),
			Selector: &metav1.LabelSelector{MatchLabels: selector},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: databaseLabels(t)},
				Spec: corev1.PodSpec{
					SecurityContext: &corev1.PodSecurityContext{
						RunAsNonRoot: ptr.To(true),
						RunAsUser:    ptr.To[int64](databaseUID),
						FSGroup:      ptr.To[int64](databaseUID),
					},
					Containers: []corev1.Container{{
						Name:  DatabaseName,
						Image: o.Database.Image,
						Env: []corev1.EnvVar{
							{Name: "POSTGRES_DB", Value: o.Database.Name},
							{Name: "POSTGRES_USER", Value: o.Database.User},
							{
								Name: "POSTGRES_PASSWORD",
								ValueFrom: &corev1.EnvVarSource{
									SecretKeyRef: &corev1.SecretKeySelector{
										LocalObjectReference: corev1.LocalObjectReference{Name: DatabaseSecretName},
										Key:                  "password",
									},
								},
							},
						},
						Ports: []corev1.ContainerPort{{Name: DatabaseName, ContainerPort: DatabasePort}},
						VolumeMounts: []corev1.VolumeMount{{
							Name:      databaseVolume,
							MountPath: "/var/lib/postgresql/data",
							SubPath:   "postgres",
						}},
						Resources: corev1.ResourceRequirements{Requests: requests, Limits: limits},
					}},
					Volumes: []corev1.Volume{{
						Name: databaseVolume,
						VolumeSource: corev1.VolumeSource{
							PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: DatabaseClaimName},
						},
					}},
				},
			},
		},
	}
}

func serviceFor(t *platformv1alpha1.Tenant) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      DatabaseName,
			Namespace: t.Namespace,
			Labels:    databaseLabels(t),
		},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{"app": DatabaseName},
			Ports: []corev1.ServicePort{{
				Name:       DatabaseName,
				Port:       DatabasePort,
				TargetPort: intstr.FromInt32(DatabasePort),
			}},
		},
	}
}

func ownedLabels(t *platformv1alpha1.Tenant) map[string]string {
	return map[string]string{
		LabelManagedBy: ManagedBy,
		LabelTenantID:  t.ID,
	}
}

func databaseLabels(t *platformv1alpha1.Tenant) map[string]string {
	l := ownedLabels(t)
	l["app"] = DatabaseName
	return l
}

func setIfPositive(list corev1.ResourceList, name corev1.ResourceName, q resource.Quantity) {
	if q.Sign() > 0 {
		list[name] = q.DeepCopy()
	}
}
