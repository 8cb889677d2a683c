package extractor

import (
	"strings"

	"github.com/yairfalse/rpe/pkg/resource"
)

// rule maps one audit log resource type (and method filter) to the
// canonical resources it touched. Rules are tried in order and the first
// match wins, even when it builds nothing.
type rule struct {
	resourceType string
	match        func(e *entry) bool
	build        func(e *entry) []target
}

type target struct {
	typ    resource.Type
	fields resource.Fields
}

// Managed instance group VMs for App Engine flex carry these prefixes.
var reservedInstancePrefixes = []string{"aef-", "aet-"}

var auditLogRules = []rule{
	{"cloudsql_database", methodPrefix("cloudsql.instances"), sqlInstance},
	{"gcs_bucket", methodPrefix("storage.buckets", "storage.setIamPermissions"), bucket},
	{"bigquery_dataset", methodContains("DatasetService", "etIamPolicy"), dataset},
	{"project", methodContains("etIamPolicy"), project},
	{"pubsub_subscription", methodContains("etIamPolicy"), pubsubByLabel(resource.PubsubSubscription, "subscription_id")},
	{"pubsub_topic", methodContains("etIamPolicy"), pubsubByLabel(resource.PubsubTopic, "topic_id")},
	{"audited_resource", methodContains("EnableService", "DisableService", "ctivateService"), services},
	{"gce_network", anyMethod, globalByResourceName(resource.ComputeNetwork)},
	{"gce_subnetwork", anyMethod, subnetwork},
	{"gce_firewall_rule", anyMethod, globalByResourceName(resource.ComputeFirewall)},
	{"gae_app", methodContains("DebugInstance"), appEngineInstance},
	{"gce_instance", anyMethod, computeInstance},
	{"cloud_function", anyMethod, cloudFunction},
	{"cloud_dataproc_cluster", anyMethod, dataprocCluster},
	{"gke_cluster", anyMethod, gkeCluster},
	{"gke_nodepool", anyMethod, gkeNodePool},
	{"audited_resource", methodContains("BigtableInstanceAdmin"), bigtableInstance},
	{"dataflow_step", methodContains("create"), dataflowJob},
	{"audited_resource", methodContains("CloudRedis"), redisInstance},
	{"audited_resource", serviceLabel("datafusion.googleapis.com"), datafusionInstance},
	{"audited_resource", serviceLabel("dataform.googleapis.com"), dataformResource},
}

func anyMethod(*entry) bool { return true }

func methodPrefix(prefixes ...string) func(*entry) bool {
	return func(e *entry) bool {
		return hasAnyPrefix(e.method, prefixes)
	}
}

func methodContains(subs ...string) func(*entry) bool {
	return func(e *entry) bool {
		for _, s := range subs {
			if strings.Contains(e.method, s) {
				return true
			}
		}
		return false
	}
}

func serviceLabel(service string) func(*entry) bool {
	return func(e *entry) bool {
		return e.label("service") == service
	}
}

func fields(project, location, name string) resource.Fields {
	return resource.Fields{
		resource.FieldProjectID: project,
		resource.FieldLocation:  location,
		resource.FieldName:      name,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func resourceNameParts(e *entry) []string {
	return strings.Split(e.str("protoPayload.resourceName"), "/")
}

func resourceNameLast(e *entry) string {
	return lastSegment(e.str("protoPayload.resourceName"), "/")
}

func sqlInstance(e *entry) []target {
	var name string
	if id := e.label("database_id"); id != "" {
		name = lastSegment(id, ":")
	}
	name = firstNonEmpty(
		name,
		e.str("protoPayload.request.body.name"),
		e.str("protoPayload.request.resource.instanceName.instanceId"),
	)
	return []target{{resource.SQLInstance, fields(e.label("project_id"), e.label("region"), name)}}
}

func bucket(e *entry) []target {
	return []target{{resource.StorageBucket, fields(e.label("project_id"), e.label("location"), e.label("bucket_name"))}}
}

func dataset(e *entry) []target {
	return []target{{resource.BigQueryDataset, fields(e.label("project_id"), "", e.label("dataset_id"))}}
}

func project(e *entry) []target {
	return []target{{resource.Project, resource.Fields{resource.FieldName: e.label("project_id")}}}
}

func pubsubByLabel(t resource.Type, label string) func(*entry) []target {
	return func(e *entry) []target {
		name := lastSegment(e.label(label), "/")
		return []target{{t, fields(e.label("project_id"), "", name)}}
	}
}

func services(e *entry) []target {
	projectID := e.label("project_id")

	var names []string
	ids := e.list("protoPayload.request.serviceIds")
	if len(ids) == 0 {
		ids = e.list("protoPayload.request.serviceNames")
	}
	for _, id := range ids {
		if s, ok := id.(string); ok && s != "" {
			names = append(names, s)
		}
	}
	if len(names) == 0 {
		names = append(names, firstNonEmpty(resourceNameLast(e), e.label("service")))
	}

	out := make([]target, 0, len(names))
	for _, n := range names {
		out = append(out, target{resource.ProjectService, fields(projectID, "", n)})
	}
	return out
}

func globalByResourceName(t resource.Type) func(*entry) []target {
	return func(e *entry) []target {
		return []target{{t, fields(e.label("project_id"), "", resourceNameLast(e))}}
	}
}

func subnetwork(e *entry) []target {
	return []target{{resource.ComputeSubnetwork, fields(e.label("project_id"), e.label("location"), e.label("subnetwork_name"))}}
}

// apps/{app}/services/{service}/versions/{version}/instances/{name}
func appEngineInstance(e *entry) []target {
	bits := resourceNameParts(e)
	if len(bits) < 8 {
		return nil
	}
	return []target{{resource.AppEngineInstance, resource.Fields{
		resource.FieldProjectID: e.label("project_id"),
		resource.FieldApp:       bits[1],
		resource.FieldService:   bits[3],
		resource.FieldVersion:   bits[5],
		resource.FieldName:      bits[len(bits)-1],
	}}}
}

func computeInstance(e *entry) []target {
	projectID := e.label("project_id")
	zone := e.label("zone")
	name := resourceNameLast(e)

	if hasAnyPrefix(name, reservedInstancePrefixes) {
		return nil
	}

	out := []target{{resource.ComputeInstance, fields(projectID, zone, name)}}

	for _, d := range e.list("protoPayload.request.disks") {
		diskName := firstNonEmpty(
			stringAt(d, "initializeParams.diskName"),
			bootDiskName(d, name),
			stringAt(d, "deviceName"),
		)
		if diskName == "" {
			continue
		}
		out = append(out, target{resource.ComputeDisk, fields(projectID, zone, diskName)})
	}
	return out
}

// A boot disk created without an explicit name takes the instance name.
func bootDiskName(disk any, instance string) string {
	if boot, _ := lookup(disk, "boot").(bool); boot {
		return instance
	}
	return ""
}

func cloudFunction(e *entry) []target {
	return []target{{resource.CloudFunction, fields(e.label("project_id"), e.label("region"), e.label("function_name"))}}
}

func dataprocCluster(e *entry) []target {
	return []target{{resource.DataprocCluster, fields(e.label("project_id"), e.label("region"), e.label("cluster_name"))}}
}

func gkeCluster(e *entry) []target {
	projectID := e.label("project_id")
	location := e.label("location")
	cluster := e.label("cluster_name")

	out := []target{{resource.GKECluster, fields(projectID, location, cluster)}}

	if !strings.Contains(strings.ToLower(e.method), "create") {
		return out
	}
	for _, np := range e.list("protoPayload.request.cluster.nodePools") {
		name := stringAt(np, "name")
		if name == "" {
			continue
		}
		f := fields(projectID, location, name)
		f[resource.FieldCluster] = cluster
		out = append(out, target{resource.GKENodePool, f})
	}
	return out
}

func gkeNodePool(e *entry) []target {
	f := fields(e.label("project_id"), e.label("location"), e.label("nodepool_name"))
	f[resource.FieldCluster] = e.label("cluster_name")
	return []target{{resource.GKENodePool, f}}
}

func bigtableInstance(e *entry) []target {
	return []target{{resource.BigtableInstance, fields(e.label("project_id"), "", resourceNameLast(e))}}
}

func dataflowJob(e *entry) []target {
	name := firstNonEmpty(e.str("protoPayload.request.job_id"), e.label("job_id"))
	return []target{{resource.DataflowJob, fields(e.label("project_id"), e.label("region"), name)}}
}

func redisInstance(e *entry) []target {
	location := e.str("protoPayload.resourceLocation.currentLocations[0]")
	return []target{{resource.RedisInstance, fields(e.label("project_id"), location, resourceNameLast(e))}}
}

// projects/{project}/locations/{location}/instances/{name}
func datafusionInstance(e *entry) []target {
	bits := resourceNameParts(e)
	if len(bits) < 6 {
		return nil
	}
	return []target{{resource.DatafusionInstance, fields(bits[1], bits[3], bits[5])}}
}

// projects/{project}/locations/{location}/repositories/{repository}[/workspaces/{name}]
func dataformResource(e *entry) []target {
	bits := resourceNameParts(e)
	switch {
	case len(bits) == 6 && bits[4] == "repositories":
		return []target{{resource.DataformRepository, fields(bits[1], bits[3], bits[5])}}
	case len(bits) == 8 && bits[6] == "workspaces":
		f := fields(bits[1], bits[3], bits[7])
		f[resource.FieldRepository] = bits[5]
		return []target{{resource.DataformWorkspace, f}}
	default:
		return nil
	}
}
