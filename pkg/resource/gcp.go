package resource

// Google Cloud resource types.
const (
	AppEngineInstance    Type = "appengine.googleapis.com/Instance"
	BigQueryDataset      Type = "bigquery.googleapis.com/Dataset"
	BigtableInstance     Type = "bigtableadmin.googleapis.com/Instance"
	CloudFunction        Type = "cloudfunctions.googleapis.com/CloudFunction"
	ComputeDisk          Type = "compute.googleapis.com/Disk"
	ComputeRegionDisk    Type = "compute.googleapis.com/RegionDisk"
	ComputeInstance      Type = "compute.googleapis.com/Instance"
	ComputeFirewall      Type = "compute.googleapis.com/Firewall"
	ComputeNetwork       Type = "compute.googleapis.com/Network"
	ComputeSubnetwork    Type = "compute.googleapis.com/Subnetwork"
	GKECluster           Type = "container.googleapis.com/Cluster"
	GKENodePool          Type = "container.googleapis.com/NodePool"
	Organization         Type = "cloudresourcemanager.googleapis.com/Organization"
	Project              Type = "cloudresourcemanager.googleapis.com/Project"
	ProjectService       Type = "serviceusage.googleapis.com/Service"
	DataflowJob          Type = "dataflow.googleapis.com/Job"
	DataformRepository   Type = "dataform.googleapis.com/Repository"
	DataformWorkspace    Type = "dataform.googleapis.com/Workspace"
	DatafusionInstance   Type = "datafusion.googleapis.com/Instance"
	DataprocCluster      Type = "dataproc.googleapis.com/Cluster"
	IAMServiceAccount    Type = "iam.googleapis.com/ServiceAccount"
	IAMServiceAccountKey Type = "iam.googleapis.com/ServiceAccountKey"
	MemcacheInstance     Type = "memcache.googleapis.com/Instance"
	PubsubSubscription   Type = "pubsub.googleapis.com/Subscription"
	PubsubTopic          Type = "pubsub.googleapis.com/Topic"
	RedisInstance        Type = "redis.googleapis.com/Instance"
	SQLInstance          Type = "sqladmin.googleapis.com/Instance"
	StorageBucket        Type = "storage.googleapis.com/Bucket"
)

var (
	projectScoped = []string{FieldProjectID}
	located       = []string{FieldProjectID, FieldLocation}
)

// GCPDescriptors returns the built-in Google Cloud catalogue.
func GCPDescriptors() []Descriptor {
	return []Descriptor{
		{
			Type:         AppEngineInstance,
			NameTemplate: "//appengine.googleapis.com/apps/{app}/services/{service}/versions/{version}/instances/{name}",
			Optional:     projectScoped,
			Uniquifier:   "startTime",
			Parent:       FieldVersion,
			Endpoint: &Endpoint{
				Host: "https://appengine.googleapis.com",
				Path: "/v1/apps/{app}/services/{service}/versions/{version}/instances/{name}",
			},
		},
		{
			Type:         BigQueryDataset,
			NameTemplate: "//bigquery.googleapis.com/projects/{project_id}/datasets/{name}",
			Uniquifier:   "id",
			Endpoint: &Endpoint{
				Host: "https://bigquery.googleapis.com",
				Path: "/bigquery/v2/projects/{project_id}/datasets/{name}",
			},
		},
		{
			Type:         BigtableInstance,
			NameTemplate: "//bigtable.googleapis.com/projects/{project_id}/instances/{name}",
			Endpoint: &Endpoint{
				Host: "https://bigtableadmin.googleapis.com",
				Path: "/v2/projects/{project_id}/instances/{name}",
			},
		},
		{
			Type:         CloudFunction,
			NameTemplate: "//cloudfunctions.googleapis.com/projects/{project_id}/locations/{location}/functions/{name}",
			Endpoint: &Endpoint{
				Host: "https://cloudfunctions.googleapis.com",
				Path: "/v1/projects/{project_id}/locations/{location}/functions/{name}",
			},
		},
		{
			Type:         ComputeDisk,
			NameTemplate: "//compute.googleapis.com/projects/{project_id}/zones/{location}/disks/{name}",
			Uniquifier:   "id",
			Endpoint: &Endpoint{
				Host: "https://compute.googleapis.com",
				Path: "/compute/v1/projects/{project_id}/zones/{location}/disks/{name}",
			},
		},
		{
			Type:         ComputeRegionDisk,
			NameTemplate: "//compute.googleapis.com/projects/{project_id}/regions/{location}/disks/{name}",
			Uniquifier:   "id",
			Endpoint: &Endpoint{
				Host: "https://compute.googleapis.com",
				Path: "/compute/v1/projects/{project_id}/regions/{location}/disks/{name}",
			},
		},
		{
			Type:         ComputeInstance,
			NameTemplate: "//compute.googleapis.com/projects/{project_id}/zones/{location}/instances/{name}",
			Uniquifier:   "id",
			Endpoint: &Endpoint{
				Host: "https://compute.googleapis.com",
				Path: "/compute/v1/projects/{project_id}/zones/{location}/instances/{name}",
			},
		},
		{
			Type:         ComputeFirewall,
			NameTemplate: "//compute.googleapis.com/projects/{project_id}/global/firewalls/{name}",
			Uniquifier:   "id",
			Endpoint: &Endpoint{
				Host: "https://compute.googleapis.com",
				Path: "/compute/v1/projects/{project_id}/global/firewalls/{name}",
			},
		},
		{
			Type:         ComputeNetwork,
			NameTemplate: "//compute.googleapis.com/projects/{project_id}/global/networks/{name}",
			Uniquifier:   "id",
			Endpoint: &Endpoint{
				Host: "https://compute.googleapis.com",
				Path: "/compute/v1/projects/{project_id}/global/networks/{name}",
			},
		},
		{
			Type:         ComputeSubnetwork,
			NameTemplate: "//compute.googleapis.com/projects/{project_id}/regions/{location}/subnetworks/{name}",
			Uniquifier:   "id",
			Endpoint: &Endpoint{
				Host: "https://compute.googleapis.com",
				Path: "/compute/v1/projects/{project_id}/regions/{location}/subnetworks/{name}",
			},
		},
		{
			Type:         GKECluster,
			NameTemplate: "//container.googleapis.com/projects/{project_id}/locations/{location}/clusters/{name}",
			Uniquifier:   "id",
			Endpoint: &Endpoint{
				Host: "https://container.googleapis.com",
				Path: "/v1/projects/{project_id}/locations/{location}/clusters/{name}",
			},
		},
		{
			Type:         GKENodePool,
			NameTemplate: "//container.googleapis.com/projects/{project_id}/locations/{location}/clusters/{cluster}/nodePools/{name}",
			Parent:       FieldCluster,
			Endpoint: &Endpoint{
				Host: "https://container.googleapis.com",
				Path: "/v1/projects/{project_id}/locations/{location}/clusters/{cluster}/nodePools/{name}",
			},
		},
		{
			Type:         Organization,
			NameTemplate: "//cloudresourcemanager.googleapis.com/organizations/{name}",
			Endpoint: &Endpoint{
				Host: "https://cloudresourcemanager.googleapis.com",
				Path: "/v1/organizations/{name}",
			},
		},
		{
			Type:         Project,
			NameTemplate: "//cloudresourcemanager.googleapis.com/projects/{name}",
			Defaults:     map[string]string{FieldProjectID: FieldName},
			Uniquifier:   "projectNumber",
			Endpoint: &Endpoint{
				Host: "https://cloudresourcemanager.googleapis.com",
				Path: "/v1/projects/{name}",
			},
		},
		{
			Type:         ProjectService,
			NameTemplate: "//serviceusage.googleapis.com/projects/{project_id}/services/{name}",
			Endpoint: &Endpoint{
				Host: "https://serviceusage.googleapis.com",
				Path: "/v1/projects/{project_id}/services/{name}",
			},
		},
		{
			Type:         DataflowJob,
			NameTemplate: "//dataflow.googleapis.com/projects/{project_id}/locations/{location}/jobs/{name}",
			Uniquifier:   "id",
			Endpoint: &Endpoint{
				Host: "https://dataflow.googleapis.com",
				Path: "/v1b3/projects/{project_id}/locations/{location}/jobs/{name}",
			},
		},
		{
			Type:         DataformRepository,
			NameTemplate: "//dataform.googleapis.com/projects/{project_id}/locations/{location}/repositories/{name}",
			Uniquifier:   "createTime",
			Endpoint: &Endpoint{
				Host: "https://dataform.googleapis.com",
				Path: "/v1beta1/projects/{project_id}/locations/{location}/repositories/{name}",
			},
		},
		{
			Type:         DataformWorkspace,
			NameTemplate: "//dataform.googleapis.com/projects/{project_id}/locations/{location}/repositories/{repository}/workspaces/{name}",
			Uniquifier:   "createTime",
			Parent:       FieldRepository,
			Endpoint: &Endpoint{
				Host: "https://dataform.googleapis.com",
				Path: "/v1beta1/projects/{project_id}/locations/{location}/repositories/{repository}/workspaces/{name}",
			},
		},
		{
			Type:         DatafusionInstance,
			NameTemplate: "//datafusion.googleapis.com/projects/{project_id}/locations/{location}/instances/{name}",
			Uniquifier:   "createTime",
			Endpoint: &Endpoint{
				Host: "https://datafusion.googleapis.com",
				Path: "/v1/projects/{project_id}/locations/{location}/instances/{name}",
			},
		},
		{
			Type:         DataprocCluster,
			NameTemplate: "//dataproc.googleapis.com/projects/{project_id}/regions/{location}/clusters/{name}",
			Uniquifier:   "clusterUuid",
			Endpoint: &Endpoint{
				Host: "https://dataproc.googleapis.com",
				Path: "/v1/projects/{project_id}/regions/{location}/clusters/{name}",
			},
		},
		{
			Type:         IAMServiceAccount,
			NameTemplate: "//iam.googleapis.com/projects/{project_id}/serviceAccounts/{name}",
			Uniquifier:   "uniqueId",
			Endpoint: &Endpoint{
				Host: "https://iam.googleapis.com",
				Path: "/v1/projects/{project_id}/serviceAccounts/{name}",
			},
		},
		{
			Type:         IAMServiceAccountKey,
			NameTemplate: "//iam.googleapis.com/projects/{project_id}/serviceAccounts/{service_account}/keys/{name}",
			Parent:       FieldAccount,
			Endpoint: &Endpoint{
				Host: "https://iam.googleapis.com",
				Path: "/v1/projects/{project_id}/serviceAccounts/{service_account}/keys/{name}",
			},
		},
		{
			Type:         MemcacheInstance,
			NameTemplate: "//memcache.googleapis.com/projects/{project_id}/locations/{region}/instances/{name}",
			Uniquifier:   "createTime",
			Endpoint: &Endpoint{
				Host: "https://memcache.googleapis.com",
				Path: "/v1/projects/{project_id}/locations/{region}/instances/{name}",
			},
		},
		{
			Type:         PubsubSubscription,
			NameTemplate: "//pubsub.googleapis.com/projects/{project_id}/subscriptions/{name}",
			Endpoint: &Endpoint{
				Host: "https://pubsub.googleapis.com",
				Path: "/v1/projects/{project_id}/subscriptions/{name}",
			},
		},
		{
			Type:         PubsubTopic,
			NameTemplate: "//pubsub.googleapis.com/projects/{project_id}/topics/{name}",
			Endpoint: &Endpoint{
				Host: "https://pubsub.googleapis.com",
				Path: "/v1/projects/{project_id}/topics/{name}",
			},
		},
		{
			Type:         RedisInstance,
			NameTemplate: "//redis.googleapis.com/projects/{project_id}/locations/{region}/instances/{name}",
			Uniquifier:   "createTime",
			Endpoint: &Endpoint{
				Host: "https://redis.googleapis.com",
				Path: "/v1/projects/{project_id}/locations/{region}/instances/{name}",
			},
		},
		{
			Type:         SQLInstance,
			NameTemplate: "//cloudsql.googleapis.com/projects/{project_id}/instances/{name}",
			Optional:     []string{FieldLocation},
			Endpoint: &Endpoint{
				Host: "https://sqladmin.googleapis.com",
				Path: "/v1/projects/{project_id}/instances/{name}",
			},
		},
		{
			Type: StorageBucket,
			// Asset inventory omits the buckets collection; both forms are accepted.
			NameTemplate:     "//storage.googleapis.com/{name}",
			AltNameTemplates: []string{"//storage.googleapis.com/buckets/{name}"},
			Optional:         located,
			Uniquifier:       "timeCreated",
			Endpoint: &Endpoint{
				Host: "https://storage.googleapis.com",
				Path: "/storage/v1/b/{name}",
			},
		},
	}
}
