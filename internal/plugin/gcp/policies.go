package gcp

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"github.com/yairfalse/rpe/pkg/resource"
	"github.com/yairfalse/rpe/policy"
)

// Policy ids of the pack.
const (
	BucketVersioning             = "gcp_bucket_versioning"
	BucketPublicAccessPrevention = "gcp_bucket_public_access_prevention"
	FirewallNoOpenSSH            = "gcp_firewall_no_open_ssh"
	SQLRequireSSL                = "gcp_sql_require_ssl"
	RedisAuthEnabled             = "gcp_redis_auth_enabled"
)

// fixes are the patch bodies that bring a resource back into compliance.
var fixes = map[string]map[string]any{
	BucketVersioning: {
		"versioning": map[string]any{"enabled": true},
	},
	BucketPublicAccessPrevention: {
		"iamConfiguration": map[string]any{"publicAccessPrevention": "enforced"},
	},
	FirewallNoOpenSSH: {
		"disabled": true,
	},
	SQLRequireSSL: {
		"settings": map[string]any{"ipConfiguration": map[string]any{"requireSsl": true}},
	},
}

func bucketVersioning() policy.Definition {
	return policy.Definition{
		ID:             BucketVersioning,
		AppliesTo:      []resource.Type{resource.StorageBucket},
		Description:    "Storage buckets must have object versioning enabled",
		Attributes:     map[string]any{"severity": "medium"},
		ShouldEvaluate: hasData,
		Check: policy.EvaluateWith(func(ctx context.Context, r *resource.Resource) (policy.Result, error) {
			data := r.Data(ctx)
			excluded, _ := exempt(ctx, r)
			return policy.Result{
				Compliant: isTrue(data, "versioning.enabled"),
				Attributes: map[string]any{
					policy.AttrExcluded: excluded,
					"storage_class":     lookup(data, "storageClass"),
				},
			}, nil
		}),
	}
}

func bucketPublicAccessPrevention() policy.Definition {
	return policy.Definition{
		ID:             BucketPublicAccessPrevention,
		AppliesTo:      []resource.Type{resource.StorageBucket},
		Description:    "Storage buckets must enforce public access prevention",
		Attributes:     map[string]any{"severity": "high"},
		ShouldEvaluate: hasData,
		Check: policy.CompliantExcluded(func(ctx context.Context, r *resource.Resource) (bool, error) {
			return lookup(r.Data(ctx), "iamConfiguration.publicAccessPrevention") == "enforced", nil
		}, exempt),
	}
}

// firewallNoOpenSSH skips disabled rules; they admit nothing.
func firewallNoOpenSSH() policy.Definition {
	return policy.Definition{
		ID:          FirewallNoOpenSSH,
		AppliesTo:   []resource.Type{resource.ComputeFirewall},
		Description: "Ingress firewall rules must not expose port 22 to the internet",
		Attributes:  map[string]any{"severity": "critical"},
		ShouldEvaluate: func(ctx context.Context, r *resource.Resource) (bool, error) {
			data := r.Data(ctx)
			return len(data) > 0 && !isTrue(data, "disabled"), nil
		},
		Check: policy.EvaluateWith(func(ctx context.Context, r *resource.Resource) (policy.Result, error) {
			open := opensSSHToWorld(r.Data(ctx))
			return policy.Result{
				Compliant:  !open,
				Attributes: map[string]any{"open_ssh": open},
			}, nil
		}),
	}
}

func opensSSHToWorld(data map[string]any) bool {
	if dir, _ := data["direction"].(string); dir != "" && dir != "INGRESS" {
		return false
	}

	ranges, _ := data["sourceRanges"].([]any)
	if !slices.Contains(ranges, any("0.0.0.0/0")) && !slices.Contains(ranges, any("::/0")) {
		return false
	}

	allowed, _ := data["allowed"].([]any)
	for _, a := range allowed {
		rule, _ := a.(map[string]any)
		proto, _ := rule["IPProtocol"].(string)
		if proto != "tcp" && proto != "all" {
			continue
		}
		ports, _ := rule["ports"].([]any)
		if len(ports) == 0 {
			return true
		}
		for _, p := range ports {
			if s, _ := p.(string); portInRange(s, 22) {
				return true
			}
		}
	}
	return false
}

// portInRange matches "22" or "1-1024" style entries.
func portInRange(spec string, port int) bool {
	lo, hi, found := strings.Cut(spec, "-")
	if !found {
		hi = lo
	}
	l, err := strconv.Atoi(lo)
	if err != nil {
		return false
	}
	h, err := strconv.Atoi(hi)
	if err != nil {
		return false
	}
	return l <= port && port <= h
}

func sqlRequireSSL() policy.Definition {
	return policy.Definition{
		ID:             SQLRequireSSL,
		AppliesTo:      []resource.Type{resource.SQLInstance},
		Description:    "Cloud SQL instances must require SSL connections",
		Attributes:     map[string]any{"severity": "high"},
		ShouldEvaluate: hasData,
		Check: policy.CompliantExcluded(func(ctx context.Context, r *resource.Resource) (bool, error) {
			data := r.Data(ctx)
			if isTrue(data, "settings.ipConfiguration.requireSsl") {
				return true, nil
			}
			mode, _ := lookup(data, "settings.ipConfiguration.sslMode").(string)
			return mode == "ENCRYPTED_ONLY" || mode == "TRUSTED_CLIENT_CERTIFICATE_REQUIRED", nil
		}, func(ctx context.Context, r *resource.Resource) (bool, error) {
			labels, _ := lookup(r.Data(ctx), "settings.userLabels").(map[string]any)
			return labels[ExemptLabel] == "true", nil
		}),
	}
}

func redisAuthEnabled() policy.Definition {
	return policy.Definition{
		ID:          RedisAuthEnabled,
		AppliesTo:   []resource.Type{resource.RedisInstance},
		Description: "Memorystore Redis instances must require AUTH",
		Attributes:  map[string]any{"severity": "medium"},
		Check: policy.EvaluateWith(func(ctx context.Context, r *resource.Resource) (policy.Result, error) {
			data := r.Data(ctx)
			return policy.Result{
				Compliant: isTrue(data, "authEnabled"),
				Attributes: map[string]any{
					policy.AttrExcluded: exemptLabels(data),
					"tier":              lookup(data, "tier"),
				},
			}, nil
		}),
	}
}

func exemptLabels(data map[string]any) bool {
	labels, _ := data["labels"].(map[string]any)
	return labels[ExemptLabel] == "true"
}
