package main

import (
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/rpe/extractor"
	"github.com/yairfalse/rpe/pkg/resource"
	"github.com/yairfalse/rpe/policy"
)

type resourceView struct {
	Type     resource.Type     `yaml:"type"`
	FullName string            `yaml:"full_name"`
	Fields   map[string]string `yaml:"fields"`
}

type extractionView struct {
	Metadata  extractor.Metadata `yaml:"metadata"`
	Resources []resourceView     `yaml:"resources"`
}

type evaluationView struct {
	Resource   string         `yaml:"resource"`
	Engine     string         `yaml:"engine"`
	PolicyID   string         `yaml:"policy_id"`
	Compliant  bool           `yaml:"compliant"`
	Excluded   bool           `yaml:"excluded"`
	Remediable bool           `yaml:"remediable"`
	Attributes map[string]any `yaml:"attributes,omitempty"`
}

type problemView struct {
	Resource string `yaml:"resource"`
	Engine   string `yaml:"engine"`
	PolicyID string `yaml:"policy_id"`
	Error    string `yaml:"error,omitempty"`
}

type reportView struct {
	BatchID     string           `yaml:"batch_id"`
	Resources   int              `yaml:"resources"`
	Findings    int              `yaml:"findings"`
	Evaluations []evaluationView `yaml:"evaluations"`
	Skipped     []problemView    `yaml:"skipped,omitempty"`
	Failures    []problemView    `yaml:"failures,omitempty"`
}

type remediationView struct {
	Resource string                   `yaml:"resource"`
	Engine   string                   `yaml:"engine"`
	PolicyID string                   `yaml:"policy_id"`
	Status   policy.RemediationStatus `yaml:"status"`
	Error    string                   `yaml:"error,omitempty"`
}

func viewResource(r *resource.Resource) resourceView {
	return resourceView{
		Type:     r.Type(),
		FullName: r.FullName(),
		Fields:   map[string]string(r.Fields()),
	}
}

func viewExtraction(out *extractor.Extracted) extractionView {
	v := extractionView{
		Metadata:  out.Metadata,
		Resources: make([]resourceView, 0, len(out.Resources)),
	}
	for _, r := range out.Resources {
		v.Resources = append(v.Resources, viewResource(r))
	}
	return v
}

func viewReport(batch *policy.Batch, findingsOnly bool) reportView {
	v := reportView{
		BatchID:     batch.ID,
		Resources:   len(batch.Results),
		Evaluations: []evaluationView{},
	}

	for _, rr := range batch.Results {
		name := rr.Resource.FullName()
		for _, report := range rr.Reports {
			for _, ev := range report.Evaluations {
				if ev.Finding() {
					v.Findings++
				} else if findingsOnly {
					continue
				}
				v.Evaluations = append(v.Evaluations, evaluationView{
					Resource:   name,
					Engine:     report.EngineID,
					PolicyID:   ev.PolicyID,
					Compliant:  ev.Compliant,
					Excluded:   ev.Excluded(),
					Remediable: ev.Remediable,
					Attributes: withoutExcluded(ev.EvaluationAttributes),
				})
			}
			for _, id := range report.Skipped {
				v.Skipped = append(v.Skipped, problemView{Resource: name, Engine: report.EngineID, PolicyID: id})
			}
			for _, f := range report.Failures {
				v.Failures = append(v.Failures, problemView{
					Resource: name,
					Engine:   report.EngineID,
					PolicyID: f.PolicyID,
					Error:    f.Err.Error(),
				})
			}
		}
	}
	return v
}

func withoutExcluded(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, val := range attrs {
		if k != policy.AttrExcluded {
			out[k] = val
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func viewRemediations(rems []policy.Remediation) []remediationView {
	out := make([]remediationView, 0, len(rems))
	for _, rem := range rems {
		v := remediationView{
			Resource: rem.Evaluation.Resource.FullName(),
			Engine:   rem.Evaluation.EngineID(),
			PolicyID: rem.Evaluation.PolicyID,
			Status:   rem.Status,
		}
		if rem.Err != nil {
			v.Error = rem.Err.Error()
		}
		out = append(out, v)
	}
	return out
}

func viewPolicies(engines []policy.Engine, engineID string) []policy.Info {
	var infos []policy.Info
	for _, e := range engines {
		if engineID != "" && e.ID() != engineID {
			continue
		}
		infos = append(infos, e.Policies()...)
	}
	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].EngineID != infos[j].EngineID {
			return infos[i].EngineID < infos[j].EngineID
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return enc.Close()
}
