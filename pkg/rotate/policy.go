package rotate

import (
	"context"
	"errors"
	"sort"

	"github.com/permafrost-sh/permafrost/internal/logger"
	"github.com/permafrost-sh/permafrost/pkg/catalog"
	"github.com/permafrost-sh/permafrost/pkg/gateway/cluster"
)

// policyName derives the versioned policy name for a suffix.
func policyName(base, suffix string) string {
	return base + "-" + suffix
}

// updatePolicy publishes the versioned policy for the new repository and
// repoints every template bound to the prior version. Templates bound to
// the bare base name are repointed too, so a freshly set-up deployment
// converges onto versioned policies at its first rotation.
func (e *Engine) updatePolicy(ctx context.Context, settings catalog.Settings, prevSuffix, suffix, repoName string, dryRun bool) ([]string, error) {
	if settings.PolicyName == "" {
		return nil, nil
	}

	newPolicy := cluster.Policy{Name: policyName(settings.PolicyName, suffix), Repository: repoName}
	if !dryRun {
		if err := e.cluster.PutPolicy(ctx, newPolicy); err != nil {
			return nil, catalog.WrapError(catalog.ErrActionFailed, "put policy "+newPolicy.Name, err)
		}
	}

	previous := map[string]bool{settings.PolicyName: true}
	if prevSuffix != "" {
		previous[policyName(settings.PolicyName, prevSuffix)] = true
	}

	templates, err := e.cluster.ListTemplates(ctx)
	if err != nil {
		return nil, catalog.WrapError(catalog.ErrActionFailed, "list templates", err)
	}

	var repointed []string
	for _, tpl := range templates {
		if !previous[tpl.Policy] {
			continue
		}
		if !dryRun {
			if err := e.cluster.SetTemplatePolicy(ctx, tpl.Name, tpl.Legacy, newPolicy.Name); err != nil {
				if errors.Is(err, cluster.ErrPolicyNotFound) {
					continue
				}
				return repointed, catalog.WrapError(catalog.ErrActionFailed, "repoint template "+tpl.Name, err)
			}
		}
		logger.DebugCtx(ctx, "Rotation: template repointed",
			"template", tpl.Name, "policy", newPolicy.Name, "legacy", tpl.Legacy)
		repointed = append(repointed, tpl.Name)
	}

	sort.Strings(repointed)
	return repointed, nil
}
