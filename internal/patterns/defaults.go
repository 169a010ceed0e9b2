package patterns

import "deployguard/internal/models"

// DefaultVersion identifies the built-in rule table.
const DefaultVersion = "v1"

var defaultRules = []Rule{
	// SQL migrations
	{
		ID: "DROP_DATABASE", Kind: models.KindSQL, Severity: models.SeverityCritical,
		Matcher:        codeOnly("drop-database", `DROP\s+DATABASE`),
		Title:          "Database drop",
		Rationale:      "Line {{line}} drops an entire database (`{{match}}`). Every table and row in it is lost.",
		Recommendation: "Remove the statement from the migration and perform database retirement as a separate, approved operation.",
	},
	{
		ID: "DROP_TABLE", Kind: models.KindSQL, Severity: models.SeverityCritical,
		Matcher:        codeOnly("drop-table", `DROP\s+TABLE`),
		Title:          "Table drop",
		Rationale:      "Line {{line}} drops a table (`{{match}}`). The data cannot be recovered without a backup restore.",
		Recommendation: "Rename the table first and drop it in a later release once no reader depends on it.",
	},
	{
		ID: "TRUNCATE_TABLE", Kind: models.KindSQL, Severity: models.SeverityCritical,
		Matcher:        codeOnly("truncate-table", `TRUNCATE\s+TABLE`),
		Title:          "Table truncation",
		Rationale:      "Line {{line}} truncates a table (`{{match}}`), deleting every row without a filter.",
		Recommendation: "Delete in bounded batches with an explicit WHERE clause, or archive the rows first.",
	},
	{
		ID: "UNFILTERED_DELETE", Kind: models.KindSQL, Severity: models.SeverityHigh,
		Matcher:        unfilteredDML("DELETE"),
		Title:          "DELETE without WHERE",
		Rationale:      "Line {{line}} deletes rows with no WHERE clause (`{{match}}`); every row of the table is affected.",
		Recommendation: "Add a WHERE clause that limits the affected rows and verify the expected row count before deploying.",
	},
	{
		ID: "UNFILTERED_UPDATE", Kind: models.KindSQL, Severity: models.SeverityHigh,
		Matcher:        unfilteredDML("UPDATE"),
		Title:          "UPDATE without WHERE",
		Rationale:      "Line {{line}} updates rows with no WHERE clause (`{{match}}`); every row of the table is rewritten.",
		Recommendation: "Add a WHERE clause and run the update in batches on large tables.",
	},
	{
		ID: "ORPHANED_REFERENCE", Kind: models.KindSQL, Severity: models.SeverityCritical,
		Matcher:        orphanedReferences,
		Title:          "Reference to dropped table",
		Rationale:      "Line {{line}} uses a table that an earlier statement in the same migration dropped (`{{match}}`). The statement will fail at deploy time.",
		Recommendation: "Reorder the statements or remove the reference to the dropped table.",
	},
	{
		ID: "DDL_DML_MIX", Kind: models.KindSQL, Severity: models.SeverityMedium,
		Matcher:        ddlDMLMix,
		Title:          "Schema and data changes mixed",
		Rationale:      "The migration changes schema and also modifies data starting at line {{line}} (`{{match}}`). A partial failure leaves both half applied.",
		Recommendation: "Split schema and data changes into separate migrations.",
	},
	{
		ID: "COMMENTED_ROLLBACK", Kind: models.KindSQL, Severity: models.SeverityMedium,
		Matcher:        MustRegex(`--\s*ROLLBACK`),
		Title:          "Commented-out rollback",
		Rationale:      "Line {{line}} contains a rollback that is commented out (`{{match}}`). The migration has no working way back.",
		Recommendation: "Provide an executable down migration instead of a commented rollback.",
	},

	// Terraform / HCL
	{
		ID: "FORCE_DESTROY", Kind: models.KindInfraConfig, Severity: models.SeverityCritical,
		Matcher:        MustRegex(`force_destroy\s*=\s*true`),
		Title:          "force_destroy enabled",
		Rationale:      "Line {{line}} sets `{{match}}`. Destroying the resource also deletes everything it contains.",
		Recommendation: "Set force_destroy = false for resources holding data.",
	},
	{
		ID: "TERRAFORM_DESTROY", Kind: models.KindInfraConfig, Severity: models.SeverityCritical,
		Matcher:        MustRegex(`terraform\s+destroy`),
		Title:          "terraform destroy invoked",
		Rationale:      "Line {{line}} runs `{{match}}`, tearing down managed infrastructure.",
		Recommendation: "Remove destroy from automated pipelines; target individual resources with a reviewed plan.",
	},
	{
		ID: "PREVENT_DESTROY_DISABLED", Kind: models.KindInfraConfig, Severity: models.SeverityHigh,
		Matcher:        MustRegex(`prevent_destroy\s*=\s*false`),
		Title:          "prevent_destroy disabled",
		Rationale:      "Line {{line}} sets `{{match}}`, removing the guard against accidental deletion.",
		Recommendation: "Keep prevent_destroy = true on stateful resources.",
	},
	{
		ID: "RESOURCE_COUNT_ZERO", Kind: models.KindInfraConfig, Severity: models.SeverityHigh,
		Matcher:        MustRegex(`\bcount\s*=\s*0\b`),
		Title:          "Resource count set to zero",
		Rationale:      "Line {{line}} sets `{{match}}`, which destroys every existing instance of the resource.",
		Recommendation: "Confirm the resource is meant to be removed and that its data has been migrated.",
	},
	{
		ID: "MISSING_LIFECYCLE", Kind: models.KindInfraConfig, Severity: models.SeverityMedium,
		Matcher:        missingLifecycle,
		Title:          "No lifecycle protection",
		Rationale:      "Resources are declared without any lifecycle block; the first one is at line {{line}} (`{{match}}`).",
		Recommendation: "Add a lifecycle block with prevent_destroy to resources that hold state.",
	},

	// Kubernetes manifests
	{
		ID: "PRIVILEGED_CONTAINER", Kind: models.KindManifest, Severity: models.SeverityCritical,
		Matcher:        MustRegex(`privileged:\s*true`),
		Title:          "Privileged container",
		Rationale:      "Line {{line}} sets `{{match}}`, giving the container full access to the host.",
		Recommendation: "Drop privileged mode and grant only the capabilities the workload needs.",
	},
	{
		ID: "HOST_NETWORK", Kind: models.KindManifest, Severity: models.SeverityCritical,
		Matcher:        MustRegex(`hostNetwork:\s*true`),
		Title:          "Host network namespace",
		Rationale:      "Line {{line}} sets `{{match}}`; the pod shares the node's network stack.",
		Recommendation: "Use a Service or NetworkPolicy instead of the host network.",
	},
	{
		ID: "ZERO_REPLICAS", Kind: models.KindManifest, Severity: models.SeverityHigh,
		Matcher:        MustRegex(`replicas:\s*0\b`),
		Title:          "Workload scaled to zero",
		Rationale:      "Line {{line}} sets `{{match}}`; the workload stops serving traffic on apply.",
		Recommendation: "Confirm the outage is intended or keep at least one replica.",
	},
	{
		ID: "ALWAYS_PULL_IMAGE", Kind: models.KindManifest, Severity: models.SeverityMedium,
		Matcher:        MustRegex(`imagePullPolicy:\s*Always`),
		Title:          "Image pulled on every start",
		Rationale:      "Line {{line}} sets `{{match}}`; restarts depend on registry availability and may pick up a different image.",
		Recommendation: "Pin images by digest and use IfNotPresent.",
	},
	{
		ID: "MISSING_RESOURCE_LIMITS", Kind: models.KindManifest, Severity: models.SeverityMedium,
		Matcher:        missingResourceLimits,
		Title:          "Container without resource limits",
		Rationale:      "The container at line {{line}} (`{{match}}`) declares no resource limits and can starve its node.",
		Recommendation: "Set resources.limits for cpu and memory.",
	},
}

// Default returns a fresh copy of the built-in library.
func Default() *Library {
	lib := New(DefaultVersion)
	for _, r := range defaultRules {
		if err := lib.Register(r); err != nil {
			panic(err)
		}
	}
	return lib
}
