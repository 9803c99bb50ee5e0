package forge

import "fmt"

// commentMarker opens every comment the daemon owns. keeping the heading
// stable means a reader scanning the PR always recognizes the preview
// comment, whatever state it is in.
const commentMarker = "## 🚀 Preview Environment"

// CommentBuilding is posted (or swapped in) while the pipeline works.
func CommentBuilding(commitSha string) string {
	return fmt.Sprintf(`%s

**Status:** 🔄 Building preview for `+"`%s`"+` ...

This comment updates automatically as the deployment progresses.
`, commentMarker, shortSha(commitSha))
}

// CommentSuccess replaces the building comment once the preview is live.
func CommentSuccess(url, commitSha string) string {
	return fmt.Sprintf(`%s

**Status:** ✅ Ready

**URL:** %s

Deployed commit `+"`%s`"+`. The environment is torn down automatically when
this PR closes.
`, commentMarker, url, shortSha(commitSha))
}

// CommentFailure replaces the building comment when the pipeline fails.
// reason is the pipeline error, already phrased for the repo author (for
// example a preview-config.yml validation message).
func CommentFailure(reason string) string {
	return fmt.Sprintf(`%s

**Status:** ❌ Deployment failed

`+"```"+`
%s
`+"```"+`

Push a new commit to retry.
`, commentMarker, reason)
}

// shortSha abbreviates a commit hash the way the forge UI does.
func shortSha(commitSha string) string {
	if len(commitSha) > 7 {
		return commitSha[:7]
	}
	return commitSha
}
