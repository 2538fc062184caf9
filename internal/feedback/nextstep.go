package feedback

import "fmt"

// ActionInstructions tells the agent how to work through new feedback.
const ActionInstructions = "Analyze every item in 'items', implement the fixes you agree with, " +
	"reply to the ones you reject with a reason, run 'safe_push', then run 'trigger_review' again. " +
	"Be autonomous, don't stop the cycle."

// NextStep derives the agent directive. It never authorizes integrating,
// closing or removing the PR.
func NextStep(prNumber int, a Analysis) string {
	switch {
	case a.Ready:
		return fmt.Sprintf("STOP. %s reports no remaining issues on PR #%d. "+
			"Report the result to the human and wait for their decision; take no further action on the PR.",
			a.MainReviewer.User, prNumber)
	case a.RateLimited:
		return fmt.Sprintf("%s is rate limited. Run 'trigger_review %d --local' to continue the cycle with the local reviewer.",
			a.MainReviewer.User, prNumber)
	case a.ChangesRequested:
		return fmt.Sprintf("CRITICAL: Changes requested on PR #%d. Address every requested change before anything else. %s",
			prNumber, ActionInstructions)
	case a.NewItemCount > 0:
		return "New feedback received. " + ActionInstructions
	}
	return WaitStep(prNumber, 30)
}

// WaitStep tells the agent to wait and then poll status again.
func WaitStep(prNumber, seconds int) string {
	return fmt.Sprintf("WAIT %d seconds, then Run 'status %d' to check for the main reviewer's review. "+
		"Be autonomous, don't stop the cycle.", seconds, prNumber)
}
