package classify

import "fmt"

const promptTemplate = `Analyze the differences between these two versions of a webpage from %s.

PREVIOUS VERSION:
%s

CURRENT VERSION:
%s

Provide a detailed analysis of the changes in JSON format with the following structure:
{
  "summary": "A brief summary of the main changes",
  "severity": "minor|major|critical",
  "details": "Detailed explanation of what changed",
  "impactAreas": ["area1", "area2"]
}

Severity levels:
- minor: Small text changes, image updates, or style modifications
- major: New sections, product changes, or significant content updates
- critical: Price changes, policy updates, or major product/service modifications

Impact areas could include: pricing, products, services, policies, contact info, etc.

If nothing meaningful changed, set "summary" to "%s".

Only return the JSON object, nothing else.`

// BuildPrompt renders the comparison prompt for already truncated texts.
func BuildPrompt(url, previous, current string) string {
	return fmt.Sprintf(promptTemplate, url, previous, current, NoChangeSummary)
}
