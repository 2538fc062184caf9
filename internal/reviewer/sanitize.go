package reviewer

import "regexp"

var ansiPattern = regexp.MustCompile(`\x1b(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])`)

// tokenPatterns match credentials that may appear in tool output.
var tokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`github_pat_[A-Za-z0-9_]{20,}`),
	regexp.MustCompile(`glpat-[A-Za-z0-9_\-]{20,}`),
	regexp.MustCompile(`sk-ant-[A-Za-z0-9_\-]{20,}`),
	regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`),
	regexp.MustCompile(`(?i)((?:api[_-]?key|token|secret)\s*[=:]\s*)[^\s"']+`),
}

// StripANSI removes terminal escape sequences.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// MaskTokens replaces anything that looks like a credential with ***.
func MaskTokens(s string) string {
	for i, re := range tokenPatterns {
		if i == len(tokenPatterns)-1 {
			s = re.ReplaceAllString(s, "${1}***")
			continue
		}
		s = re.ReplaceAllString(s, "***")
	}
	return s
}
