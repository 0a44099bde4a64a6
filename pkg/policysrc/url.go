package policysrc

import (
	"fmt"
	"net/url"
	"regexp"
)

// githubBlobTreePattern matches GitHub blob or tree URLs.
// Format: https://github.com/{owner}/{repo}/{blob|tree}/{ref}/{path...}
var githubBlobTreePattern = regexp.MustCompile(`^/([^/]+)/([^/]+)/(blob|tree)/([^/]+)(?:/(.*))?$`)

// ConvertToRawURL converts a GitHub blob URL to a raw content URL.
// Returns the URL unchanged if already raw or not a recognized GitHub URL.
func ConvertToRawURL(githubURL string) string {
	parsed, err := url.Parse(githubURL)
	if err != nil {
		return githubURL
	}

	// Already a raw URL â€” pass through
	if parsed.Host == "raw.githubusercontent.com" {
		return githubURL
	}

	// Only convert github.com URLs
	if parsed.Host != "github.com" && parsed.Host != "www.github.com" {
		return githubURL
	}

	matches := githubBlobTreePattern.FindStringSubmatch(parsed.Path)
	if matches == nil {
		return githubURL
	}

	owner := matches[1]
	repo := matches[2]
	// matches[3] is "blob" or "tree"
	ref := matches[4]
	path := matches[5]

	// Build raw URL: https://raw.githubusercontent.com/{owner}/{repo}/refs/heads/{ref}/{path}
	rawURL := fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/refs/heads/%s/%s", owner, repo, ref, path)
	return rawURL
}
