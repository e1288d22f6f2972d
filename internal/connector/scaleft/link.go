package scaleft

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tomnomnom/linkheader"
)

// nextLink returns the absolute target of the first entry in an RFC 8288 Link
// header, resolved against base. An empty header means there is no next page.
// The feed only advertises its continuation, so the first entry is taken
// regardless of rel.
func nextLink(header string, base *url.URL) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", nil
	}
	links := linkheader.Parse(header)
	if len(links) == 0 {
		return "", fmt.Errorf("%w: link header %q has no entries", ErrParse, header)
	}
	ref, err := url.Parse(links[0].URL)
	if err != nil {
		return "", fmt.Errorf("%w: link target %q: %w", ErrParse, links[0].URL, err)
	}
	return base.ResolveReference(ref).String(), nil
}
