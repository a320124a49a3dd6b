package submit

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// Service names accepted by the client.
const (
	ArchiveIs   = "archive.is"
	ArchiveOrg  = "archive.org"
	WebCitation = "webcitation"
)

// Default service endpoints.
const (
	DefaultArchiveIsURL   = "https://archive.is"
	DefaultArchiveOrgURL  = "https://web.archive.org"
	DefaultWebCitationURL = "https://www.webcitation.org"
)

var archiveIsLink = regexp.MustCompile(`https?://archive\.is/\w+`)

// request is the prepared submission for one service.
type request struct {
	method string
	target string
	form   map[string]string
}

// Service describes one archive-submission endpoint.
type Service struct {
	Name string
	// NeedsEmail services reject submissions without the user email.
	NeedsEmail bool
	// LinkPattern, when set, is matched against the response body to find
	// the permanent link. A miss fails the submission.
	LinkPattern *regexp.Regexp
	build       func(pageURL, email string) request
}

// ReturnsLink reports whether the service response carries the link.
func (s Service) ReturnsLink() bool {
	return s.LinkPattern != nil
}

func catalog(cfg Config) map[string]Service {
	return map[string]Service{
		ArchiveIs: {
			Name:        ArchiveIs,
			LinkPattern: archiveIsLink,
			build: func(pageURL, _ string) request {
				return request{
					method: http.MethodPost,
					target: strings.TrimRight(cfg.ArchiveIsURL, "/") + "/submit/",
					form:   map[string]string{"url": pageURL},
				}
			},
		},
		ArchiveOrg: {
			Name: ArchiveOrg,
			build: func(pageURL, _ string) request {
				return request{
					method: http.MethodGet,
					target: strings.TrimRight(cfg.ArchiveOrgURL, "/") + "/save/" + pageURL,
				}
			},
		},
		WebCitation: {
			Name:       WebCitation,
			NeedsEmail: true,
			build: func(pageURL, email string) request {
				q := url.Values{}
				q.Set("url", pageURL)
				q.Set("email", email)
				return request{
					method: http.MethodGet,
					target: strings.TrimRight(cfg.WebCitationURL, "/") + "/archive?" + q.Encode(),
				}
			},
		},
	}
}

// IsLocal reports whether pageURL points at something no public archive can
// fetch: non-http schemes, loopback hosts and unparsable input.
func IsLocal(pageURL string) bool {
	u, err := url.Parse(pageURL)
	if err != nil {
		return true
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return true
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "", host == "localhost", strings.HasSuffix(host, ".localhost"):
		return true
	case strings.HasPrefix(host, "127."), host == "::1", host == "0.0.0.0":
		return true
	}
	return false
}
