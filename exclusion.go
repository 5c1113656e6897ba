package auth

import (
	"net/http"
	"regexp"
	"strings"
)

type staticExclusion struct {
	target   string
	absolute bool
	methods  map[string]struct{}
}

func (e staticExclusion) allows(method string) bool {
	if len(e.methods) == 0 {
		return true
	}
	_, ok := e.methods[strings.ToUpper(method)]
	return ok
}

// ExclusionMatcher decides whether a request target is exempt from
// credential attachment.
type ExclusionMatcher struct {
	static   []staticExclusion
	patterns []*regexp.Regexp
}

// NewExclusionMatcher compiles the static paths, regular expressions, and
// method scoped URLs of an exclusion list.
func NewExclusionMatcher(paths, patterns []string, urls []ExcludedURL) (*ExclusionMatcher, error) {
	m := &ExclusionMatcher{}

	for _, p := range paths {
		if e, ok := newStaticExclusion(p, nil); ok {
			m.static = append(m.static, e)
		}
	}

	for _, u := range urls {
		if e, ok := newStaticExclusion(u.URL, u.Methods); ok {
			m.static = append(m.static, e)
		}
	}

	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, withErrorMetadata(ErrInvalidConfig, err, map[string]any{
				"pattern": p,
			})
		}
		m.patterns = append(m.patterns, re)
	}

	return m, nil
}

// NewExclusionMatcherFromConfig builds the matcher configured in cfg.
func NewExclusionMatcherFromConfig(cfg Config) (*ExclusionMatcher, error) {
	return NewExclusionMatcher(cfg.ExcludedPaths, cfg.ExcludedPatterns, cfg.ExcludedURLs)
}

func newStaticExclusion(target string, methods []string) (staticExclusion, bool) {
	target = strings.TrimSpace(target)
	if target == "" {
		return staticExclusion{}, false
	}
	e := staticExclusion{
		target:   target,
		absolute: strings.Contains(target, "://"),
	}
	if !e.absolute && len(target) > 1 {
		e.target = strings.TrimSuffix(target, "/")
	}
	if len(methods) > 0 {
		e.methods = make(map[string]struct{}, len(methods))
		for _, method := range methods {
			e.methods[strings.ToUpper(strings.TrimSpace(method))] = struct{}{}
		}
	}
	return e, true
}

// Excluded reports whether req must be forwarded without credentials.
func (m *ExclusionMatcher) Excluded(req *http.Request) bool {
	if m == nil || req == nil || req.URL == nil {
		return false
	}

	absolute := req.URL.String()
	path := req.URL.Path
	if path == "" {
		path = "/"
	}

	for _, e := range m.static {
		if !e.allows(req.Method) {
			continue
		}
		if e.absolute {
			if strings.HasPrefix(absolute, e.target) {
				return true
			}
			continue
		}
		if pathMatches(path, e.target) {
			return true
		}
	}

	for _, re := range m.patterns {
		if re.MatchString(absolute) {
			return true
		}
	}

	return false
}

// pathMatches matches exactly or as a segment bounded prefix.
func pathMatches(path, prefix string) bool {
	if path == prefix {
		return true
	}
	if prefix == "/" {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}
