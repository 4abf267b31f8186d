package strategy

import (
	"log/slog"
	"net/http"
	"regexp"

	"github.com/kanbanhq/syncbox/internal/config"
)

// Strategy names how a classified request is served.
type Strategy int

const (
	NetworkOnly Strategy = iota // mutation bypass, queue on transport failure
	CacheFirst
	NetworkFirst
	StaleWhileRevalidate
	NavigationFallback
)

func (s Strategy) String() string {
	switch s {
	case NetworkOnly:
		return "network-only"
	case CacheFirst:
		return "cache-first"
	case NetworkFirst:
		return "network-first"
	case StaleWhileRevalidate:
		return "stale-while-revalidate"
	case NavigationFallback:
		return "navigation-fallback"
	default:
		return "unknown"
	}
}

// Decision is the classifier's verdict for one request.
type Decision struct {
	Namespace string
	Strategy  Strategy
	Rule      string
}

// Rule is one (predicate → decision) pair in the precedence table.
type Rule struct {
	Name      string
	Match     func(req *Request) bool
	Namespace string
	Strategy  Strategy
}

// Built-in URL patterns. The allowlist covers the app shell; API split
// follows the origin's route layout: volatile endpoints go network-first,
// plain data reads cache-first.
var (
	staticAllowlist = regexp.MustCompile(`^/$|^/index\.html$|^/offline\.html$|^/manifest\.(json|webmanifest)$|^/(assets|static)/|\.(js|css|map)$`)
	imagePattern    = regexp.MustCompile(`(?i)\.(png|jpe?g|gif|webp|avif|svg|ico)$`)
	fontPattern     = regexp.MustCompile(`(?i)\.(woff2?|ttf|otf|eot)$`)
	realtimePattern = regexp.MustCompile(`^/api/(auth|session|sync|realtime|socket|presence)(/|$)`)
	dataAPIPattern  = regexp.MustCompile(`^/(api|graphql)(/|$)`)
)

var mutatingMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Classifier maps requests to decisions through a fixed precedence list;
// first match wins. User rules from an optional ruleset file sit between
// the mutation bypass and the built-ins so deployments can pin individual
// paths without touching code.
type Classifier struct {
	rules  []Rule
	logger *slog.Logger
}

func NewClassifier(logger *slog.Logger) *Classifier {
	c := &Classifier{logger: logger.With("component", "classifier")}
	c.rules = builtinRules()
	return c
}

func builtinRules() []Rule {
	pathMatch := func(re *regexp.Regexp) func(*Request) bool {
		return func(req *Request) bool { return re.MatchString(req.URL.Path) }
	}
	return []Rule{
		{
			Name:      "mutation-bypass",
			Match:     func(req *Request) bool { return mutatingMethods[req.Method] },
			Namespace: "",
			Strategy:  NetworkOnly,
		},
		{
			Name:      "static-allowlist",
			Match:     pathMatch(staticAllowlist),
			Namespace: config.NamespaceStatic,
			Strategy:  CacheFirst,
		},
		{
			Name:      "image-assets",
			Match:     pathMatch(imagePattern),
			Namespace: config.NamespaceImage,
			Strategy:  CacheFirst,
		},
		{
			Name:      "font-assets",
			Match:     pathMatch(fontPattern),
			Namespace: config.NamespaceFont,
			Strategy:  CacheFirst,
		},
		{
			Name:      "realtime-api",
			Match:     pathMatch(realtimePattern),
			Namespace: config.NamespaceAPI,
			Strategy:  NetworkFirst,
		},
		{
			Name:      "data-api",
			Match:     pathMatch(dataAPIPattern),
			Namespace: config.NamespaceAPI,
			Strategy:  CacheFirst,
		},
		{
			Name:      "navigation",
			Match:     func(req *Request) bool { return req.Navigation },
			Namespace: config.NamespaceStatic,
			Strategy:  NavigationFallback,
		},
	}
}

// Classify walks the precedence list; unmatched requests default to
// stale-while-revalidate in the dynamic namespace.
func (c *Classifier) Classify(req *Request) Decision {
	for _, rule := range c.rules {
		if rule.Match(req) {
			return Decision{Namespace: rule.Namespace, Strategy: rule.Strategy, Rule: rule.Name}
		}
	}
	return Decision{Namespace: config.NamespaceDynamic, Strategy: StaleWhileRevalidate, Rule: "default"}
}
