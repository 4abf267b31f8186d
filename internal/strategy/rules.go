package strategy

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/kanbanhq/syncbox/internal/config"
)

// rulesetFile is the optional YAML extension loaded at startup:
//
//	rules:
//	  - name: cdn-covers
//	    pattern: "^/cdn/covers/"
//	    namespace: image
//	    strategy: cache-first
type rulesetFile struct {
	Rules []rulesetEntry `yaml:"rules"`
}

type rulesetEntry struct {
	Name      string `yaml:"name"`
	Pattern   string `yaml:"pattern"`
	Method    string `yaml:"method,omitempty"`
	Namespace string `yaml:"namespace"`
	Strategy  string `yaml:"strategy"`
}

var knownNamespaces = map[string]bool{
	config.NamespaceStatic:  true,
	config.NamespaceDynamic: true,
	config.NamespaceAPI:     true,
	config.NamespaceImage:   true,
	config.NamespaceFont:    true,
}

// ExtendFromFile inserts user rules between the mutation bypass and the
// built-ins, so deployments can pin paths without overriding how mutations
// are handled. A missing file is fine; malformed entries are logged and
// skipped.
func (c *Classifier) ExtendFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.logger.Info("ruleset file does not exist, using built-in rules", "path", path)
			return nil
		}
		return fmt.Errorf("strategy: read ruleset: %w", err)
	}

	var file rulesetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("strategy: parse ruleset: %w", err)
	}

	var userRules []Rule
	for _, entry := range file.Rules {
		rule, err := entry.compile()
		if err != nil {
			c.logger.Warn("skipping ruleset entry", "name", entry.Name, "error", err)
			continue
		}
		userRules = append(userRules, rule)
		c.logger.Info("loaded classifier rule", "name", rule.Name, "namespace", rule.Namespace, "strategy", rule.Strategy)
	}
	if len(userRules) == 0 {
		return nil
	}

	merged := make([]Rule, 0, len(c.rules)+len(userRules))
	merged = append(merged, c.rules[0]) // mutation-bypass stays first
	merged = append(merged, userRules...)
	merged = append(merged, c.rules[1:]...)
	c.rules = merged
	return nil
}

func (e rulesetEntry) compile() (Rule, error) {
	if e.Name == "" {
		return Rule{}, fmt.Errorf("rule has no name")
	}
	if !knownNamespaces[e.Namespace] {
		return Rule{}, fmt.Errorf("unknown namespace %q", e.Namespace)
	}
	strat, ok := parseStrategy(e.Strategy)
	if !ok {
		return Rule{}, fmt.Errorf("unknown strategy %q", e.Strategy)
	}
	re, err := regexp.Compile(e.Pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("bad pattern: %w", err)
	}

	method := e.Method
	return Rule{
		Name: e.Name,
		Match: func(req *Request) bool {
			if method != "" && req.Method != method {
				return false
			}
			return re.MatchString(req.URL.Path)
		},
		Namespace: e.Namespace,
		Strategy:  strat,
	}, nil
}

func parseStrategy(s string) (Strategy, bool) {
	switch s {
	case "cache-first":
		return CacheFirst, true
	case "network-first":
		return NetworkFirst, true
	case "stale-while-revalidate":
		return StaleWhileRevalidate, true
	case "navigation-fallback":
		return NavigationFallback, true
	default:
		return 0, false
	}
}
