// Package danger classifies step descriptions into dangerous-action
// categories. Classification is pure, synchronous, and deterministic: a
// fixed set of rules tests the description text against indicative patterns
// and includes a category when any pattern matches.
package danger

import (
	"fmt"
	"strings"
)

// Category classifies a step description as potentially performing a
// destructive or irreversible action.
type Category string

const (
	// CategoryFileDeletion covers recursive or forced file removal.
	CategoryFileDeletion Category = "file_deletion"

	// CategoryForcePush covers forced version-control pushes that rewrite
	// shared history.
	CategoryForcePush Category = "force_push"

	// CategoryPackagePublish covers publishing artifacts to package
	// registries.
	CategoryPackagePublish Category = "package_publish"

	// CategoryEnvMutation covers mutation of environment variables or env
	// files.
	CategoryEnvMutation Category = "env_mutation"

	// CategoryNetworkCall covers outbound network calls to non-local hosts.
	CategoryNetworkCall Category = "network_call"

	// CategoryDataDestruction covers destructive data-store statements.
	CategoryDataDestruction Category = "data_destruction"
)

// String returns the string representation of the category.
func (c Category) String() string {
	return string(c)
}

// Describe returns a short human-readable description of the category,
// suitable for confirmation prompts.
func (c Category) Describe() string {
	switch c {
	case CategoryFileDeletion:
		return "deletes files"
	case CategoryForcePush:
		return "force-pushes version control history"
	case CategoryPackagePublish:
		return "publishes a package"
	case CategoryEnvMutation:
		return "mutates environment variables"
	case CategoryNetworkCall:
		return "makes an outbound network call"
	case CategoryDataDestruction:
		return "runs a destructive data-store statement"
	default:
		return string(c)
	}
}

// AllCategories returns every known category in rule order.
func AllCategories() []Category {
	return []Category{
		CategoryFileDeletion,
		CategoryForcePush,
		CategoryPackagePublish,
		CategoryEnvMutation,
		CategoryNetworkCall,
		CategoryDataDestruction,
	}
}

// ParseCategory parses a string into a known Category.
// Returns an error for unknown values.
func ParseCategory(s string) (Category, error) {
	for _, c := range AllCategories() {
		if string(c) == strings.TrimSpace(strings.ToLower(s)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown danger category: %q", s)
}

// Rule tests a lowercased step description for one category of dangerous
// action.
type Rule struct {
	// Category is the category this rule reports on a match.
	Category Category

	// Description provides details about what this rule detects.
	Description string

	// Match tests the lowercased description text. It returns whether the
	// rule matched.
	Match func(text string) bool
}

// Classifier maps step description text to the set of matched dangerous
// action categories. It is stateless and safe for concurrent use.
type Classifier struct {
	rules []Rule
}

// Option is a functional option for configuring a Classifier.
type Option func(*Classifier)

// WithRule appends a custom rule to the classifier.
func WithRule(rule Rule) Option {
	return func(c *Classifier) {
		c.rules = append(c.rules, rule)
	}
}

// NewClassifier creates a Classifier with the default rule set, plus any
// custom rules supplied via options.
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{
		rules: defaultRules(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Classify returns the categories whose rules match the description.
// Categories are returned in rule order, deduplicated. An empty result
// means no dangerous action was detected; Classify never fails.
func (c *Classifier) Classify(description string) []Category {
	text := strings.ToLower(description)

	var matched []Category
	seen := make(map[Category]struct{}, len(c.rules))
	for _, rule := range c.rules {
		if _, dup := seen[rule.Category]; dup {
			continue
		}
		if rule.Match(text) {
			matched = append(matched, rule.Category)
			seen[rule.Category] = struct{}{}
		}
	}
	return matched
}

// keywordRule builds a rule that matches when any of the given lowercase
// substrings occurs in the description.
func keywordRule(category Category, description string, keywords ...string) Rule {
	return Rule{
		Category:    category,
		Description: description,
		Match: func(text string) bool {
			for _, kw := range keywords {
				if strings.Contains(text, kw) {
					return true
				}
			}
			return false
		},
	}
}

// localHosts are hosts that do not count as outbound network targets.
var localHosts = []string{"localhost", "127.0.0.1", "0.0.0.0", "[::1]"}

// defaultRules returns the built-in rule set. The specific patterns are
// indicative, not exhaustive; the gate only needs a conservative signal.
func defaultRules() []Rule {
	return []Rule{
		keywordRule(CategoryFileDeletion,
			"Detects recursive or forced file removal",
			"rm -rf", "rm -fr", "rm -r", "rmdir", "del /f", "unlink", "shutil.rmtree", "fs.rm", "delete file", "delete all files", "remove directory",
		),
		keywordRule(CategoryForcePush,
			"Detects forced version-control pushes",
			"push --force", "push -f", "push --force-with-lease", "git push origin +",
		),
		keywordRule(CategoryPackagePublish,
			"Detects publishing to package registries",
			"npm publish", "yarn publish", "pnpm publish", "cargo publish", "twine upload", "gem push", "goreleaser release",
		),
		keywordRule(CategoryEnvMutation,
			"Detects environment-variable mutation",
			"export ", "setenv", "process.env", "os.environ", ".env file", "set -x ", "printenv >",
		),
		{
			Category:    CategoryNetworkCall,
			Description: "Detects outbound network calls to non-local hosts",
			Match:       matchOutboundNetwork,
		},
		keywordRule(CategoryDataDestruction,
			"Detects destructive data-store statements",
			"drop table", "drop database", "truncate table", "truncate ", "delete from", "flushall", "flushdb", "db.dropdatabase",
		),
	}
}

// matchOutboundNetwork reports network-client usage unless every URL-like
// token in the text points at a local host.
func matchOutboundNetwork(text string) bool {
	clients := []string{"curl ", "wget ", "http://", "https://", "fetch(", "axios.", "http.get", "net/http"}

	found := false
	for _, kw := range clients {
		if strings.Contains(text, kw) {
			found = true
			break
		}
	}
	if !found {
		return false
	}

	for _, host := range localHosts {
		if strings.Contains(text, host) {
			return false
		}
	}
	return true
}
