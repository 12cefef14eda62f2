// Package enforce turns (locked, blocked sites) into redirect rules and
// installs them on the device's blocking primitive.
package enforce

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/iliyamo/brick-focus/internal/model"
	"github.com/iliyamo/brick-focus/internal/utils"
)

// Rule redirects every host equal to Domain, or a dot-suffix subdomain of
// it, to Redirect.
type Rule struct {
	ID       int    `json:"id"`
	Domain   string `json:"domain"`
	Redirect string `json:"redirect"`
}

// Matches reports whether host falls under the rule.
func (r Rule) Matches(host string) bool { return utils.HostMatches(host, r.Domain) }

// Primitive is the device's rule-installing API (a browser's dynamic
// ruleset, a hosts file, a local proxy).
type Primitive interface {
	// ReplaceDynamicRules removes every dynamic rule, then installs rules.
	ReplaceDynamicRules(ctx context.Context, rules []Rule) error
	// SetStaticRuleset toggles the coarse always-on ruleset shipped with
	// the client.
	SetStaticRuleset(ctx context.Context, enabled bool) error
}

// Compile builds the rule set.  Unlocked yields no rules.  Domains are
// de-duplicated and ordered so ids are stable for the same input.
func Compile(locked bool, domains []string, noticeURL string) []Rule {
	if !locked {
		return nil
	}
	seen := map[string]bool{}
	uniq := make([]string, 0, len(domains))
	for _, d := range domains {
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		uniq = append(uniq, d)
	}
	sort.Strings(uniq)
	rules := make([]Rule, 0, len(uniq))
	for i, d := range uniq {
		rules = append(rules, Rule{ID: i + 1, Domain: d, Redirect: NoticeLink(noticeURL, d)})
	}
	return rules
}

// NoticeLink is the URL a blocked navigation is sent to.
func NoticeLink(noticeURL, domain string) string {
	return fmt.Sprintf("%s/blocked?domain=%s", noticeURL, url.QueryEscape(domain))
}

// Compiler re-applies the rule set whenever its inputs change.  Apply
// always does a full replace, so the installed set never accumulates
// stale rules.
type Compiler struct {
	prim      Primitive
	noticeURL string
	log       *zap.SugaredLogger

	mu     sync.RWMutex
	active []Rule
}

func NewCompiler(prim Primitive, noticeURL string, log *zap.SugaredLogger) *Compiler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Compiler{prim: prim, noticeURL: noticeURL, log: log}
}

// Apply installs the rules for (locked, sites).  The primitive's state and
// the compiler's match view are only updated together on success.
func (c *Compiler) Apply(ctx context.Context, locked bool, sites []model.BlockedSite) error {
	rules := Compile(locked, model.Domains(sites), c.noticeURL)
	if err := c.prim.ReplaceDynamicRules(ctx, rules); err != nil {
		return fmt.Errorf("replace dynamic rules: %w", err)
	}
	if err := c.prim.SetStaticRuleset(ctx, locked); err != nil {
		return fmt.Errorf("static ruleset: %w", err)
	}
	c.mu.Lock()
	c.active = rules
	c.mu.Unlock()
	c.log.Debugw("enforcement applied", "locked", locked, "rules", len(rules))
	return nil
}

// Rules returns the installed rule set.
func (c *Compiler) Rules() []Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Rule(nil), c.active...)
}

// Blocked reports the blocked domain host falls under, if any.
func (c *Compiler) Blocked(host string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.active {
		if r.Matches(host) {
			return r.Domain, true
		}
	}
	return "", false
}

// MemoryPrimitive keeps rules in memory.  It backs the local notice server
// and tests.
type MemoryPrimitive struct {
	mu       sync.Mutex
	rules    []Rule
	static   bool
	Replaces int
}

func (m *MemoryPrimitive) ReplaceDynamicRules(_ context.Context, rules []Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append([]Rule(nil), rules...)
	m.Replaces++
	return nil
}

func (m *MemoryPrimitive) SetStaticRuleset(_ context.Context, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.static = enabled
	return nil
}

func (m *MemoryPrimitive) Rules() []Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Rule(nil), m.rules...)
}

func (m *MemoryPrimitive) Static() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.static
}
