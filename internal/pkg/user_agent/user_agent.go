package user_agent

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"go.elara.ws/pcre"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// UserAgent is the display information derived from a User-Agent header.
type UserAgent struct {
	UserAgent string
	Device    string
	Browser   string
}

// BrowserDisplay is "Device/Browser", or whichever part is known.
func (ua UserAgent) BrowserDisplay() string {
	switch {
	case ua.Device != "" && ua.Browser != "":
		return ua.Device + "/" + ua.Browser
	case ua.Browser != "":
		return ua.Browser
	default:
		return ua.Device
	}
}

//go:embed rules.yml
var rulesFile []byte

// BrowserEntry is one browser rule; Exclude vetoes a Regex match.
type BrowserEntry struct {
	Name    string `yaml:"name"`
	Regex   string `yaml:"regex"`
	Exclude string `yaml:"exclude"`
}

// DeviceRule captures the device token; Aliases rename lower-cased tokens.
type DeviceRule struct {
	Regex    string            `yaml:"regex"`
	Fallback string            `yaml:"fallback"`
	Aliases  map[string]string `yaml:"aliases"`
}

type rules struct {
	Device   DeviceRule     `yaml:"device"`
	Browsers []BrowserEntry `yaml:"browsers"`
}

// RegexCache compiles each pattern once.
type RegexCache struct {
	compiled map[string]*pcre.Regexp
	mutex    sync.RWMutex
}

func newRegexCache() *RegexCache {
	return &RegexCache{
		compiled: make(map[string]*pcre.Regexp),
	}
}

func (rc *RegexCache) get(pattern string) (*pcre.Regexp, error) {
	rc.mutex.RLock()
	if regex, exists := rc.compiled[pattern]; exists {
		rc.mutex.RUnlock()
		return regex, nil
	}
	rc.mutex.RUnlock()

	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	if regex, exists := rc.compiled[pattern]; exists {
		return regex, nil
	}

	regex, err := pcre.Compile(pattern)
	if err != nil {
		return nil, err
	}
	rc.compiled[pattern] = regex
	return regex, nil
}

var (
	parser *Parser
	once   sync.Once
)

// Parser applies the embedded rule set.
type Parser struct {
	rules      rules
	regexCache *RegexCache
}

func getParser() *Parser {
	once.Do(func() {
		p, err := NewParser(rulesFile)
		if err != nil {
			panic(fmt.Sprintf("user_agent: embedded rules are invalid: %v", err))
		}
		parser = p
	})
	return parser
}

// NewParser builds a parser from a YAML rule document.
func NewParser(doc []byte) (*Parser, error) {
	p := &Parser{
		regexCache: newRegexCache(),
	}
	if err := yaml.Unmarshal(doc, &p.rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	if _, err := p.regexCache.get(p.rules.Device.Regex); err != nil {
		return nil, fmt.Errorf("invalid device regex: %w", err)
	}
	for _, b := range p.rules.Browsers {
		if _, err := p.regexCache.get(b.Regex); err != nil {
			return nil, fmt.Errorf("invalid regex for %s: %w", b.Name, err)
		}
	}
	return p, nil
}

func (p *Parser) parseDevice(userAgent string) string {
	rule := p.rules.Device
	if regex, err := p.regexCache.get(rule.Regex); err == nil {
		if m := regex.FindStringSubmatch(userAgent); len(m) > 1 {
			token := strings.ToLower(m[1])
			if alias, ok := rule.Aliases[token]; ok {
				return alias
			}
			// a Caser keeps state between calls, so build one per use
			return cases.Title(language.English).String(token)
		}
	}
	if rule.Fallback != "" {
		if regex, err := p.regexCache.get(rule.Fallback); err == nil && regex.MatchString(userAgent) {
			return "Mac"
		}
	}
	return ""
}

func (p *Parser) parseBrowser(userAgent string) string {
	for _, entry := range p.rules.Browsers {
		regex, err := p.regexCache.get(entry.Regex)
		if err != nil || !regex.MatchString(userAgent) {
			continue
		}
		if entry.Exclude != "" {
			if ex, err := p.regexCache.get(entry.Exclude); err == nil && ex.MatchString(userAgent) {
				continue
			}
		}
		return entry.Name
	}
	return ""
}

// Parse derives device and browser names. Unknown parts are empty.
func (p *Parser) Parse(userAgent string) UserAgent {
	if strings.TrimSpace(userAgent) == "" {
		return UserAgent{}
	}
	return UserAgent{
		UserAgent: userAgent,
		Device:    p.parseDevice(userAgent),
		Browser:   p.parseBrowser(userAgent),
	}
}

// ParseUserAgent parses with the embedded rule set.
func ParseUserAgent(userAgent string) UserAgent {
	return getParser().Parse(userAgent)
}
