package policy

import "github.com/xkilldash9x/ghosthand/api/schemas"

// Config holds the keyword and pattern sets of the three gates. Keywords match whole
// words, case-insensitively; patterns are Go regular expressions.
type Config struct {
	DenylistContent   []string `mapstructure:"denylist_content" yaml:"denylist_content"`
	MaliciousPatterns []string `mapstructure:"malicious_patterns" yaml:"malicious_patterns"`

	FinancialKeywords []string `mapstructure:"financial_keywords" yaml:"financial_keywords"`
	AmountPatterns    []string `mapstructure:"amount_patterns" yaml:"amount_patterns"`

	SensitiveKeywords      []string `mapstructure:"sensitive_keywords" yaml:"sensitive_keywords"`
	SensitivePatterns      []string `mapstructure:"sensitive_patterns" yaml:"sensitive_patterns"`
	SystemCriticalKeywords []string `mapstructure:"system_critical_keywords" yaml:"system_critical_keywords"`
	WriteKeywords          []string `mapstructure:"write_keywords" yaml:"write_keywords"`

	// CustomRules are CEL boolean expressions evaluated by the scope gate; a rule
	// that evaluates to true denies the action.
	CustomRules []Rule `mapstructure:"custom_rules" yaml:"custom_rules"`

	// OverrideCodes is the fixed set accepted by the break-glass path.
	OverrideCodes []string `mapstructure:"override_codes" yaml:"override_codes"`

	// AuditCapacity bounds the in-memory trail; zero keeps everything.
	AuditCapacity int `mapstructure:"audit_capacity" yaml:"audit_capacity"`
}

// Rule is one named CEL deny rule. The expression sees `action` (lowercased
// description), `origin` and `request_id` as strings.
type Rule struct {
	Name       string            `mapstructure:"name" yaml:"name"`
	Expression string            `mapstructure:"expression" yaml:"expression"`
	Risk       schemas.RiskLevel `mapstructure:"risk" yaml:"risk"`
}

// DefaultConfig returns the built-in keyword sets.
func DefaultConfig() Config {
	return Config{
		DenylistContent: []string{
			"ransomware", "keylogger", "botnet", "ddos", "credential stuffing",
			"disable antivirus", "disable the firewall", "bypass security",
		},
		MaliciousPatterns: []string{
			`\b(hack|hacking|hacked|exploit|exploiting)\b`,
			`\b(phish|phishing)\w*`,
			`\b(malware|trojan|backdoor|rootkit|spyware)\b`,
			`\bsteal(ing)?\b.*\b(password|credential|cookie|token)s?\b`,
		},
		FinancialKeywords: []string{
			"buy", "purchase", "sell", "pay", "payment", "checkout", "order",
			"transfer", "wire", "invest", "trade", "shares", "stock", "stocks",
			"bitcoin", "crypto", "donate", "subscribe", "withdraw", "deposit",
		},
		AmountPatterns: []string{
			`[$€£¥]\s?\d[\d,]*(\.\d+)?`,
			`\b\d[\d,]*(\.\d+)?\s?(usd|eur|gbp|jpy|btc|eth|dollars?|euros?|pounds?)\b`,
		},
		SensitiveKeywords: []string{
			"password", "passwords", "passwd", "ssn", "social security",
			"credit card", "card number", "cvv", "pin code", "private key",
			"api key", "secret key", "seed phrase",
		},
		SensitivePatterns: []string{
			`\b\d{3}-\d{2}-\d{4}\b`,
			`\b(?:\d[ -]?){13,16}\b`,
		},
		SystemCriticalKeywords: []string{
			"delete", "format", "shutdown", "shut down", "reboot", "restart",
			"registry", "regedit", "system32", "sudo", "uninstall", "wipe",
			"erase", "overwrite", "rm -rf", "diskpart", "mkfs",
		},
		WriteKeywords: []string{
			"delete", "format", "wipe", "erase", "overwrite", "rm -rf", "mkfs", "diskpart",
		},
		OverrideCodes: []string{},
		AuditCapacity: 10000,
	}
}
