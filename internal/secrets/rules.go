package secrets

// DefaultRules returns the built-in detectors. Self-identifying token
// prefixes need no keywords; generic assignments are gated on the words
// that usually accompany them.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "assigned-password",
			Description: "Password or secret assigned a literal value",
			Pattern:     `(?i)(?:secret|password|passwd|pwd)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`,
			Keywords:    []string{"secret", "password", "passwd", "pwd"},
		},
		{
			ID:          "assigned-api-key",
			Description: "API key assigned a literal value",
			Pattern:     `(?i)(?:api[_-]?key|apikey|access[_-]?token)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,64}['"]?`,
			Keywords:    []string{"api", "key", "token"},
		},
		{
			ID:          "bearer-token",
			Description: "Bearer token in an Authorization header",
			Pattern:     `(?i)bearer\s+[A-Za-z0-9_\-\.=]{20,}`,
			Keywords:    []string{"bearer"},
		},
		{
			ID:          "credential-url",
			Description: "Connection URL with embedded credentials",
			Pattern:     `(?i)\b(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqps?|https?|ftp)://[^\s:/@]+:[^\s@]+@[^\s]+`,
		},
		{
			ID:          "private-key",
			Description: "PEM private key header",
			Pattern:     `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP |ENCRYPTED )?PRIVATE KEY(?: BLOCK)?-----`,
		},
		{
			ID:          "jwt",
			Description: "JSON Web Token",
			Pattern:     `eyJ[A-Za-z0-9_-]{8,}\.eyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]+`,
		},
		{
			ID:          "aws-access-key-id",
			Description: "AWS access key id",
			Pattern:     `\b(?:AKIA|ASIA|AGPA|AIDA|AROA)[A-Z0-9]{16}\b`,
		},
		{
			ID:          "github-token",
			Description: "GitHub token",
			Pattern:     `\b(?:gh[pousr]_[A-Za-z0-9]{36}|github_pat_[A-Za-z0-9_]{22,})\b`,
		},
		{
			ID:          "slack-token",
			Description: "Slack token",
			Pattern:     `\bxox[baprs]-[A-Za-z0-9\-]{10,}`,
		},
		{
			ID:          "stripe-key",
			Description: "Stripe key",
			Pattern:     `\b(?:sk|rk|pk)_(?:live|test)_[A-Za-z0-9]{24,}`,
		},
		{
			ID:          "llm-api-key",
			Description: "OpenAI or Anthropic style API key",
			Pattern:     `\bsk-(?:ant-|proj-)?[A-Za-z0-9_\-]{32,}`,
		},
		{
			ID:          "google-api-key",
			Description: "Google API key",
			Pattern:     `\bAIza[A-Za-z0-9_\-]{35}`,
		},
	}
}
