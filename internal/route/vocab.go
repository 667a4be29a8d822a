package route

// CoreVocabulary must match for any entry to be routed. It keeps generic news
// that only shares a word with a category (a "hacker" golf story) out.
var CoreVocabulary = []string{
	"security", "cyber", "hacker", "malware", "ransomware", "exploit",
	"vulnerability", "cvss", "zero-day", "breach", "phishing", "ddos",
	"botnet", "apt", "cve", "infosec", "pentest", "forensics", "patch",
	"incident", "bypass", "rce", "injection", "xss", "sqli", "auth",
	"cisa", "nsa", "fbi", "mitre", "owasp", "nist", "gdpr", "lgpd",
}

// Blocklist rejects an entry for every tenant.
var Blocklist = []string{
	"casino", "gambling", "dating", "meet singles",
	"weight loss", "crypto", "bitcoin", "blockchain", "nft",
	"sale", "deal", "discount", "coupon", "amazon prime",
}

// Categories maps a filter tag to its keyword group.
var Categories = map[string][]string{
	"malware":       {"malware", "virus", "trojan", "spyware", "backdoor", "rootkit", "worm", "botnet", "command and control", "c2"},
	"ransomware":    {"ransomware", "encrypt", "extortion", "lockbit", "clop", "blackcat", "royal", "play", "akira"},
	"vulnerability": {"vulnerability", "bug", "patch", "update", "weakness", "flaw", "cisa", "nist"},
	"cvss":          {"cvss", "score", "severity", "critical", "high"},
	"zero-day":      {"zero-day", "0-day", "unpatched", "in the wild"},
	"first-day":     {"first-day", "1-day", "recently patched"},
	"exploit":       {"exploit", "poc", "proof of concept", "attack vector", "rce", "remote code execution"},
	"data breach":   {"breach", "leak", "dump", "database", "exposed", "records", "millions"},
	"hacker":        {"hacker", "attacker", "threat actor", "apt", "group", "defaced"},
	"security":      {"security", "cyber", "infosec", "protection", "defense", "hardening", "policy"},
	"cve":           {"cve-", "cve-202", "cve-2024", "cve-2025", "cve-2026"},
}

// Wildcard filter tags accept anything that passes the blocklist and the core
// vocabulary.
var wildcards = []string{"all", "todos"}

// Label is how a category is shown to tenants.
type Label struct {
	Name  string
	Emoji string
}

var labels = map[string]Label{
	"todos":         {"ALL INTEL", "🌟"},
	"malware":       {"Malware", "🦠"},
	"ransomware":    {"Ransomware", "🔒"},
	"vulnerability": {"Vulnerability", "🛡️"},
	"exploit":       {"Exploit", "💥"},
	"zero-day":      {"Zero-Day", "🕵️"},
	"data breach":   {"Breach", "📂"},
	"cve":           {"CVE", "🆔"},
}

// LabelFor returns the label of a filter tag. Tags without their own label
// fall back to the wildcard one.
func LabelFor(tag string) Label {
	if l, ok := labels[tag]; ok {
		return l
	}
	return labels["todos"]
}

// FilterTags lists the tags tenants can subscribe to, wildcard first.
func FilterTags() []string {
	return []string{"todos", "malware", "ransomware", "vulnerability", "exploit", "zero-day", "data breach", "cve"}
}
