package scanner

import (
	"regexp"

	"github.com/skillcore/sandbox/internal/manifest"
)

// Rule is a single pattern check: a stable id, a compiled regex, a kind, a
// severity, and the languages it applies to. Rules are data, not code —
// the default set below is embedded and immutable; per-skill overrides can
// disable ids or append custom rules, subject to the severity cap in
// spec.md §4.3.
type Rule struct {
	ID        string
	Pattern   *regexp.Regexp
	Kind      IssueKind
	Severity  Severity
	Languages []manifest.Language // empty means "all languages"
	Message   string
}

func (r Rule) appliesTo(lang manifest.Language) bool {
	if len(r.Languages) == 0 {
		return true
	}
	for _, l := range r.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

var py = []manifest.Language{manifest.Python}
var js = []manifest.Language{manifest.JavaScript, manifest.TypeScript}
var sh = []manifest.Language{manifest.Shell}

// defaultRules is the embedded default rule set, covering at minimum the
// categories enumerated in spec.md §4.3. Order does not affect the output
// set: every rule is evaluated independently against every file.
var defaultRules = []Rule{
	{
		ID: "code-injection-eval", Kind: CodeInjection, Severity: High,
		Pattern: regexp.MustCompile(`\beval\s*\(`),
		Message: "call to eval()",
	},
	{
		ID: "code-injection-exec-py", Kind: CodeInjection, Severity: High,
		Pattern: regexp.MustCompile(`\bexec\s*\(`), Languages: py,
		Message: "call to exec()",
	},
	{
		ID: "code-injection-function-ctor", Kind: CodeInjection, Severity: High,
		Pattern: regexp.MustCompile(`\bFunction\s*\(`), Languages: js,
		Message: "dynamic Function() constructor",
	},
	{
		ID: "code-injection-vm-context", Kind: CodeInjection, Severity: High,
		Pattern: regexp.MustCompile(`vm\.runInThisContext`), Languages: js,
		Message: "vm.runInThisContext dynamic evaluation",
	},

	{
		ID: "process-exec-subprocess", Kind: ProcessExecution, Severity: High,
		Pattern: regexp.MustCompile(`\bsubprocess\.`), Languages: py,
		Message: "subprocess module invocation",
	},
	{
		ID: "process-exec-os-system", Kind: ProcessExecution, Severity: High,
		Pattern: regexp.MustCompile(`\bos\.system\s*\(`), Languages: py,
		Message: "os.system() shell invocation",
	},
	{
		ID: "process-exec-os-popen", Kind: ProcessExecution, Severity: High,
		Pattern: regexp.MustCompile(`\bos\.popen\s*\(`), Languages: py,
		Message: "os.popen() shell invocation",
	},
	{
		ID: "process-exec-child-process", Kind: ProcessExecution, Severity: High,
		Pattern: regexp.MustCompile(`\bchild_process\.`), Languages: js,
		Message: "child_process module invocation",
	},

	{
		ID: "dangerous-module-os", Kind: DangerousModule, Severity: Medium,
		Pattern: regexp.MustCompile(`^\s*import\s+os\b|^\s*from\s+os\s+import`), Languages: py,
		Message: "import of os module",
	},
	{
		ID: "dangerous-module-sys", Kind: DangerousModule, Severity: Low,
		Pattern: regexp.MustCompile(`^\s*import\s+sys\b|^\s*from\s+sys\s+import`), Languages: py,
		Message: "import of sys module",
	},
	{
		ID: "dangerous-module-ctypes", Kind: DangerousModule, Severity: High,
		Pattern: regexp.MustCompile(`^\s*import\s+ctypes\b|^\s*from\s+ctypes\s+import`), Languages: py,
		Message: "import of ctypes module (native memory access)",
	},
	{
		ID: "dangerous-module-fs", Kind: DangerousModule, Severity: Medium,
		Pattern: regexp.MustCompile(`require\(['"]fs['"]\)|from\s+['"]fs['"]`), Languages: js,
		Message: "import of fs module",
	},

	{
		ID: "network-request-requests", Kind: NetworkRequest, Severity: High,
		Pattern: regexp.MustCompile(`\brequests\.(get|post|put|delete|patch|head)\s*\(`), Languages: py,
		Message: "HTTP client call",
	},
	{
		ID: "network-request-urllib", Kind: NetworkRequest, Severity: High,
		Pattern: regexp.MustCompile(`urllib\.request\.urlopen\s*\(`), Languages: py,
		Message: "HTTP client call via urllib",
	},
	{
		ID: "network-request-fetch", Kind: NetworkRequest, Severity: High,
		Pattern: regexp.MustCompile(`\bfetch\s*\(|\baxios\.`), Languages: js,
		Message: "HTTP client call",
	},

	{
		ID: "memory-bomb-string-multiply", Kind: MemoryBomb, Severity: High,
		Pattern: regexp.MustCompile(`["'][^"']*["']\s*\*\s*(\d{8,}|2\s*\*\*\s*(2[4-9]|[3-9]\d))`), Languages: py,
		Message: "unbounded string multiplication",
	},
	{
		ID: "memory-bomb-infinite-loop", Kind: MemoryBomb, Severity: Medium,
		Pattern: regexp.MustCompile(`^\s*while\s+True\s*:\s*$`), Languages: py,
		Message: "unconditional infinite loop with no visible yield",
	},

	{
		ID: "file-op-absolute-write", Kind: FileOperation, Severity: Medium,
		Pattern: regexp.MustCompile(`open\s*\(\s*["']/(etc|root|var|usr|boot)/`), Languages: py,
		Message: "write targeting an absolute system path",
	},

	{
		ID: "system-access-sudo", Kind: SystemAccess, Severity: Critical,
		Pattern: regexp.MustCompile(`\bsudo\b|\bdoas\b`), Languages: sh,
		Message: "privilege escalation via sudo/doas",
	},
}
