//go:build darwin

package sandbox

import (
	"fmt"
	"strings"
)

// buildSeatbeltProfile renders an SBPL profile for sandbox-exec scoped to
// cfg: the process may read its workspace, env cache and system
// interpreter paths, may write only to its output dir, and may open
// outbound network sockets only when cfg.NetworkEnabled (and then only
// through the loopback proxy, never a raw connect to the public internet —
// the allowlist itself is enforced by the proxy, not by Seatbelt, because
// SBPL has no notion of destination domain).
func buildSeatbeltProfile(cfg SandboxConfig) string {
	var b strings.Builder
	b.WriteString("(version 1)\n")
	b.WriteString("(deny default)\n")
	b.WriteString("(allow process-exec)\n")
	b.WriteString("(allow process-fork)\n")
	b.WriteString("(allow signal (target self))\n")
	b.WriteString("(allow sysctl-read)\n")
	b.WriteString("(allow file-read-metadata)\n")

	b.WriteString("(allow file-read*\n")
	for _, p := range []string{"/usr/lib", "/usr/bin", "/System/Library", "/bin", "/dev/null", "/dev/urandom", "/private/etc"} {
		fmt.Fprintf(&b, "  (subpath %q)\n", p)
	}
	fmt.Fprintf(&b, "  (subpath %q)\n", cfg.WorkspaceRoot)
	if cfg.EnvCacheDir != "" {
		fmt.Fprintf(&b, "  (subpath %q)\n", cfg.EnvCacheDir)
	}
	b.WriteString(")\n")

	b.WriteString("(allow file-write*\n")
	fmt.Fprintf(&b, "  (subpath %q)\n", cfg.OutputDir)
	b.WriteString(")\n")

	if cfg.NetworkEnabled && cfg.ProxyPort > 0 {
		b.WriteString("(allow network-outbound\n")
		b.WriteString("  (remote ip \"localhost:" + fmt.Sprint(cfg.ProxyPort) + "\")\n")
		b.WriteString(")\n")
		b.WriteString("(allow network-outbound (remote unix-socket))\n")
	} else {
		b.WriteString("(deny network*)\n")
	}

	writeMandatoryDenyList(&b)

	return b.String()
}

// sensitiveWriteGlobs is the compiled-in mandatory deny list: sensitive
// config paths a skill must never be able to write to, regardless of what
// OutputDir or WorkspaceRoot the allow rules above grant. This is a property
// of the system, not the skill, and is applied last so it cannot be
// overridden by an allow rule earlier in the profile.
var sensitiveWriteGlobs = []string{
	"/.bashrc", "/.bash_profile", "/.zshrc", "/.zprofile", "/.profile",
	"/.gitconfig", "/.git/config", "/.git/hooks",
	"/.vscode", "/.idea",
	"/.npmrc", "/.pip", "/.pip.conf", "/.cargo/config.toml", "/.gemrc",
	"/.ssh", "/.gnupg",
	"/.aws", "/.config/gcloud", "/.azure",
	"/.claude", "/.config/claude", "/.codeium", "/.cursor",
}

// writeMandatoryDenyList emits a final (deny file-write* ...) block covering
// sensitiveWriteGlobs under the user's home directory, applied after every
// allow rule so it is never shadowed by a broader allow.
func writeMandatoryDenyList(b *strings.Builder) {
	b.WriteString("(deny file-write*\n")
	for _, g := range sensitiveWriteGlobs {
		fmt.Fprintf(b, "  (regex #\"^(/Users/[^/]+|/home/[^/]+|/var/root)%s\")\n", regexEscape(g))
	}
	b.WriteString(")\n")
}

// regexEscape escapes characters SBPL's (regex ...) term treats specially
// (Seatbelt regex dialect is POSIX ERE) — the globs above only ever contain
// '.' as a literal path separator component, so that is all that needs
// escaping.
func regexEscape(s string) string {
	return strings.ReplaceAll(s, ".", `\.`)
}
