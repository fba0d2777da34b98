package safety

// Built-in rule tables. The deny list covers destructive filesystem and
// privilege/power operations; the warn list covers operations that are
// sometimes intended but worth flagging (deletion, moves, permission
// changes). Both lists are ordered: the first match decides.
//
// Deployments override these via the safety section of the config file; the
// deny-before-warn evaluation order is structural and cannot be configured
// away.

// DefaultDenyRules returns the built-in deny list.
func DefaultDenyRules() []Rule {
	return []Rule{
		mustRule("rm_root",
			`\brm\b[^;]*\s-\w*r\w*f?\w*\s+(/|/\*|--no-preserve-root)`,
			"recursive deletion of the filesystem root"),
		mustRule("rm_force_root",
			`\brm\s+(-\w+\s+)*/(\s|$)`,
			"deletion targeting the filesystem root"),
		mustRule("mkfs",
			`\bmkfs(\.\w+)?\b`,
			"filesystem creation destroys existing data"),
		mustRule("dd_device",
			`\bdd\b.*\bof=/dev/`,
			"raw write to a block device"),
		mustRule("fork_bomb",
			`:\s*\(\s*\)\s*\{.*\|.*&.*\}`,
			"fork bomb"),
		mustRule("device_overwrite",
			`>\s*/dev/(sd|nvme|hd|vd)\w*`,
			"redirect onto a block device"),
		mustRule("chmod_root",
			`\bchmod\b.*\s(-\w*r\w*|--recursive)\s+.*\s/(\s|$)`,
			"recursive permission change on the filesystem root"),
		mustRule("shutdown",
			`\b(shutdown|poweroff|halt|reboot)\b`,
			"power state change"),
		mustRule("init_runlevel",
			`\binit\s+[06]\b`,
			"runlevel change (halt/reboot)"),
		mustRule("user_removal",
			`\buserdel\b|\bgroupdel\b`,
			"account removal"),
		mustRule("passwd_root",
			`\bpasswd\s+root\b`,
			"root password change"),
		mustRule("history_wipe",
			`\bhistory\s+-c\b`,
			"shell history destruction"),
	}
}

// DefaultWarnRules returns the built-in warn list.
func DefaultWarnRules() []Rule {
	return []Rule{
		mustRule("rm",
			`\brm\b`,
			"file deletion"),
		mustRule("mv",
			`\bmv\b`,
			"file move/rename can overwrite the destination"),
		mustRule("chmod",
			`\bchmod\b`,
			"permission change"),
		mustRule("chown",
			`\bchown\b|\bchgrp\b`,
			"ownership change"),
		mustRule("dd",
			`\bdd\b`,
			"low-level copy"),
		mustRule("truncate",
			`\btruncate\b|\bshred\b`,
			"content destruction"),
		mustRule("kill",
			`\bkill(all)?\b|\bpkill\b`,
			"process termination"),
		mustRule("sudo",
			`\bsudo\b|\bdoas\b`,
			"privilege escalation"),
		mustRule("package_removal",
			`\b(apt(-get)?|dnf|yum|pacman|apk)\b.*\b(remove|purge|erase|-r(ns)?)\b`,
			"package removal"),
		mustRule("git_destructive",
			`\bgit\s+(reset\s+--hard|clean\s+-\w*f|push\s+.*--force)`,
			"destructive git operation"),
	}
}
