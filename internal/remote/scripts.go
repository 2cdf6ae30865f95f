package remote

import (
	"fmt"
	"strings"
)

// FingerprintFile records the dependency-manifest hash of the last
// successful dependency sync, relative to the deploy root.
const FingerprintFile = ".skipper-fingerprint"

// sudoPreamble resolves a $SUDO prefix for mutations that need root. It
// refuses to proceed when the remote user is unprivileged and sudo is
// missing.
const sudoPreamble = `SUDO=""
if [ "$(id -u)" -ne 0 ]; then
  if ! command -v sudo >/dev/null 2>&1; then
    echo "sudo is required for non-root remote user" >&2
    exit 1
  fi
  SUDO="sudo"
fi`

// PreflightScript verifies the remote host carries everything the
// orchestrator shells out to.
func PreflightScript() string {
	return strings.TrimSpace(`set -eu
if [ "$(uname -s)" != "Linux" ]; then
  echo "remote host must be Linux" >&2
  exit 1
fi
for c in git python3 systemctl journalctl sha256sum; do
  if ! command -v "$c" >/dev/null 2>&1; then
    echo "missing prerequisite: $c" >&2
    exit 1
  fi
done`) + "\n"
}

// InspectScript gathers the remote half of a state snapshot as key=value
// lines. Probes that cannot run emit nothing for their key instead of
// failing the whole inspection, so the script runs without set -e.
func InspectScript(root, unit string) string {
	return strings.TrimSpace(fmt.Sprintf(`set -u
root=%s
unit=%s.service
if [ -d "$root/.git" ]; then
  echo "deployment=present"
  echo "revision=$(git -C "$root" rev-parse HEAD 2>/dev/null || echo unknown)"
  if [ -n "$(git -C "$root" status --porcelain 2>/dev/null)" ]; then
    echo "dirty=true"
  else
    echo "dirty=false"
  fi
else
  echo "deployment=absent"
fi
if [ -x "$root/.venv/bin/python" ]; then
  echo "venv=present"
else
  echo "venv=absent"
fi
if [ -f "$root/requirements.txt" ]; then
  echo "manifest=$(sha256sum "$root/requirements.txt" | awk '{print $1}')"
fi
if [ -f "$root/%s" ]; then
  echo "fingerprint=$(cat "$root/%s")"
fi
if [ -f "$root/.env" ]; then
  echo "secrets=present"
else
  echo "secrets=absent"
fi
echo "unit_load=$(systemctl show "$unit" --property=LoadState --value 2>/dev/null || echo unknown)"
echo "unit_active=$(systemctl show "$unit" --property=ActiveState --value 2>/dev/null || echo unknown)"
echo "unit_enabled=$(systemctl is-enabled "$unit" 2>/dev/null || true)"`,
		ShellQuote(root), ShellQuote(unit), FingerprintFile, FingerprintFile)) + "\n"
}

// SyncSourceScript clones the repo into root when absent, otherwise
// fetches the target revision and hard-resets only when the checkout is
// stale. Its last output line reports what happened: source=cloned,
// source=updated, or source=unchanged. The dirty guard is a backstop: the
// engine refuses to sync a dirty tree before this script ever runs.
func SyncSourceScript(root, repoURL, revision string) string {
	return strings.TrimSpace(fmt.Sprintf(`set -eu
%s
root=%s
if [ ! -d "$root/.git" ]; then
  $SUDO mkdir -p "$root"
  $SUDO chown "$(id -un)" "$root"
  git clone %s "$root"
  git -C "$root" fetch origin %s
  git -C "$root" reset --hard FETCH_HEAD
  echo "source=cloned"
  exit 0
fi
if [ -n "$(git -C "$root" status --porcelain)" ]; then
  echo "working tree at $root is dirty, refusing to reset" >&2
  exit 1
fi
git -C "$root" fetch origin %s
if [ "$(git -C "$root" rev-parse HEAD)" = "$(git -C "$root" rev-parse FETCH_HEAD)" ]; then
  echo "source=unchanged"
  exit 0
fi
git -C "$root" reset --hard FETCH_HEAD
echo "source=updated"`,
		sudoPreamble, ShellQuote(root), ShellQuote(repoURL),
		ShellQuote(revision), ShellQuote(revision))) + "\n"
}

// SyncDepsScript builds or refreshes the virtualenv from the dependency
// manifest. The rebuild is fingerprint-gated: when the recorded manifest
// hash matches the current one and the env exists, nothing is installed.
// Its last output line reports deps=built, deps=synced, or
// deps=unchanged.
func SyncDepsScript(root string) string {
	return strings.TrimSpace(fmt.Sprintf(`set -eu
cd %s
current=$(sha256sum requirements.txt | awk '{print $1}')
recorded=""
if [ -f %s ]; then
  recorded=$(cat %s)
fi
if [ -x .venv/bin/python ] && [ "$current" = "$recorded" ]; then
  echo "deps=unchanged"
  exit 0
fi
if [ ! -x .venv/bin/python ]; then
  python3 -m venv .venv
  outcome="deps=built"
else
  outcome="deps=synced"
fi
.venv/bin/pip install --quiet -r requirements.txt
printf '%%s\n' "$current" > %s
echo "$outcome"`,
		ShellQuote(root), ShellQuote(FingerprintFile), ShellQuote(FingerprintFile),
		ShellQuote(FingerprintFile))) + "\n"
}

// EnsureSecretsScript creates the secret-set file with the given
// placeholder content unless it already exists. An existing file is
// operator-owned and is never touched, malformed or not.
func EnsureSecretsScript(path, content string) string {
	return strings.TrimSpace(fmt.Sprintf(`set -eu
path=%s
if [ -f "$path" ]; then
  exit 0
fi
umask 077
cat > "$path" <<'SKIPPER_SECRETS'
%s
SKIPPER_SECRETS
chmod 600 "$path"`,
		ShellQuote(path), strings.TrimRight(content, "\n"))) + "\n"
}

// SudoScript wraps body with the set -eu preamble and $SUDO resolution.
func SudoScript(body string) string {
	return "set -eu\n" + sudoPreamble + "\n" + strings.TrimSpace(body) + "\n"
}

// ShellQuote single-quotes s for safe interpolation into a script.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
