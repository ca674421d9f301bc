// Package mapper turns forensic artifact observations into scored MITRE
// ATT&CK technique matches.
//
// Scoring is table-driven: each artifact type carries candidate techniques
// with authored base confidences, and free-text context plus structured data
// fields can each add one fixed bonus per technique. Results are clamped to
// [0,1] and ordered by confidence (descending), then technique ID
// (ascending), so identical observations always produce identical output.
package mapper

import "sort"

// ArtifactType identifies a kind of forensic artifact, e.g. "prefetch" or
// "bash_history". The mapper ships a built-in vocabulary; custom mappings
// may introduce further types at runtime.
type ArtifactType string

// Built-in artifact vocabulary.
const (
	// Windows execution evidence.
	ArtifactPrefetch  ArtifactType = "prefetch"
	ArtifactShimcache ArtifactType = "shimcache"
	ArtifactAmcache   ArtifactType = "amcache"

	// Windows credential material.
	ArtifactLSASSDump ArtifactType = "lsass_dump"
	ArtifactSAMHive   ArtifactType = "sam_hive"
	ArtifactNTDSDit   ArtifactType = "ntds_dit"

	// Windows persistence and configuration.
	ArtifactRegistryRunKeys ArtifactType = "registry_run_keys"
	ArtifactRegistryHives   ArtifactType = "registry_hives"
	ArtifactScheduledTasks  ArtifactType = "scheduled_tasks"
	ArtifactServices        ArtifactType = "services"
	ArtifactWMIPersistence  ArtifactType = "wmi_persistence"
	ArtifactEventLogs       ArtifactType = "event_logs"

	// Windows user activity.
	ArtifactLnkFiles   ArtifactType = "lnk_files"
	ArtifactRecycleBin ArtifactType = "recycle_bin"
	ArtifactShellbags  ArtifactType = "shellbags"
	ArtifactUSBDevices ArtifactType = "usb_devices"

	// Cross-platform user activity.
	ArtifactBrowserHistory   ArtifactType = "browser_history"
	ArtifactBrowserDownloads ArtifactType = "browser_downloads"

	// Shell histories.
	ArtifactPowerShellHistory ArtifactType = "powershell_history"
	ArtifactBashHistory       ArtifactType = "bash_history"
	ArtifactZshHistory        ArtifactType = "zsh_history"

	// Unix persistence and access.
	ArtifactCronJobs          ArtifactType = "cron_jobs"
	ArtifactSSHAuthorizedKeys ArtifactType = "ssh_authorized_keys"
	ArtifactSSHKnownHosts     ArtifactType = "ssh_known_hosts"

	// macOS persistence and credential material.
	ArtifactLaunchAgents  ArtifactType = "launch_agents"
	ArtifactLaunchDaemons ArtifactType = "launch_daemons"
	ArtifactUnifiedLogs   ArtifactType = "unified_logs"
	ArtifactKeychain      ArtifactType = "keychain"

	// System state snapshots.
	ArtifactStartupItems      ArtifactType = "startup_items"
	ArtifactInstalledPrograms ArtifactType = "installed_programs"
	ArtifactProcesses         ArtifactType = "processes"
	ArtifactMemoryDump        ArtifactType = "memory_dump"

	// Network state.
	ArtifactNetworkConnections ArtifactType = "network_connections"
	ArtifactDNSCache           ArtifactType = "dns_cache"
	ArtifactFirewallRules      ArtifactType = "firewall_rules"

	// Security tooling output.
	ArtifactAntivirusDetections ArtifactType = "antivirus_detections"
)

// String returns the string representation of the artifact type.
func (a ArtifactType) String() string {
	return string(a)
}

// IsValid returns true if the artifact type is part of the built-in
// vocabulary. Custom-mapped types are not reported here.
func (a ArtifactType) IsValid() bool {
	_, ok := baseTable[a]
	return ok
}

// AllArtifactTypes returns the built-in vocabulary in ascending order.
func AllArtifactTypes() []ArtifactType {
	out := make([]ArtifactType, 0, len(baseTable))
	for at := range baseTable {
		out = append(out, at)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Observation is a single forensic artifact presented for mapping.
type Observation struct {
	// ArtifactType tags the artifact kind, e.g. "powershell_history".
	ArtifactType ArtifactType `json:"artifact_type"`

	// Context carries free text extracted from the artifact, such as a
	// command line or log excerpt. Matched case-insensitively against
	// context patterns.
	Context string `json:"context,omitempty"`

	// Data carries structured fields extracted from the artifact, such as
	// {"filename": "mimikatz.exe"}. Values are matched case-insensitively
	// against data rules.
	Data map[string]string `json:"data,omitempty"`
}
