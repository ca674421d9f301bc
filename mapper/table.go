package mapper

import (
	"regexp"
	"strings"
)

// Bonus amounts applied on top of a candidate's base confidence. Context and
// data adjustments are independent; each fires at most once per technique
// per observation, no matter how many of its patterns hit.
const (
	// ContextBonus is added when any context pattern matches the
	// observation's free text.
	ContextBonus = 0.25

	// DataBonus is added when any data rule matches a structured field.
	DataBonus = 0.30
)

// DefaultThreshold is the recommended reporting threshold for artifact types
// without an authored one.
const DefaultThreshold = 0.5

// candidate is one authored technique mapping for an artifact type.
//
// name and tactics are fallbacks used when the loaded catalog does not carry
// the technique; matches against a populated catalog resolve both from it.
type candidate struct {
	id      string
	name    string
	tactics []string
	base    float64

	// signalOnly candidates are emitted only when a context or data rule
	// fires. They express mappings like "a prefetch entry is credential
	// dumping" that hold only in the presence of a corroborating signal.
	signalOnly bool

	// context holds case-insensitive regular expressions matched against
	// Observation.Context.
	context []string

	// data maps Observation.Data keys to lowercase substrings; a hit on
	// any key/value pair counts as one data signal.
	data map[string][]string
}

type artifactEntry struct {
	threshold  float64
	candidates []candidate
}

// Tool and indicator wordlists shared across table entries.
var (
	credentialDumpTools = []string{"mimikatz", "procdump", "lazagne", "pwdump", "gsecdump", "secretsdump", "nanodump", "wce"}
	lateralTools        = []string{"psexec", "paexec", "winexe", "wmiexec", "smbexec", "crackmapexec"}
	remoteAccessTools   = []string{"anydesk", "teamviewer", "screenconnect", "atera", "splashtop", "rustdesk", "ammyy"}
	ransomIndicators    = []string{"ransom", "lockbit", "blackcat", "readme_decrypt", "crypt0", "wannacry"}
	dynamicDNSDomains   = []string{"duckdns", "no-ip", "dyndns", "afraid.org", "hopto.org"}
	lurefileWords       = []string{"invoice", "resume", "payment", "urgent", "order confirmation"}
	suspiciousPorts     = []string{"4444", "1337", "6667", "8443", "9001"}
)

// anyOf builds a case-insensitive alternation regex from literal words.
func anyOf(words ...string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return "(?:" + strings.Join(quoted, "|") + ")"
}

// baseTable is the built-in artifact vocabulary. Candidate order within an
// entry is not significant; Map sorts its output.
var baseTable = map[ArtifactType]artifactEntry{
	ArtifactPrefetch: {
		threshold: 0.3,
		candidates: []candidate{
			{id: "T1204.002", name: "Malicious File", tactics: []string{"execution"}, base: 0.35},
			{id: "T1059", name: "Command and Scripting Interpreter", tactics: []string{"execution"}, base: 0.3},
			{id: "T1003", name: "OS Credential Dumping", tactics: []string{"credential-access"}, base: 0.5, signalOnly: true,
				context: []string{anyOf(credentialDumpTools...), `sekurlsa`, `lsadump`},
				data:    map[string][]string{"filename": credentialDumpTools}},
			{id: "T1570", name: "Lateral Tool Transfer", tactics: []string{"lateral-movement"}, base: 0.45, signalOnly: true,
				context: []string{anyOf(lateralTools...)},
				data:    map[string][]string{"filename": lateralTools}},
		},
	},
	ArtifactShimcache: {
		threshold: 0.3,
		candidates: []candidate{
			{id: "T1059", name: "Command and Scripting Interpreter", tactics: []string{"execution"}, base: 0.35},
			{id: "T1204.002", name: "Malicious File", tactics: []string{"execution"}, base: 0.35},
			{id: "T1003", name: "OS Credential Dumping", tactics: []string{"credential-access"}, base: 0.5, signalOnly: true,
				context: []string{anyOf(credentialDumpTools...)},
				data:    map[string][]string{"filename": credentialDumpTools}},
		},
	},
	ArtifactAmcache: {
		threshold: 0.3,
		candidates: []candidate{
			{id: "T1059", name: "Command and Scripting Interpreter", tactics: []string{"execution"}, base: 0.35},
			{id: "T1204.002", name: "Malicious File", tactics: []string{"execution"}, base: 0.35},
			{id: "T1003", name: "OS Credential Dumping", tactics: []string{"credential-access"}, base: 0.5, signalOnly: true,
				context: []string{anyOf(credentialDumpTools...)},
				data:    map[string][]string{"filename": credentialDumpTools}},
		},
	},
	ArtifactLSASSDump: {
		threshold: 0.8,
		candidates: []candidate{
			{id: "T1003.001", name: "LSASS Memory", tactics: []string{"credential-access"}, base: 0.95,
				context: []string{`sekurlsa`, anyOf(credentialDumpTools...)},
				data:    map[string][]string{"process_name": {"lsass"}}},
			{id: "T1003", name: "OS Credential Dumping", tactics: []string{"credential-access"}, base: 0.9},
		},
	},
	ArtifactSAMHive: {
		threshold: 0.7,
		candidates: []candidate{
			{id: "T1003.002", name: "Security Account Manager", tactics: []string{"credential-access"}, base: 0.85,
				context: []string{`reg(?:\.exe)?\s+save`, `shadow\s*copy`}},
			{id: "T1003", name: "OS Credential Dumping", tactics: []string{"credential-access"}, base: 0.8},
		},
	},
	ArtifactNTDSDit: {
		threshold: 0.7,
		candidates: []candidate{
			{id: "T1003.003", name: "NTDS", tactics: []string{"credential-access"}, base: 0.9,
				context: []string{`ntdsutil`, `vssadmin`, `secretsdump`}},
			{id: "T1003", name: "OS Credential Dumping", tactics: []string{"credential-access"}, base: 0.85},
		},
	},
	ArtifactMemoryDump: {
		threshold: 0.4,
		candidates: []candidate{
			{id: "T1055", name: "Process Injection", tactics: []string{"defense-evasion", "privilege-escalation"}, base: 0.5, signalOnly: true,
				context: []string{`inject`, `hollow`, `shellcode`, `reflective`}},
			{id: "T1003.001", name: "LSASS Memory", tactics: []string{"credential-access"}, base: 0.55, signalOnly: true,
				context: []string{`lsass`, `sekurlsa`},
				data:    map[string][]string{"process_name": {"lsass"}}},
		},
	},
	ArtifactRegistryRunKeys: {
		threshold: 0.5,
		candidates: []candidate{
			{id: "T1547.001", name: "Registry Run Keys / Startup Folder", tactics: []string{"persistence", "privilege-escalation"}, base: 0.75,
				context: []string{`\\temp\\`, `\\appdata\\`, `powershell`, `rundll32`, `mshta`}},
			{id: "T1112", name: "Modify Registry", tactics: []string{"defense-evasion"}, base: 0.4},
		},
	},
	ArtifactRegistryHives: {
		threshold: 0.3,
		candidates: []candidate{
			{id: "T1112", name: "Modify Registry", tactics: []string{"defense-evasion"}, base: 0.35},
			{id: "T1552.002", name: "Credentials in Registry", tactics: []string{"credential-access"}, base: 0.5, signalOnly: true,
				context: []string{`password`, `credential`, `autologon`}},
			{id: "T1547.001", name: "Registry Run Keys / Startup Folder", tactics: []string{"persistence", "privilege-escalation"}, base: 0.4, signalOnly: true,
				context: []string{`currentversion\\run`, `\\run\\`, `runonce`}},
		},
	},
	ArtifactScheduledTasks: {
		threshold: 0.5,
		candidates: []candidate{
			{id: "T1053.005", name: "Scheduled Task", tactics: []string{"execution", "persistence", "privilege-escalation"}, base: 0.7,
				context: []string{`powershell`, `cmd\s*/c`, `\\temp\\`, `\\appdata\\`, `rundll32`}},
			{id: "T1059", name: "Command and Scripting Interpreter", tactics: []string{"execution"}, base: 0.4, signalOnly: true,
				context: []string{`powershell`, `cmd\s*/c`, `wscript`, `mshta`}},
		},
	},
	ArtifactServices: {
		threshold: 0.4,
		candidates: []candidate{
			{id: "T1543.003", name: "Windows Service", tactics: []string{"persistence", "privilege-escalation"}, base: 0.65,
				context: []string{`\\temp\\`, `\\appdata\\`, `powershell`, `cmd\s*/c`}},
			{id: "T1569.002", name: "Service Execution", tactics: []string{"execution"}, base: 0.45,
				context: []string{anyOf(lateralTools...)}},
		},
	},
	ArtifactWMIPersistence: {
		threshold: 0.6,
		candidates: []candidate{
			{id: "T1546.003", name: "Windows Management Instrumentation Event Subscription", tactics: []string{"persistence", "privilege-escalation"}, base: 0.8,
				context: []string{`commandlineeventconsumer`, `activescripteventconsumer`, `powershell`}},
		},
	},
	ArtifactEventLogs: {
		threshold: 0.3,
		candidates: []candidate{
			{id: "T1078", name: "Valid Accounts", tactics: []string{"defense-evasion", "persistence", "privilege-escalation", "initial-access"}, base: 0.3,
				context: []string{`4624`, `4672`, `logon`}},
			{id: "T1110", name: "Brute Force", tactics: []string{"credential-access"}, base: 0.5, signalOnly: true,
				context: []string{`4625`, `failed logon`, `account lockout`, `4740`}},
			{id: "T1070.001", name: "Clear Windows Event Logs", tactics: []string{"defense-evasion"}, base: 0.55, signalOnly: true,
				context: []string{`1102`, `log.{0,10}cleared`, `wevtutil\s+cl`}},
		},
	},
	ArtifactLnkFiles: {
		threshold: 0.3,
		candidates: []candidate{
			{id: "T1547.009", name: "Shortcut Modification", tactics: []string{"persistence", "privilege-escalation"}, base: 0.45,
				context: []string{`\\startup\\`, `powershell`, `cmd\s*/c`}},
			{id: "T1204.002", name: "Malicious File", tactics: []string{"execution"}, base: 0.4},
			{id: "T1566.001", name: "Spearphishing Attachment", tactics: []string{"initial-access"}, base: 0.5, signalOnly: true,
				context: []string{anyOf(lurefileWords...)},
				data:    map[string][]string{"filename": lurefileWords}},
		},
	},
	ArtifactRecycleBin: {
		threshold: 0.3,
		candidates: []candidate{
			{id: "T1070.004", name: "File Deletion", tactics: []string{"defense-evasion"}, base: 0.45,
				context: []string{anyOf(credentialDumpTools...), `\.log$`, `evidence`}},
		},
	},
	ArtifactShellbags: {
		threshold: 0.3,
		candidates: []candidate{
			{id: "T1083", name: "File and Directory Discovery", tactics: []string{"discovery"}, base: 0.4},
			{id: "T1074.001", name: "Local Data Staging", tactics: []string{"collection"}, base: 0.45, signalOnly: true,
				context: []string{`\\temp\\`, `\\staging\\`, `exfil`, `\\recycler`}},
		},
	},
	ArtifactUSBDevices: {
		threshold: 0.35,
		candidates: []candidate{
			{id: "T1091", name: "Replication Through Removable Media", tactics: []string{"initial-access", "lateral-movement"}, base: 0.5},
			{id: "T1052.001", name: "Exfiltration over USB", tactics: []string{"exfiltration"}, base: 0.5, signalOnly: true,
				context: []string{`mass storage`, `copied`, `exfil`}},
		},
	},
	ArtifactBrowserHistory: {
		threshold: 0.3,
		candidates: []candidate{
			{id: "T1204.001", name: "Malicious Link", tactics: []string{"execution"}, base: 0.35},
			{id: "T1071.001", name: "Web Protocols", tactics: []string{"command-and-control"}, base: 0.3},
			{id: "T1566.002", name: "Spearphishing Link", tactics: []string{"initial-access"}, base: 0.5, signalOnly: true,
				context: []string{anyOf("bit.ly", "tinyurl", "t.co/"), `phish`, `login.{0,20}verify`}},
		},
	},
	ArtifactBrowserDownloads: {
		threshold: 0.35,
		candidates: []candidate{
			{id: "T1105", name: "Ingress Tool Transfer", tactics: []string{"command-and-control"}, base: 0.5},
			{id: "T1204.002", name: "Malicious File", tactics: []string{"execution"}, base: 0.45,
				context: []string{`\.(?:iso|vhd|js|hta|scr)\b`, `double extension`}},
			{id: "T1003", name: "OS Credential Dumping", tactics: []string{"credential-access"}, base: 0.5, signalOnly: true,
				context: []string{anyOf(credentialDumpTools...)},
				data:    map[string][]string{"filename": credentialDumpTools}},
		},
	},
	ArtifactPowerShellHistory: {
		threshold: 0.4,
		candidates: []candidate{
			{id: "T1059.001", name: "PowerShell", tactics: []string{"execution"}, base: 0.9,
				context: []string{`-enc(?:odedcommand)?\b`, `downloadstring`, `invoke-expression`, `\biex\b`, `-nop\b`, `bypass`}},
			{id: "T1003", name: "OS Credential Dumping", tactics: []string{"credential-access"}, base: 0.6, signalOnly: true,
				context: []string{anyOf(credentialDumpTools...), `dumpcreds`, `sekurlsa`, `lsadump`},
				data:    map[string][]string{"filename": credentialDumpTools}},
			{id: "T1003.001", name: "LSASS Memory", tactics: []string{"credential-access"}, base: 0.6, signalOnly: true,
				context: []string{`sekurlsa`, `lsass`, `mimikatz`}},
			{id: "T1105", name: "Ingress Tool Transfer", tactics: []string{"command-and-control"}, base: 0.45, signalOnly: true,
				context: []string{`downloadstring`, `downloadfile`, `invoke-webrequest`, `\biwr\b`, `start-bitstransfer`, `certutil.{0,40}urlcache`}},
			{id: "T1027", name: "Obfuscated Files or Information", tactics: []string{"defense-evasion"}, base: 0.4, signalOnly: true,
				context: []string{`-enc(?:odedcommand)?\b`, `frombase64string`, `-join`, `\[char\]`}},
			{id: "T1562.001", name: "Disable or Modify Tools", tactics: []string{"defense-evasion"}, base: 0.45, signalOnly: true,
				context: []string{`set-mppreference`, `disablerealtimemonitoring`, `amsiutils`, `amsiinitfailed`}},
		},
	},
	ArtifactBashHistory: {
		threshold:  0.4,
		candidates: unixShellCandidates,
	},
	ArtifactZshHistory: {
		threshold:  0.4,
		candidates: unixShellCandidates,
	},
	ArtifactCronJobs: {
		threshold: 0.5,
		candidates: []candidate{
			{id: "T1053.003", name: "Cron", tactics: []string{"execution", "persistence", "privilege-escalation"}, base: 0.7,
				context: []string{`curl`, `wget`, `/tmp/`, `/dev/shm/`, `base64`}},
		},
	},
	ArtifactSSHAuthorizedKeys: {
		threshold: 0.5,
		candidates: []candidate{
			{id: "T1098.004", name: "SSH Authorized Keys", tactics: []string{"persistence", "privilege-escalation"}, base: 0.7},
			{id: "T1021.004", name: "SSH", tactics: []string{"lateral-movement"}, base: 0.4},
		},
	},
	ArtifactSSHKnownHosts: {
		threshold: 0.3,
		candidates: []candidate{
			{id: "T1021.004", name: "SSH", tactics: []string{"lateral-movement"}, base: 0.45},
			{id: "T1018", name: "Remote System Discovery", tactics: []string{"discovery"}, base: 0.35},
		},
	},
	ArtifactLaunchAgents: {
		threshold: 0.5,
		candidates: []candidate{
			{id: "T1543.001", name: "Launch Agent", tactics: []string{"persistence", "privilege-escalation"}, base: 0.7,
				context: []string{`/tmp/`, `/users/shared/`, `base64`, `curl`}},
		},
	},
	ArtifactLaunchDaemons: {
		threshold: 0.5,
		candidates: []candidate{
			{id: "T1543.004", name: "Launch Daemon", tactics: []string{"persistence", "privilege-escalation"}, base: 0.7,
				context: []string{`/tmp/`, `/users/shared/`, `base64`, `curl`}},
		},
	},
	ArtifactUnifiedLogs: {
		threshold: 0.3,
		candidates: []candidate{
			{id: "T1078", name: "Valid Accounts", tactics: []string{"defense-evasion", "persistence", "privilege-escalation", "initial-access"}, base: 0.3},
			{id: "T1070.002", name: "Clear Linux or Mac System Logs", tactics: []string{"defense-evasion"}, base: 0.5, signalOnly: true,
				context: []string{`log\s+erase`, `deleted`, `tccutil\s+reset`}},
		},
	},
	ArtifactKeychain: {
		threshold: 0.5,
		candidates: []candidate{
			{id: "T1555.001", name: "Keychain", tactics: []string{"credential-access"}, base: 0.7,
				context: []string{`security\s+dump-keychain`, `chainbreaker`}},
		},
	},
	ArtifactStartupItems: {
		threshold: 0.4,
		candidates: []candidate{
			{id: "T1547", name: "Boot or Logon Autostart Execution", tactics: []string{"persistence", "privilege-escalation"}, base: 0.55,
				context: []string{`\\temp\\`, `\\appdata\\`, `/tmp/`, `powershell`, `curl`}},
		},
	},
	ArtifactInstalledPrograms: {
		threshold: 0.35,
		candidates: []candidate{
			{id: "T1219", name: "Remote Access Software", tactics: []string{"command-and-control"}, base: 0.5, signalOnly: true,
				context: []string{anyOf(remoteAccessTools...)},
				data:    map[string][]string{"name": remoteAccessTools}},
			{id: "T1072", name: "Software Deployment Tools", tactics: []string{"execution", "lateral-movement"}, base: 0.45, signalOnly: true,
				context: []string{`pdq deploy`, `sccm`, anyOf(lateralTools...)}},
		},
	},
	ArtifactProcesses: {
		threshold: 0.35,
		candidates: []candidate{
			{id: "T1003", name: "OS Credential Dumping", tactics: []string{"credential-access"}, base: 0.55, signalOnly: true,
				context: []string{anyOf(credentialDumpTools...)},
				data:    map[string][]string{"process_name": credentialDumpTools}},
			{id: "T1219", name: "Remote Access Software", tactics: []string{"command-and-control"}, base: 0.5, signalOnly: true,
				context: []string{anyOf(remoteAccessTools...)},
				data:    map[string][]string{"process_name": remoteAccessTools}},
			{id: "T1055", name: "Process Injection", tactics: []string{"defense-evasion", "privilege-escalation"}, base: 0.5, signalOnly: true,
				context: []string{`inject`, `hollow`, `unbacked`}},
		},
	},
	ArtifactNetworkConnections: {
		threshold: 0.3,
		candidates: []candidate{
			{id: "T1071", name: "Application Layer Protocol", tactics: []string{"command-and-control"}, base: 0.4},
			{id: "T1571", name: "Non-Standard Port", tactics: []string{"command-and-control"}, base: 0.5, signalOnly: true,
				context: []string{`:(?:` + strings.Join(suspiciousPorts, "|") + `)\b`},
				data:    map[string][]string{"destination_port": suspiciousPorts}},
			{id: "T1090", name: "Proxy", tactics: []string{"command-and-control"}, base: 0.45, signalOnly: true,
				context: []string{`socks`, `proxy`, `tor\b`}},
			{id: "T1041", name: "Exfiltration Over C2 Channel", tactics: []string{"exfiltration"}, base: 0.45, signalOnly: true,
				context: []string{`upload`, `exfil`, `outbound.{0,20}(?:gb|large)`}},
			{id: "T1219", name: "Remote Access Software", tactics: []string{"command-and-control"}, base: 0.5, signalOnly: true,
				context: []string{anyOf(remoteAccessTools...)},
				data:    map[string][]string{"process_name": remoteAccessTools}},
		},
	},
	ArtifactDNSCache: {
		threshold: 0.3,
		candidates: []candidate{
			{id: "T1071.004", name: "DNS", tactics: []string{"command-and-control"}, base: 0.45},
			{id: "T1568", name: "Dynamic Resolution", tactics: []string{"command-and-control"}, base: 0.5, signalOnly: true,
				context: []string{anyOf(dynamicDNSDomains...)},
				data:    map[string][]string{"domain": dynamicDNSDomains}},
		},
	},
	ArtifactFirewallRules: {
		threshold: 0.4,
		candidates: []candidate{
			{id: "T1562.004", name: "Disable or Modify System Firewall", tactics: []string{"defense-evasion"}, base: 0.55,
				context: []string{`disabled`, `allow.{0,20}any`, `netsh.{0,40}firewall`}},
		},
	},
	ArtifactAntivirusDetections: {
		threshold: 0.4,
		candidates: []candidate{
			{id: "T1204.002", name: "Malicious File", tactics: []string{"execution"}, base: 0.4},
			{id: "T1003", name: "OS Credential Dumping", tactics: []string{"credential-access"}, base: 0.6, signalOnly: true,
				context: []string{anyOf(credentialDumpTools...)},
				data:    map[string][]string{"signature": credentialDumpTools, "filename": credentialDumpTools}},
			{id: "T1486", name: "Data Encrypted for Impact", tactics: []string{"impact"}, base: 0.6, signalOnly: true,
				context: []string{anyOf(ransomIndicators...)},
				data:    map[string][]string{"signature": ransomIndicators}},
		},
	},
}

// unixShellCandidates is shared by bash_history and zsh_history.
var unixShellCandidates = []candidate{
	{id: "T1059.004", name: "Unix Shell", tactics: []string{"execution"}, base: 0.9,
		context: []string{`base64\s+-d`, `\| *sh\b`, `chmod\s+\+x`, `/dev/tcp/`}},
	{id: "T1552.003", name: "Bash History", tactics: []string{"credential-access"}, base: 0.45,
		context: []string{`password`, `passwd\b`, `sshpass`, `-p\s+\S+`}},
	{id: "T1003", name: "OS Credential Dumping", tactics: []string{"credential-access"}, base: 0.6, signalOnly: true,
		context: []string{anyOf(credentialDumpTools...), `/etc/shadow`, `dump`}},
	{id: "T1105", name: "Ingress Tool Transfer", tactics: []string{"command-and-control"}, base: 0.45, signalOnly: true,
		context: []string{`curl\s+`, `wget\s+`, `scp\s+`, `ftp\s+`, `tftp\s+`}},
	{id: "T1070.003", name: "Clear Command History", tactics: []string{"defense-evasion"}, base: 0.55, signalOnly: true,
		context: []string{`history\s+-c`, `unset\s+histfile`, `histsize=0`, `shred.{0,20}history`}},
	{id: "T1548.003", name: "Sudo and Sudo Caching", tactics: []string{"privilege-escalation", "defense-evasion"}, base: 0.45, signalOnly: true,
		context: []string{`sudo\s+su\b`, `sudo\s+-i\b`, `visudo`, `nopasswd`}},
	{id: "T1053.003", name: "Cron", tactics: []string{"execution", "persistence", "privilege-escalation"}, base: 0.45, signalOnly: true,
		context: []string{`crontab\s+-e`, `crontab\s+-l`, `/etc/cron`}},
}

// patternRes caches compiled context patterns; built once at package init so
// authoring errors surface immediately.
var patternRes = map[string]*regexp.Regexp{}

func init() {
	compile := func(cands []candidate) {
		for _, cand := range cands {
			for _, p := range cand.context {
				if _, ok := patternRes[p]; !ok {
					patternRes[p] = regexp.MustCompile("(?i)" + p)
				}
			}
		}
	}
	for _, entry := range baseTable {
		compile(entry.candidates)
	}
}

// thresholdFor returns the recommended reporting threshold for an artifact
// type, DefaultThreshold for unknown types.
func thresholdFor(artifactType ArtifactType) float64 {
	if entry, ok := baseTable[artifactType]; ok {
		return entry.threshold
	}
	return DefaultThreshold
}
