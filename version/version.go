package version

var (
	// GitCommit is the current HEAD set using ldflags.
	GitCommit string

	// Version is the built softwares version.
	Version = ACPSemVer
)

func init() {
	if GitCommit != "" {
		Version += "-" + GitCommit
	}
}

const (
	// ACPSemVer is the semantic version of the acp0 agent software.
	ACPSemVer = "0.1.0"

	// ProtocolVersion is the ACP0 wire protocol version stamped on every
	// message.
	ProtocolVersion = "0.9"
)
