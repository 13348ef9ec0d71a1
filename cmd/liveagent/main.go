// liveagent - terminal client for live agent chat
package main

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	execute(version, commit, date)
}
