package build

import "strings"

// Set at release time via ldflags.
var (
	Version = "dev"
	AppName = "Weft"
	Slug    = ""
)

func init() {
	if Slug == "" {
		Slug = strings.ToLower(AppName)
	}
}
