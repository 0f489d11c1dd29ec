package resources

import "embed"

//go:embed migrations/*.sql messages/*.yml
var FS embed.FS
