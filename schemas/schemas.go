// Package schemas bundles the L1 output JSON schema set.
package schemas

import (
	"embed"
	"io/fs"
)

// RootL1 is the file name of the envelope schema within the L1 set.
const RootL1 = "l1_output.schema.json"

// Pattern matches every schema document of a set.
const Pattern = "*.schema.json"

//go:embed l1/*.schema.json
var files embed.FS

// L1 returns the bundled L1 schema set rooted at its directory.
func L1() fs.FS {
	sub, err := fs.Sub(files, "l1")
	if err != nil {
		// "l1" is a valid, embedded directory name.
		panic(err)
	}
	return sub
}
