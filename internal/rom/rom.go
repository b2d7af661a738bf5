// Package rom carries the built-in boot program and ROM tree.
package rom

import (
	"embed"
	"fmt"

	"github.com/p-arndt/rechenkasten/internal/vfs"
)

//go:embed all:files
var files embed.FS

// BIOSName is the file name of the boot program.
const BIOSName = "bios.sh"

// BIOS returns the embedded boot program.
func BIOS() []byte {
	data, err := files.ReadFile("files/" + BIOSName)
	if err != nil {
		panic("rom: embedded bios missing: " + err.Error())
	}
	return data
}

// Tree returns the embedded ROM as a virtual tree.
func Tree() (*vfs.Node, error) {
	return vfs.FromFS(files, "files/rom")
}

// DebugTree returns the tree mounted at "debug" when debug mounts are enabled.
func DebugTree() (*vfs.Node, error) {
	return vfs.FromFS(files, "files/debug")
}

// Register adds the "rom" and "debug" trees to t.
func Register(t *vfs.Table) error {
	romTree, err := Tree()
	if err != nil {
		return fmt.Errorf("loading rom tree: %w", err)
	}
	debugTree, err := DebugTree()
	if err != nil {
		return fmt.Errorf("loading debug tree: %w", err)
	}
	t.Register("rom", romTree)
	t.Register("debug", debugTree)
	return nil
}
